package api

// ResolveRequest asks for the model id a request in the given category
// should be routed to.
type ResolveRequest struct {
	// Category must be one of the three fixed categories.
	Category string `json:"category" binding:"required"`

	// Project scopes override and experiment targeting; empty means
	// unscoped.
	Project string `json:"project,omitempty"`

	// Role further scopes experiment targeting.
	Role string `json:"role,omitempty"`
}

// UsageRequest is one completed-call telemetry event.
//
// There is no idempotency key: delivering the same event twice double-counts
// it in every rollup.
type UsageRequest struct {
	Project      string `json:"project" binding:"required"`
	Model        string `json:"model" binding:"required"`
	Endpoint     string `json:"endpoint,omitempty"`
	InputTokens  int64  `json:"input_tokens" binding:"min=0"`
	OutputTokens int64  `json:"output_tokens" binding:"min=0"`

	// ResponseMS is an optional response-time sample in milliseconds.
	ResponseMS *int64 `json:"response_ms,omitempty"`

	// Success is required so that an explicit false is distinguishable from
	// an absent field.
	Success *bool  `json:"success" binding:"required"`
	Error   string `json:"error,omitempty"`

	// Set when the routed request was part of an experiment.
	ExperimentID string `json:"experiment_id,omitempty"`
	Variant      string `json:"variant,omitempty" binding:"omitempty,oneof=a b"`
}
