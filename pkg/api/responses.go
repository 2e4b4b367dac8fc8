package api

// ResolveResponse carries the routing decision and its provenance.
type ResolveResponse struct {
	Model      string `json:"model"`
	Category   string `json:"category"`
	Provenance string `json:"provenance"`

	// Experiment is present when an A/B test decided the routing.
	Experiment *ExperimentInfo `json:"experiment,omitempty"`

	// Fallback is the best available fallback id, echoed for the caller's
	// awareness when the decision came from the registry's current model.
	Fallback string `json:"fallback,omitempty"`
}

// ExperimentInfo echoes which experiment and variant were drawn.
type ExperimentInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Variant string `json:"variant"`
}

// UsageAck acknowledges one recorded telemetry event.
type UsageAck struct {
	Recorded bool    `json:"recorded"`
	Cost     float64 `json:"cost"`
	Warning  string  `json:"warning,omitempty"`
}
