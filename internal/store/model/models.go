package model

import (
	"database/sql"
	"encoding/json"
	"time"
)

// ModelRecord is a single entry in the model registry. Records are created by
// the reconciler on first sighting, mutated by the reconciler (status flags)
// and the usage aggregator (counters/health), and never physically deleted.
type ModelRecord struct {
	ID          string         `db:"id" json:"id"`
	Category    string         `db:"category" json:"category"`
	DisplayName sql.NullString `db:"display_name" json:"display_name,omitempty"`

	IsCurrent    bool         `db:"is_current" json:"is_current"`
	IsWorking    bool         `db:"is_working" json:"is_working"`
	IsDeprecated bool         `db:"is_deprecated" json:"is_deprecated"`
	DeprecatedAt sql.NullTime `db:"deprecated_at" json:"deprecated_at,omitempty"`

	// Pricing in USD per million tokens.
	InputPricePerMTok  float64 `db:"input_price_per_mtok" json:"input_price_per_mtok"`
	OutputPricePerMTok float64 `db:"output_price_per_mtok" json:"output_price_per_mtok"`

	// Lifetime counters, maintained by the usage aggregator.
	TotalCalls        int64   `db:"total_calls" json:"total_calls"`
	TotalInputTokens  int64   `db:"total_input_tokens" json:"total_input_tokens"`
	TotalOutputTokens int64   `db:"total_output_tokens" json:"total_output_tokens"`
	TotalCost         float64 `db:"total_cost" json:"total_cost"`

	// Health. ConsecutiveErrors past the streak threshold clears IsWorking;
	// the next success resets the streak and restores it.
	ConsecutiveErrors int            `db:"consecutive_errors" json:"consecutive_errors"`
	LastError         sql.NullString `db:"last_error" json:"last_error,omitempty"`
	LastErrorAt       sql.NullTime   `db:"last_error_at" json:"last_error_at,omitempty"`

	FirstSeenAt    time.Time    `db:"first_seen_at" json:"first_seen_at"`
	LastUsedAt     sql.NullTime `db:"last_used_at" json:"last_used_at,omitempty"`
	LastVerifiedAt sql.NullTime `db:"last_verified_at" json:"last_verified_at,omitempty"`
}

// UsageBucket is an hourly aggregation row keyed by (project, model, hour).
// Rows are created on the first event of a bucket and accumulated into by
// every subsequent event with the same key; once the hour has passed the row
// is never touched again.
type UsageBucket struct {
	Project    string    `db:"project" json:"project"`
	ModelID    string    `db:"model_id" json:"model_id"`
	BucketHour time.Time `db:"bucket_hour" json:"bucket_hour"`

	CallCount    int64   `db:"call_count" json:"call_count"`
	InputTokens  int64   `db:"input_tokens" json:"input_tokens"`
	OutputTokens int64   `db:"output_tokens" json:"output_tokens"`
	Cost         float64 `db:"cost" json:"cost"`

	// Response time statistics over the events that carried a sample.
	AvgResponseMS   float64       `db:"avg_response_ms" json:"avg_response_ms"`
	MinResponseMS   sql.NullInt64 `db:"min_response_ms" json:"min_response_ms,omitempty"`
	MaxResponseMS   sql.NullInt64 `db:"max_response_ms" json:"max_response_ms,omitempty"`
	ResponseSamples int64         `db:"response_samples" json:"response_samples"`

	ErrorCount int64          `db:"error_count" json:"error_count"`
	LastError  sql.NullString `db:"last_error" json:"last_error,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Override pins a category (optionally scoped to one project) to a specific
// model id. Among the unexpired overrides for a key, the most recently
// created wins; a project-scoped override outranks a global one.
type Override struct {
	ID        string         `db:"id" json:"id"`
	Category  string         `db:"category" json:"category"`
	Project   sql.NullString `db:"project" json:"project,omitempty"` // NULL applies to all projects
	ModelID   string         `db:"model_id" json:"model_id"`
	Reason    string         `db:"reason" json:"reason"`
	ExpiresAt sql.NullTime   `db:"expires_at" json:"expires_at,omitempty"`
	CreatedBy string         `db:"created_by" json:"created_by"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// Active reports whether the override is authoritative at the given instant.
func (o Override) Active(now time.Time) bool {
	return !o.ExpiresAt.Valid || o.ExpiresAt.Time.After(now)
}

// Experiment lifecycle states.
const (
	ExperimentDraft     = "draft"
	ExperimentRunning   = "running"
	ExperimentPaused    = "paused"
	ExperimentCompleted = "completed"
)

// Experiment variant tags.
const (
	VariantA = "a"
	VariantB = "b"
)

// Experiment is an A/B traffic split between two candidate models of one
// category. Targeting sets are stored as JSON arrays; NULL means
// unrestricted. Variant draws are per request with no session stickiness.
type Experiment struct {
	ID           string         `db:"id" json:"id"`
	Name         string         `db:"name" json:"name"`
	Category     string         `db:"category" json:"category"`
	ModelA       string         `db:"model_a" json:"model_a"`
	ModelB       string         `db:"model_b" json:"model_b"`
	SplitPercent int            `db:"split_percent" json:"split_percent"` // probability of variant A, 0-100
	Projects     sql.NullString `db:"projects" json:"projects,omitempty"`
	Roles        sql.NullString `db:"roles" json:"roles,omitempty"`
	Status       string         `db:"status" json:"status"`

	ACalls           int64   `db:"a_calls" json:"a_calls"`
	ACost            float64 `db:"a_cost" json:"a_cost"`
	AAvgResponseMS   float64 `db:"a_avg_response_ms" json:"a_avg_response_ms"`
	AResponseSamples int64   `db:"a_response_samples" json:"a_response_samples"`
	AErrors          int64   `db:"a_errors" json:"a_errors"`

	BCalls           int64   `db:"b_calls" json:"b_calls"`
	BCost            float64 `db:"b_cost" json:"b_cost"`
	BAvgResponseMS   float64 `db:"b_avg_response_ms" json:"b_avg_response_ms"`
	BResponseSamples int64   `db:"b_response_samples" json:"b_response_samples"`
	BErrors          int64   `db:"b_errors" json:"b_errors"`

	Winner       sql.NullString `db:"winner" json:"winner,omitempty"`
	WinnerReason sql.NullString `db:"winner_reason" json:"winner_reason,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MatchesProject reports whether the experiment targets the given project.
// An absent or empty target set is unrestricted.
func (e Experiment) MatchesProject(project string) bool {
	return matchesSet(e.Projects, project)
}

// MatchesRole reports whether the experiment targets the given role.
func (e Experiment) MatchesRole(role string) bool {
	return matchesSet(e.Roles, role)
}

func matchesSet(set sql.NullString, value string) bool {
	if !set.Valid || set.String == "" {
		return true
	}
	var members []string
	if err := json.Unmarshal([]byte(set.String), &members); err != nil {
		// Unparseable targeting never matches anyone; the operator surface
		// owns fixing the row.
		return false
	}
	if len(members) == 0 {
		return true
	}
	for _, m := range members {
		if m == value {
			return true
		}
	}
	return false
}

// ReconciliationLog is one row per reconciliation run, written
// unconditionally, including on failure.
type ReconciliationLog struct {
	ID          string         `db:"id" json:"id"`
	TriggeredBy string         `db:"triggered_by" json:"triggered_by"` // "schedule" or "manual"
	Success     bool           `db:"success" json:"success"`
	Error       sql.NullString `db:"error" json:"error,omitempty"`

	ModelsFound      int `db:"models_found" json:"models_found"`
	ModelsAdded      int `db:"models_added" json:"models_added"`
	ModelsUpdated    int `db:"models_updated" json:"models_updated"`
	ModelsDeprecated int `db:"models_deprecated" json:"models_deprecated"`

	// Changes is a JSON array of the individual change entries.
	Changes    string    `db:"changes" json:"changes"`
	DurationMS int64     `db:"duration_ms" json:"duration_ms"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
