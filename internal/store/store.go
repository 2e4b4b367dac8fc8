package store

import (
	"context"
	"time"

	"github.com/strata-ai/model-registry/internal/store/model"
)

// Repository is the main contract for the data layer.
type Repository interface {
	Models() ModelRepository
	Buckets() BucketRepository
	Overrides() OverrideRepository
	Experiments() ExperimentRepository
	ReconciliationLogs() ReconciliationLogRepository

	// transaction support
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Close() error
}

type ModelRepository interface {
	// Get returns a registry record by model id.
	Get(ctx context.Context, id string) (*model.ModelRecord, error)
	// List returns every registry record.
	List(ctx context.Context) ([]model.ModelRecord, error)
	// ListByCategory returns every record of one category.
	ListByCategory(ctx context.Context, category string) ([]model.ModelRecord, error)
	// Insert creates a new registry record.
	Insert(ctx context.Context, rec *model.ModelRecord) error
	// Deprecate marks a record deprecated and clears its current flag.
	Deprecate(ctx context.Context, id string, at time.Time) error
	// Reactivate clears the deprecation flags on a record whose id reappeared
	// upstream and refreshes its verification time.
	Reactivate(ctx context.Context, id string, at time.Time) error
	// ClearCurrent drops the current flag on every record of a category.
	ClearCurrent(ctx context.Context, category string) error
	// SetCurrent flags one record current and refreshes its verification time.
	SetCurrent(ctx context.Context, id string, verifiedAt time.Time) error
	// Current returns the non-deprecated current record for a category, or
	// nil when none exists.
	Current(ctx context.Context, category string) (*model.ModelRecord, error)
	// Fallback returns the most recently verified working, non-deprecated
	// record for a category, or nil when none exists.
	Fallback(ctx context.Context, category string) (*model.ModelRecord, error)
	// RecordSuccess folds a successful call into the lifetime counters and
	// restores the working flag. Returns false when the id is unknown.
	RecordSuccess(ctx context.Context, id string, inputTokens, outputTokens int64, cost float64, at time.Time) (bool, error)
	// RecordFailure bumps the error streak, clearing the working flag once
	// the streak exceeds the threshold. Returns false when the id is unknown.
	RecordFailure(ctx context.Context, id, errText string, at time.Time, threshold int) (bool, error)
}

// BucketDelta is one event's contribution to an hourly bucket.
type BucketDelta struct {
	Project    string
	ModelID    string
	BucketHour time.Time
	InputTokens  int64
	OutputTokens int64
	Cost         float64
	ResponseMS   *int64 // nil when the event carried no sample
	Success      bool
	ErrorText    string
	At           time.Time
}

type BucketRepository interface {
	// Accumulate merges one event into its hourly bucket as a single atomic
	// insert-or-update.
	Accumulate(ctx context.Context, delta BucketDelta) error
	// Get returns one bucket row, or nil when absent.
	Get(ctx context.Context, project, modelID string, hour time.Time) (*model.UsageBucket, error)
	// ListRange returns buckets for a project between two hours inclusive.
	ListRange(ctx context.Context, project string, from, to time.Time) ([]model.UsageBucket, error)
}

type OverrideRepository interface {
	// Create stores a new override.
	Create(ctx context.Context, o *model.Override) error
	// ActiveForCategory returns unexpired overrides for a category, newest
	// first, both project-scoped and global.
	ActiveForCategory(ctx context.Context, category string, now time.Time) ([]model.Override, error)
}

type ExperimentRepository interface {
	// Create stores a new experiment.
	Create(ctx context.Context, e *model.Experiment) error
	// Get returns one experiment by id, or nil when absent.
	Get(ctx context.Context, id string) (*model.Experiment, error)
	// Running returns running experiments for a category, newest first.
	Running(ctx context.Context, category string) ([]model.Experiment, error)
	// RecordVariant folds one event into a variant's rolling stats as a
	// single atomic update. Returns false when the id is unknown.
	RecordVariant(ctx context.Context, id, variant string, cost float64, responseMS *int64, success bool, at time.Time) (bool, error)
}

type ReconciliationLogRepository interface {
	// Append stores one run record. The audit trail is append-only.
	Append(ctx context.Context, l *model.ReconciliationLog) error
	// Recent returns the last N run records, newest first.
	Recent(ctx context.Context, limit int) ([]model.ReconciliationLog, error)
}
