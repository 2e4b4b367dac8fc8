package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/strata-ai/model-registry/internal/core/domain"
	"github.com/strata-ai/model-registry/internal/store"
	"go.uber.org/zap"
)

// Event is one completed-call telemetry record. There is no deduplication
// key: redelivery of the same event double-counts everywhere it lands. That
// is a documented property of the ingestion contract, not a bug to fix here.
type Event struct {
	Project      string
	ModelID      string
	Endpoint     string
	InputTokens  int64
	OutputTokens int64
	ResponseMS   *int64 // nil when no sample was taken
	Success      bool
	Error        string
	ExperimentID string
	Variant      string
}

// Result acknowledges one recorded event.
type Result struct {
	Cost float64
	// UnknownModel is set when the model id is absent from the registry; the
	// event is still recorded, just with no cost attribution.
	UnknownModel bool
}

// Aggregator folds telemetry events into hourly buckets, registry health
// counters, and experiment rollups.
type Aggregator struct {
	repo   store.Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewAggregator(repo store.Repository, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Record folds one event into the three rollups. The writes are independent:
// each is attempted regardless of the others, and the errors are joined.
func (a *Aggregator) Record(ctx context.Context, ev Event) (*Result, error) {
	now := a.now().UTC()
	res := &Result{}

	rec, err := a.repo.Models().Get(ctx, ev.ModelID)
	if err != nil {
		return nil, fmt.Errorf("look up model pricing: %w", err)
	}
	if rec == nil {
		res.UnknownModel = true
		a.logger.Warn("Usage event references model unknown to the registry, recording without cost",
			zap.String("model", ev.ModelID),
			zap.String("project", ev.Project),
		)
	} else {
		res.Cost = float64(ev.InputTokens)/1e6*rec.InputPricePerMTok +
			float64(ev.OutputTokens)/1e6*rec.OutputPricePerMTok
	}

	var errs []error

	if err := a.accumulateBucket(ctx, ev, res.Cost, now); err != nil {
		errs = append(errs, fmt.Errorf("bucket accumulate: %w", err))
	}

	if rec != nil {
		if err := a.rollupRegistry(ctx, ev, res.Cost, now); err != nil {
			errs = append(errs, fmt.Errorf("registry rollup: %w", err))
		}
	}

	if ev.ExperimentID != "" && ev.Variant != "" {
		if err := a.rollupExperiment(ctx, ev, res.Cost, now); err != nil {
			errs = append(errs, fmt.Errorf("experiment rollup: %w", err))
		}
	}

	if len(errs) > 0 {
		return res, errors.Join(errs...)
	}
	return res, nil
}

func (a *Aggregator) accumulateBucket(ctx context.Context, ev Event, cost float64, now time.Time) error {
	return a.repo.Buckets().Accumulate(ctx, store.BucketDelta{
		Project:      ev.Project,
		ModelID:      ev.ModelID,
		BucketHour:   now.Truncate(time.Hour),
		InputTokens:  ev.InputTokens,
		OutputTokens: ev.OutputTokens,
		Cost:         cost,
		ResponseMS:   ev.ResponseMS,
		Success:      ev.Success,
		ErrorText:    ev.Error,
		At:           now,
	})
}

func (a *Aggregator) rollupRegistry(ctx context.Context, ev Event, cost float64, now time.Time) error {
	if ev.Success {
		_, err := a.repo.Models().RecordSuccess(ctx, ev.ModelID, ev.InputTokens, ev.OutputTokens, cost, now)
		return err
	}
	_, err := a.repo.Models().RecordFailure(ctx, ev.ModelID, ev.Error, now, domain.ErrorStreakThreshold)
	return err
}

func (a *Aggregator) rollupExperiment(ctx context.Context, ev Event, cost float64, now time.Time) error {
	found, err := a.repo.Experiments().RecordVariant(ctx, ev.ExperimentID, ev.Variant, cost, ev.ResponseMS, ev.Success, now)
	if err != nil {
		return err
	}
	if !found {
		a.logger.Warn("Usage event references unknown experiment",
			zap.String("experiment", ev.ExperimentID),
			zap.String("variant", ev.Variant),
		)
	}
	return nil
}
