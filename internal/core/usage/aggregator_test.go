package usage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/strata-ai/model-registry/internal/core/domain"
	"github.com/strata-ai/model-registry/internal/store/model"
	"github.com/strata-ai/model-registry/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2025, 6, 1, 14, 37, 12, 0, time.UTC)

func newTestAggregator(f *storetest.Fake) *Aggregator {
	a := NewAggregator(f, zap.NewNop())
	a.now = func() time.Time { return fixedNow }
	return a
}

func seedModel(t *testing.T, f *storetest.Fake, id string, inPrice, outPrice float64) {
	t.Helper()
	require.NoError(t, f.Models().Insert(context.Background(), &model.ModelRecord{
		ID:                 id,
		Category:           "sonnet",
		IsWorking:          true,
		InputPricePerMTok:  inPrice,
		OutputPricePerMTok: outPrice,
		FirstSeenAt:        fixedNow,
	}))
}

func msPtr(v int64) *int64 { return &v }

func TestRecordComputesCostFromRegistryPricing(t *testing.T) {
	f := storetest.New()
	seedModel(t, f, "claude-sonnet-4-20250514", 3.0, 15.0)
	a := newTestAggregator(f)

	res, err := a.Record(context.Background(), Event{
		Project:      "alpha",
		ModelID:      "claude-sonnet-4-20250514",
		InputTokens:  1000,
		OutputTokens: 2000,
		Success:      true,
	})

	require.NoError(t, err)
	assert.False(t, res.UnknownModel)
	assert.InDelta(t, 0.033, res.Cost, 1e-9)

	rec, err := f.Models().Get(context.Background(), "claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.TotalCalls)
	assert.Equal(t, int64(1000), rec.TotalInputTokens)
	assert.Equal(t, int64(2000), rec.TotalOutputTokens)
	assert.InDelta(t, 0.033, rec.TotalCost, 1e-9)
	assert.True(t, rec.LastUsedAt.Valid)
}

func TestRecordUnknownModelStillLandsInBucket(t *testing.T) {
	f := storetest.New()
	a := newTestAggregator(f)

	res, err := a.Record(context.Background(), Event{
		Project:     "alpha",
		ModelID:     "claude-9-mystery",
		InputTokens: 500,
		Success:     true,
	})

	require.NoError(t, err)
	assert.True(t, res.UnknownModel)
	assert.Zero(t, res.Cost)

	hour := fixedNow.Truncate(time.Hour)
	b, err := f.Buckets().Get(context.Background(), "alpha", "claude-9-mystery", hour)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, int64(1), b.CallCount)
	assert.Zero(t, b.Cost)
}

func TestRecordBucketAccumulation(t *testing.T) {
	f := storetest.New()
	seedModel(t, f, "claude-sonnet-4-20250514", 3.0, 15.0)
	a := newTestAggregator(f)
	ctx := context.Background()

	events := []Event{
		{Project: "alpha", ModelID: "claude-sonnet-4-20250514", InputTokens: 100, OutputTokens: 100, ResponseMS: msPtr(100), Success: true},
		{Project: "alpha", ModelID: "claude-sonnet-4-20250514", InputTokens: 200, OutputTokens: 200, ResponseMS: msPtr(300), Success: false, Error: "timeout"},
		// No response sample: the mean must not move.
		{Project: "alpha", ModelID: "claude-sonnet-4-20250514", InputTokens: 50, OutputTokens: 50, Success: true},
	}
	for _, ev := range events {
		_, err := a.Record(ctx, ev)
		require.NoError(t, err)
	}

	b, err := f.Buckets().Get(ctx, "alpha", "claude-sonnet-4-20250514", fixedNow.Truncate(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, b)

	assert.Equal(t, int64(3), b.CallCount)
	assert.Equal(t, int64(350), b.InputTokens)
	assert.Equal(t, int64(350), b.OutputTokens)
	assert.Equal(t, int64(2), b.ResponseSamples)
	assert.InDelta(t, 200.0, b.AvgResponseMS, 1e-9)
	assert.Equal(t, int64(100), b.MinResponseMS.Int64)
	assert.Equal(t, int64(300), b.MaxResponseMS.Int64)
	assert.Equal(t, int64(1), b.ErrorCount)
	assert.Equal(t, "timeout", b.LastError.String)
}

func TestRecordErrorStreakClearsWorkingFlag(t *testing.T) {
	f := storetest.New()
	seedModel(t, f, "claude-sonnet-4-20250514", 3.0, 15.0)
	a := newTestAggregator(f)
	ctx := context.Background()

	fail := Event{Project: "alpha", ModelID: "claude-sonnet-4-20250514", Success: false, Error: "503"}

	for i := 0; i < domain.ErrorStreakThreshold; i++ {
		_, err := a.Record(ctx, fail)
		require.NoError(t, err)
	}
	rec, err := f.Models().Get(ctx, "claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.True(t, rec.IsWorking, "a streak at the threshold keeps the flag")

	_, err = a.Record(ctx, fail)
	require.NoError(t, err)
	rec, err = f.Models().Get(ctx, "claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.False(t, rec.IsWorking, "a streak past the threshold clears the flag")
	assert.Equal(t, domain.ErrorStreakThreshold+1, rec.ConsecutiveErrors)

	// One success resets the streak and restores the flag.
	_, err = a.Record(ctx, Event{Project: "alpha", ModelID: "claude-sonnet-4-20250514", Success: true})
	require.NoError(t, err)
	rec, err = f.Models().Get(ctx, "claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.True(t, rec.IsWorking)
	assert.Zero(t, rec.ConsecutiveErrors)
}

func TestRecordExperimentRollup(t *testing.T) {
	f := storetest.New()
	seedModel(t, f, "claude-sonnet-4-20250514", 3.0, 15.0)
	require.NoError(t, f.Experiments().Create(context.Background(), &model.Experiment{
		ID: "exp-1", Name: "rollout", Category: "sonnet",
		ModelA: "claude-sonnet-4-20250514", ModelB: "claude-3-5-sonnet-20241022",
		SplitPercent: 50, Status: model.ExperimentRunning,
		CreatedAt: fixedNow, UpdatedAt: fixedNow,
	}))
	a := newTestAggregator(f)
	ctx := context.Background()

	_, err := a.Record(ctx, Event{
		Project: "alpha", ModelID: "claude-sonnet-4-20250514",
		InputTokens: 1000, OutputTokens: 1000,
		ResponseMS: msPtr(250), Success: true,
		ExperimentID: "exp-1", Variant: model.VariantA,
	})
	require.NoError(t, err)

	exp, err := f.Experiments().Get(ctx, "exp-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), exp.ACalls)
	assert.InDelta(t, 0.018, exp.ACost, 1e-9)
	assert.InDelta(t, 250.0, exp.AAvgResponseMS, 1e-9)
	assert.Zero(t, exp.BCalls)
}

func TestRecordUnknownExperimentIsNotAnError(t *testing.T) {
	f := storetest.New()
	seedModel(t, f, "claude-sonnet-4-20250514", 3.0, 15.0)
	a := newTestAggregator(f)

	_, err := a.Record(context.Background(), Event{
		Project: "alpha", ModelID: "claude-sonnet-4-20250514", Success: true,
		ExperimentID: "gone", Variant: model.VariantB,
	})

	assert.NoError(t, err)
}

func TestRecordCollectsPartialWriteFailures(t *testing.T) {
	f := storetest.New()
	seedModel(t, f, "claude-sonnet-4-20250514", 3.0, 15.0)
	f.AccumulateErr = sql.ErrConnDone
	a := newTestAggregator(f)

	res, err := a.Record(context.Background(), Event{
		Project: "alpha", ModelID: "claude-sonnet-4-20250514", Success: true,
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	require.NotNil(t, res)

	// The registry rollup still went through.
	rec, err := f.Models().Get(context.Background(), "claude-sonnet-4-20250514")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.TotalCalls)
}
