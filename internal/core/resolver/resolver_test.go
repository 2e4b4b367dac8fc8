package resolver

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/strata-ai/model-registry/internal/core/domain"
	"github.com/strata-ai/model-registry/internal/store/model"
	"github.com/strata-ai/model-registry/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fixedDraw(v float64) func() float64 {
	return func() float64 { return v }
}

func globalOverride(modelID string, createdAt time.Time) model.Override {
	return model.Override{ID: modelID + "-ovr", Category: "sonnet", ModelID: modelID, CreatedAt: createdAt}
}

func projectOverride(modelID, project string, createdAt time.Time) model.Override {
	o := globalOverride(modelID, createdAt)
	o.Project = sql.NullString{String: project, Valid: true}
	return o
}

func record(id string, verifiedAt time.Time) *model.ModelRecord {
	return &model.ModelRecord{
		ID:             id,
		Category:       "sonnet",
		IsWorking:      true,
		LastVerifiedAt: sql.NullTime{Time: verifiedAt, Valid: true},
	}
}

func TestDecideProjectOverrideOutranksNewerGlobal(t *testing.T) {
	now := time.Now().UTC()
	snap := Snapshot{
		// Newest first: the global override was created after the
		// project-scoped one, and still loses for that project.
		Overrides: []model.Override{
			globalOverride("model-global", now),
			projectOverride("model-project", "alpha", now.Add(-time.Hour)),
		},
	}

	d := Decide(Input{Category: domain.CategorySonnet, Project: "alpha"}, snap, fixedDraw(0))

	assert.Equal(t, "model-project", d.ModelID)
	assert.Equal(t, ProvenanceProjectOverride, d.Provenance)
}

func TestDecideGlobalOverrideWhenProjectDoesNotMatch(t *testing.T) {
	now := time.Now().UTC()
	snap := Snapshot{
		Overrides: []model.Override{
			projectOverride("model-project", "beta", now),
			globalOverride("model-global", now.Add(-time.Hour)),
		},
	}

	d := Decide(Input{Category: domain.CategorySonnet, Project: "alpha"}, snap, fixedDraw(0))

	assert.Equal(t, "model-global", d.ModelID)
	assert.Equal(t, ProvenanceGlobalOverride, d.Provenance)
}

func TestDecideNewestGlobalOverrideWins(t *testing.T) {
	now := time.Now().UTC()
	snap := Snapshot{
		Overrides: []model.Override{
			globalOverride("model-new", now),
			globalOverride("model-old", now.Add(-time.Hour)),
		},
	}

	d := Decide(Input{Category: domain.CategorySonnet}, snap, fixedDraw(0))

	assert.Equal(t, "model-new", d.ModelID)
	assert.Equal(t, ProvenanceGlobalOverride, d.Provenance)
}

func TestDecideOverrideOutranksExperimentAndCurrent(t *testing.T) {
	now := time.Now().UTC()
	snap := Snapshot{
		Overrides: []model.Override{globalOverride("model-pinned", now)},
		Experiments: []model.Experiment{{
			ID: "exp-1", Category: "sonnet", ModelA: "a-model", ModelB: "b-model",
			SplitPercent: 100, Status: model.ExperimentRunning, CreatedAt: now,
		}},
		Current: record("model-current", now),
	}

	d := Decide(Input{Category: domain.CategorySonnet}, snap, fixedDraw(0))

	assert.Equal(t, "model-pinned", d.ModelID)
	assert.Equal(t, ProvenanceGlobalOverride, d.Provenance)
	assert.Nil(t, d.Experiment)
}

func TestDecideExperimentSplit(t *testing.T) {
	now := time.Now().UTC()
	exp := model.Experiment{
		ID: "exp-1", Name: "rollout", Category: "sonnet",
		ModelA: "a-model", ModelB: "b-model",
		SplitPercent: 70, Status: model.ExperimentRunning, CreatedAt: now,
	}
	snap := Snapshot{Experiments: []model.Experiment{exp}}
	in := Input{Category: domain.CategorySonnet}

	// draw*100 strictly below the split lands on variant A.
	d := Decide(in, snap, fixedDraw(0.699))
	require.NotNil(t, d.Experiment)
	assert.Equal(t, "a-model", d.ModelID)
	assert.Equal(t, model.VariantA, d.Experiment.Variant)

	d = Decide(in, snap, fixedDraw(0.70))
	require.NotNil(t, d.Experiment)
	assert.Equal(t, "b-model", d.ModelID)
	assert.Equal(t, model.VariantB, d.Experiment.Variant)

	assert.Equal(t, ProvenanceABTest, d.Provenance)
	assert.Equal(t, "exp-1", d.Experiment.ID)
	assert.Equal(t, "rollout", d.Experiment.Name)
}

func TestDecideExperimentTargeting(t *testing.T) {
	now := time.Now().UTC()
	exp := model.Experiment{
		ID: "exp-1", Category: "sonnet",
		ModelA: "a-model", ModelB: "b-model",
		SplitPercent: 100, Status: model.ExperimentRunning,
		Projects:  sql.NullString{String: `["beta"]`, Valid: true},
		CreatedAt: now,
	}
	snap := Snapshot{
		Experiments: []model.Experiment{exp},
		Current:     record("model-current", now),
	}

	d := Decide(Input{Category: domain.CategorySonnet, Project: "alpha"}, snap, fixedDraw(0))
	assert.Equal(t, ProvenanceCurrent, d.Provenance, "non-targeted project must skip the experiment")

	d = Decide(Input{Category: domain.CategorySonnet, Project: "beta"}, snap, fixedDraw(0))
	assert.Equal(t, ProvenanceABTest, d.Provenance)
}

func TestDecideCurrentEchoesFallback(t *testing.T) {
	now := time.Now().UTC()
	snap := Snapshot{
		Current:  record("model-current", now),
		Fallback: record("model-fallback", now.Add(-time.Hour)),
	}

	d := Decide(Input{Category: domain.CategorySonnet}, snap, fixedDraw(0))

	assert.Equal(t, "model-current", d.ModelID)
	assert.Equal(t, ProvenanceCurrent, d.Provenance)
	assert.Equal(t, "model-fallback", d.Fallback)
}

func TestDecideFallbackWhenNoCurrent(t *testing.T) {
	now := time.Now().UTC()
	snap := Snapshot{Fallback: record("model-fallback", now)}

	d := Decide(Input{Category: domain.CategorySonnet}, snap, fixedDraw(0))

	assert.Equal(t, "model-fallback", d.ModelID)
	assert.Equal(t, ProvenanceFallback, d.Provenance)
}

func TestDecideEmergencyOnEmptySnapshot(t *testing.T) {
	for _, category := range domain.Categories() {
		d := Decide(Input{Category: category}, Snapshot{}, fixedDraw(0))

		assert.Equal(t, ProvenanceEmergency, d.Provenance)
		assert.Equal(t, domain.EmergencyModels[category], d.ModelID)
		assert.NotEmpty(t, d.ModelID)
	}
}

func TestEngineResolveFromStore(t *testing.T) {
	f := storetest.New()
	now := time.Now().UTC()
	require.NoError(t, f.Models().Insert(context.Background(), &model.ModelRecord{
		ID: "claude-sonnet-4-20250514", Category: "sonnet",
		IsCurrent: true, IsWorking: true,
		FirstSeenAt:    now,
		LastVerifiedAt: sql.NullTime{Time: now, Valid: true},
	}))

	engine := NewEngine(f, zap.NewNop())
	d := engine.Resolve(context.Background(), Input{Category: domain.CategorySonnet, Project: "alpha"})

	assert.Equal(t, "claude-sonnet-4-20250514", d.ModelID)
	assert.Equal(t, ProvenanceCurrent, d.Provenance)
}

func TestEngineDegradesToEmergencyOnStoreError(t *testing.T) {
	f := storetest.New()
	f.OverridesErr = errors.New("disk on fire")

	engine := NewEngine(f, zap.NewNop())
	d := engine.Resolve(context.Background(), Input{Category: domain.CategoryOpus})

	assert.Equal(t, ProvenanceEmergency, d.Provenance)
	assert.Equal(t, domain.EmergencyModels[domain.CategoryOpus], d.ModelID)
}
