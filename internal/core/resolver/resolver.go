package resolver

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/strata-ai/model-registry/internal/core/domain"
	"github.com/strata-ai/model-registry/internal/store"
	"github.com/strata-ai/model-registry/internal/store/model"
	"go.uber.org/zap"
)

// Provenance explains why a particular model id was returned.
type Provenance string

const (
	ProvenanceProjectOverride Provenance = "project_override"
	ProvenanceGlobalOverride  Provenance = "global_override"
	ProvenanceABTest          Provenance = "ab_test"
	ProvenanceCurrent         Provenance = "current"
	ProvenanceFallback        Provenance = "fallback"
	ProvenanceEmergency       Provenance = "emergency"
)

// Input identifies one routing request.
type Input struct {
	Category domain.Category
	Project  string
	Role     string
}

// ExperimentChoice carries the metadata echoed when an A/B test decided the
// routing.
type ExperimentChoice struct {
	ID      string
	Name    string
	Variant string
}

// Decision is the outcome of one cascade evaluation.
type Decision struct {
	ModelID    string
	Category   domain.Category
	Provenance Provenance
	Experiment *ExperimentChoice
	// Fallback is the best available fallback id, computed for the caller's
	// awareness even when a current model was chosen.
	Fallback string
}

// Snapshot is everything the cascade needs, loaded up front so the decision
// itself is a pure function (and testable without a live store).
type Snapshot struct {
	// Overrides holds the unexpired overrides for the category, newest first.
	Overrides []model.Override
	// Experiments holds the running experiments for the category, newest first.
	Experiments []model.Experiment
	// Current is the registry's current, non-deprecated record, if any.
	Current *model.ModelRecord
	// Fallback is the most recently verified working record, if any.
	Fallback *model.ModelRecord
}

// Decide walks the priority cascade over the snapshot. draw must return a
// uniform value in [0, 1); it is only consulted when an experiment matches.
func Decide(in Input, snap Snapshot, draw func() float64) Decision {
	// 1-2. Overrides: newest project-scoped match wins, then newest global.
	var global *model.Override
	for i := range snap.Overrides {
		o := snap.Overrides[i]
		if o.Project.Valid {
			if o.Project.String == in.Project && in.Project != "" {
				return Decision{ModelID: o.ModelID, Category: in.Category, Provenance: ProvenanceProjectOverride}
			}
			continue
		}
		if global == nil {
			global = &o
		}
	}
	if global != nil {
		return Decision{ModelID: global.ModelID, Category: in.Category, Provenance: ProvenanceGlobalOverride}
	}

	// 3. Most recently created running experiment whose targeting matches.
	for i := range snap.Experiments {
		e := snap.Experiments[i]
		if !e.MatchesProject(in.Project) || !e.MatchesRole(in.Role) {
			continue
		}
		chosen := e.ModelB
		variant := model.VariantB
		if draw()*100 < float64(e.SplitPercent) {
			chosen = e.ModelA
			variant = model.VariantA
		}
		return Decision{
			ModelID:    chosen,
			Category:   in.Category,
			Provenance: ProvenanceABTest,
			Experiment: &ExperimentChoice{ID: e.ID, Name: e.Name, Variant: variant},
		}
	}

	var fallbackID string
	if snap.Fallback != nil {
		fallbackID = snap.Fallback.ID
	}

	// 4. Registry's current model, with the fallback echoed for awareness.
	if snap.Current != nil {
		return Decision{
			ModelID:    snap.Current.ID,
			Category:   in.Category,
			Provenance: ProvenanceCurrent,
			Fallback:   fallbackID,
		}
	}

	// 5. Most recently verified working model.
	if snap.Fallback != nil {
		return Decision{ModelID: fallbackID, Category: in.Category, Provenance: ProvenanceFallback}
	}

	// 6. Built-in emergency mapping.
	return Emergency(in.Category)
}

// Emergency returns the hardcoded last-resort decision for a category.
func Emergency(category domain.Category) Decision {
	return Decision{
		ModelID:    domain.EmergencyModels[category],
		Category:   category,
		Provenance: ProvenanceEmergency,
	}
}

// Engine loads cascade snapshots from the store and evaluates them. It never
// fails for a valid category: any internal fault degrades to the emergency
// mapping.
type Engine struct {
	repo   store.Repository
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewEngine(repo store.Repository, logger *zap.Logger) *Engine {
	return &Engine{
		repo:   repo,
		logger: logger,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Resolve evaluates the cascade for one request. The category must already be
// validated; everything past that point degrades instead of erroring.
func (e *Engine) Resolve(ctx context.Context, in Input) Decision {
	snap, err := e.loadSnapshot(ctx, in)
	if err != nil {
		e.logger.Error("Resolution snapshot load failed, degrading to emergency model",
			zap.String("category", in.Category.String()),
			zap.Error(err),
		)
		return Emergency(in.Category)
	}

	return Decide(in, *snap, e.draw)
}

func (e *Engine) draw() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rng.Float64()
}

func (e *Engine) loadSnapshot(ctx context.Context, in Input) (*Snapshot, error) {
	now := time.Now().UTC()

	overrides, err := e.repo.Overrides().ActiveForCategory(ctx, in.Category.String(), now)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}

	experiments, err := e.repo.Experiments().Running(ctx, in.Category.String())
	if err != nil {
		return nil, fmt.Errorf("load experiments: %w", err)
	}

	current, err := e.repo.Models().Current(ctx, in.Category.String())
	if err != nil {
		return nil, fmt.Errorf("load current model: %w", err)
	}

	fallback, err := e.repo.Models().Fallback(ctx, in.Category.String())
	if err != nil {
		return nil, fmt.Errorf("load fallback model: %w", err)
	}

	return &Snapshot{
		Overrides:   overrides,
		Experiments: experiments,
		Current:     current,
		Fallback:    fallback,
	}, nil
}
