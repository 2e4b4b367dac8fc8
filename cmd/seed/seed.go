package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/strata-ai/model-registry/internal/core/catalog"
	"github.com/strata-ai/model-registry/internal/store/model"
	"github.com/strata-ai/model-registry/internal/store/sqlite"
	"go.uber.org/zap"
)

// Seeds a local registry with a few models, an override and a running
// experiment so the resolve endpoint has something to work with.
func main() {
	repo, err := sqlite.NewSQLiteStorage("file:registry.db?cache=shared&mode=rwc&_journal_mode=WAL&_busy_timeout=5000", zap.NewNop())
	if err != nil {
		log.Fatal(err)
	}
	defer repo.Close()

	ctx := context.Background()
	now := time.Now().UTC()

	models := []struct {
		id       string
		category string
		current  bool
	}{
		{"claude-3-5-haiku-20241022", "haiku", true},
		{"claude-sonnet-4-20250514", "sonnet", true},
		{"claude-3-5-sonnet-20241022", "sonnet", false},
		{"claude-opus-4-1-20250805", "opus", true},
	}

	for _, m := range models {
		price := catalog.PriceFor(m.id)
		rec := &model.ModelRecord{
			ID:                 m.id,
			Category:           m.category,
			IsCurrent:          m.current,
			IsWorking:          true,
			InputPricePerMTok:  price.InputPerMTok,
			OutputPricePerMTok: price.OutputPerMTok,
			FirstSeenAt:        now,
			LastVerifiedAt:     sql.NullTime{Time: now, Valid: true},
		}
		if err := repo.Models().Insert(ctx, rec); err != nil {
			log.Printf("Model might already exist: %v", err)
			continue
		}
		fmt.Printf("Created model: %s (%s)\n", m.id, m.category)
	}

	override := &model.Override{
		ID:        uuid.New().String(),
		Category:  "sonnet",
		Project:   sql.NullString{String: "demo-project", Valid: true},
		ModelID:   "claude-3-5-sonnet-20241022",
		Reason:    "demo-project pinned while its prompts are re-tuned",
		ExpiresAt: sql.NullTime{Time: now.Add(7 * 24 * time.Hour), Valid: true},
		CreatedBy: "seed",
		CreatedAt: now,
	}
	if err := repo.Overrides().Create(ctx, override); err != nil {
		log.Printf("Override might already exist: %v", err)
	} else {
		fmt.Printf("Created override: %s -> %s\n", override.Category, override.ModelID)
	}

	experiment := &model.Experiment{
		ID:           uuid.New().String(),
		Name:         "sonnet-4-rollout",
		Category:     "sonnet",
		ModelA:       "claude-sonnet-4-20250514",
		ModelB:       "claude-3-5-sonnet-20241022",
		SplitPercent: 70,
		Status:       model.ExperimentRunning,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repo.Experiments().Create(ctx, experiment); err != nil {
		log.Printf("Experiment might already exist: %v", err)
	} else {
		fmt.Printf("Created experiment: %s (%d/%d split)\n", experiment.Name, experiment.SplitPercent, 100-experiment.SplitPercent)
	}
}
