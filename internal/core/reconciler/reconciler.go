package reconciler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/strata-ai/model-registry/internal/core/catalog"
	"github.com/strata-ai/model-registry/internal/core/domain"
	"github.com/strata-ai/model-registry/internal/store"
	"github.com/strata-ai/model-registry/internal/store/model"
	"go.uber.org/zap"
)

// Trigger sources recorded on every run.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Change actions recorded in the run's structured change list.
const (
	ActionAdded          = "added"
	ActionReactivated    = "reactivated"
	ActionDeprecated     = "deprecated"
	ActionCurrentChanged = "current_changed"
	ActionSkipped        = "skipped"
)

// Change is one entry in a run's structured change list.
type Change struct {
	Action   string `json:"action"`
	ModelID  string `json:"model_id"`
	Category string `json:"category,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Result is the terminal payload of a reconciliation run. Runs never
// propagate an error to the caller; the invoking scheduler must not retry.
type Result struct {
	Success          bool     `json:"success"`
	Error            string   `json:"error,omitempty"`
	TriggeredBy      string   `json:"triggered_by"`
	ModelsFound      int      `json:"models_found"`
	ModelsAdded      int      `json:"models_added"`
	ModelsUpdated    int      `json:"models_updated"`
	ModelsDeprecated int      `json:"models_deprecated"`
	Changes          []Change `json:"changes"`
	DurationMS       int64    `json:"duration_ms"`
}

// PageIterator yields upstream catalog pages lazily.
type PageIterator interface {
	Next(ctx context.Context) (*catalog.Page, error)
}

// PagerFunc produces a fresh page iterator per run; tests can stub the
// upstream without an HTTP server.
type PagerFunc func() PageIterator

// Reconciler diffs the upstream catalog against the registry and arbitrates
// the current model per category.
type Reconciler struct {
	pages  PagerFunc
	repo   store.Repository
	lock   RunLock
	logger *zap.Logger
	now    func() time.Time
}

func New(pages PagerFunc, repo store.Repository, lock RunLock, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		pages:  pages,
		repo:   repo,
		lock:   lock,
		logger: logger,
		now:    time.Now,
	}
}

// Run executes one reconciliation. It always terminates with a persisted log
// row and a result carrying a success flag, never an error.
func (r *Reconciler) Run(ctx context.Context, trigger string) *Result {
	start := r.now()
	res := &Result{TriggeredBy: trigger, Changes: []Change{}}

	ok, err := r.lock.TryAcquire(ctx)
	if err != nil {
		res.Error = fmt.Sprintf("run lock unavailable: %v", err)
		r.finish(ctx, res, start)
		return res
	}
	if !ok {
		res.Error = "another reconciliation is already in progress"
		r.finish(ctx, res, start)
		return res
	}
	defer func() {
		if err := r.lock.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("Failed to release reconciliation lock", zap.Error(err))
		}
	}()

	// Fetch the upstream catalog to exhaustion before touching the registry;
	// a fetch failure must abort with zero writes.
	upstream, err := r.fetchCatalog(ctx)
	if err != nil {
		res.Error = err.Error()
		r.finish(ctx, res, start)
		return res
	}
	res.ModelsFound = len(upstream)

	registry, err := r.repo.Models().List(ctx)
	if err != nil {
		res.Error = fmt.Sprintf("load registry: %v", err)
		r.finish(ctx, res, start)
		return res
	}

	known := make(map[string]model.ModelRecord, len(registry))
	for _, rec := range registry {
		known[rec.ID] = rec
	}

	if err := r.addNewModels(ctx, upstream, known, res); err != nil {
		res.Error = err.Error()
		r.finish(ctx, res, start)
		return res
	}

	if err := r.reactivateReturning(ctx, upstream, known, res); err != nil {
		res.Error = err.Error()
		r.finish(ctx, res, start)
		return res
	}

	if err := r.deprecateMissing(ctx, upstream, registry, res); err != nil {
		res.Error = err.Error()
		r.finish(ctx, res, start)
		return res
	}

	if err := r.arbitrateCurrent(ctx, upstream, res); err != nil {
		res.Error = err.Error()
		r.finish(ctx, res, start)
		return res
	}

	res.Success = true
	r.finish(ctx, res, start)
	return res
}

func (r *Reconciler) fetchCatalog(ctx context.Context) (map[string]catalog.Item, error) {
	items := make(map[string]catalog.Item)
	pager := r.pages()
	for {
		page, err := pager.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("upstream catalog fetch: %w", err)
		}
		if page == nil {
			return items, nil
		}
		for _, item := range page.Items {
			items[item.ID] = item
		}
	}
}

func (r *Reconciler) addNewModels(ctx context.Context, upstream map[string]catalog.Item, known map[string]model.ModelRecord, res *Result) error {
	// Deterministic order keeps runs reproducible and the change list stable.
	ids := sortedKeys(upstream)
	now := r.now().UTC()

	for _, id := range ids {
		if _, exists := known[id]; exists {
			continue
		}
		category, ok := domain.CategoryFromModelID(id)
		if !ok {
			// Not a failure of the run; the item just has no recognizable
			// category.
			r.logger.Warn("Skipping upstream model with unresolvable category", zap.String("model", id))
			res.Changes = append(res.Changes, Change{Action: ActionSkipped, ModelID: id, Detail: "no recognizable category"})
			continue
		}

		item := upstream[id]
		price := catalog.PriceFor(id)
		rec := &model.ModelRecord{
			ID:                 id,
			Category:           category.String(),
			DisplayName:        sql.NullString{String: item.DisplayName, Valid: item.DisplayName != ""},
			IsWorking:          true, // optimistic until usage says otherwise
			InputPricePerMTok:  price.InputPerMTok,
			OutputPricePerMTok: price.OutputPerMTok,
			FirstSeenAt:        now,
			LastVerifiedAt:     sql.NullTime{Time: now, Valid: true},
		}
		if err := r.repo.Models().Insert(ctx, rec); err != nil {
			return fmt.Errorf("insert model %s: %w", id, err)
		}
		res.ModelsAdded++
		res.Changes = append(res.Changes, Change{Action: ActionAdded, ModelID: id, Category: category.String()})
	}
	return nil
}

// reactivateReturning clears deprecation on registry records whose ids are
// back in the upstream listing. Without this a vanish-then-return sequence
// leaves the record permanently deprecated while arbitration keeps selecting
// it, so the registry can never serve it as current again.
func (r *Reconciler) reactivateReturning(ctx context.Context, upstream map[string]catalog.Item, known map[string]model.ModelRecord, res *Result) error {
	now := r.now().UTC()
	for _, id := range sortedKeys(upstream) {
		rec, exists := known[id]
		if !exists || !rec.IsDeprecated {
			continue
		}
		if err := r.repo.Models().Reactivate(ctx, id, now); err != nil {
			return fmt.Errorf("reactivate model %s: %w", id, err)
		}
		res.ModelsUpdated++
		res.Changes = append(res.Changes, Change{Action: ActionReactivated, ModelID: id, Category: rec.Category})
	}
	return nil
}

func (r *Reconciler) deprecateMissing(ctx context.Context, upstream map[string]catalog.Item, registry []model.ModelRecord, res *Result) error {
	now := r.now().UTC()
	for _, rec := range registry {
		if rec.IsDeprecated {
			continue
		}
		if _, present := upstream[rec.ID]; present {
			continue
		}
		if err := r.repo.Models().Deprecate(ctx, rec.ID, now); err != nil {
			return fmt.Errorf("deprecate model %s: %w", rec.ID, err)
		}
		res.ModelsDeprecated++
		res.Changes = append(res.Changes, Change{Action: ActionDeprecated, ModelID: rec.ID, Category: rec.Category})
	}
	return nil
}

// arbitrateCurrent selects, per category, the upstream item with the maximum
// creation time (ties broken by lexicographically greatest id) and makes it
// the registry's single current record via an atomic clear-then-set.
func (r *Reconciler) arbitrateCurrent(ctx context.Context, upstream map[string]catalog.Item, res *Result) error {
	for _, category := range domain.Categories() {
		selected, ok := selectCurrent(upstream, category)
		if !ok {
			continue
		}

		existing, err := r.repo.Models().Current(ctx, category.String())
		if err != nil {
			return fmt.Errorf("load current model for %s: %w", category, err)
		}
		if existing != nil && existing.ID == selected {
			continue
		}

		now := r.now().UTC()
		err = r.repo.WithTx(ctx, func(repo store.Repository) error {
			if err := repo.Models().ClearCurrent(ctx, category.String()); err != nil {
				return err
			}
			return repo.Models().SetCurrent(ctx, selected, now)
		})
		if err != nil {
			return fmt.Errorf("set current model for %s: %w", category, err)
		}

		previous := ""
		if existing != nil {
			previous = existing.ID
		}
		res.ModelsUpdated++
		res.Changes = append(res.Changes, Change{
			Action:   ActionCurrentChanged,
			ModelID:  selected,
			Category: category.String(),
			Detail:   fmt.Sprintf("previous=%s", previous),
		})
	}
	return nil
}

// selectCurrent picks the arbitration winner among all upstream items
// resolvable to the category.
func selectCurrent(upstream map[string]catalog.Item, category domain.Category) (string, bool) {
	var (
		winner string
		best   time.Time
		found  bool
	)
	for _, id := range sortedKeys(upstream) {
		c, ok := domain.CategoryFromModelID(id)
		if !ok || c != category {
			continue
		}
		item := upstream[id]
		switch {
		case !found, item.CreatedAt.After(best):
			winner, best, found = id, item.CreatedAt, true
		case item.CreatedAt.Equal(best) && id > winner:
			winner = id
		}
	}
	return winner, found
}

func (r *Reconciler) finish(ctx context.Context, res *Result, start time.Time) {
	res.DurationMS = r.now().Sub(start).Milliseconds()

	changes, err := json.Marshal(res.Changes)
	if err != nil {
		changes = []byte("[]")
	}

	row := &model.ReconciliationLog{
		ID:               uuid.New().String(),
		TriggeredBy:      res.TriggeredBy,
		Success:          res.Success,
		Error:            sql.NullString{String: res.Error, Valid: res.Error != ""},
		ModelsFound:      res.ModelsFound,
		ModelsAdded:      res.ModelsAdded,
		ModelsUpdated:    res.ModelsUpdated,
		ModelsDeprecated: res.ModelsDeprecated,
		Changes:          string(changes),
		DurationMS:       res.DurationMS,
		CreatedAt:        r.now().UTC(),
	}

	// The log row is written even when the run itself failed; losing it is
	// worth a log line but must not fail the run.
	if err := r.repo.ReconciliationLogs().Append(context.WithoutCancel(ctx), row); err != nil {
		r.logger.Error("Failed to persist reconciliation log", zap.Error(err))
	}

	if res.Success {
		r.logger.Info("Reconciliation complete",
			zap.String("trigger", res.TriggeredBy),
			zap.Int("found", res.ModelsFound),
			zap.Int("added", res.ModelsAdded),
			zap.Int("updated", res.ModelsUpdated),
			zap.Int("deprecated", res.ModelsDeprecated),
			zap.Int64("duration_ms", res.DurationMS),
		)
	} else {
		r.logger.Error("Reconciliation failed",
			zap.String("trigger", res.TriggeredBy),
			zap.String("error", res.Error),
			zap.Int64("duration_ms", res.DurationMS),
		)
	}
}

func sortedKeys(m map[string]catalog.Item) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
