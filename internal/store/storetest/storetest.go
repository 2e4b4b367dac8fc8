// Package storetest provides an in-memory store.Repository for unit tests.
// The accumulate arithmetic mirrors the SQL statements so aggregation tests
// can run without a database.
package storetest

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/strata-ai/model-registry/internal/store"
	"github.com/strata-ai/model-registry/internal/store/model"
)

type Fake struct {
	mu sync.Mutex

	ModelRows      map[string]*model.ModelRecord
	OverrideRows   []model.Override
	ExperimentRows map[string]*model.Experiment
	BucketRows     map[string]*model.UsageBucket
	LogRows        []model.ReconciliationLog

	// Error injection, one knob per failure point the tests exercise.
	ListErr       error
	CurrentErr    error
	OverridesErr  error
	AccumulateErr error
	AppendErr     error
}

var _ store.Repository = (*Fake)(nil)

func New() *Fake {
	return &Fake{
		ModelRows:      make(map[string]*model.ModelRecord),
		ExperimentRows: make(map[string]*model.Experiment),
		BucketRows:     make(map[string]*model.UsageBucket),
	}
}

func (f *Fake) Models() store.ModelRepository                         { return fakeModels{f} }
func (f *Fake) Buckets() store.BucketRepository                       { return fakeBuckets{f} }
func (f *Fake) Overrides() store.OverrideRepository                   { return fakeOverrides{f} }
func (f *Fake) Experiments() store.ExperimentRepository               { return fakeExperiments{f} }
func (f *Fake) ReconciliationLogs() store.ReconciliationLogRepository { return fakeLogs{f} }

func (f *Fake) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	return fn(f)
}

func (f *Fake) Close() error { return nil }

// BucketKey builds the map key for one hourly bucket.
func BucketKey(project, modelID string, hour time.Time) string {
	return fmt.Sprintf("%s|%s|%s", project, modelID, hour.UTC().Format(time.RFC3339))
}

type fakeModels struct{ f *Fake }

func (r fakeModels) Get(_ context.Context, id string) (*model.ModelRecord, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	rec, ok := r.f.ModelRows[id]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r fakeModels) List(_ context.Context) ([]model.ModelRecord, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.f.ListErr != nil {
		return nil, r.f.ListErr
	}
	ids := make([]string, 0, len(r.f.ModelRows))
	for id := range r.f.ModelRows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	recs := make([]model.ModelRecord, 0, len(ids))
	for _, id := range ids {
		recs = append(recs, *r.f.ModelRows[id])
	}
	return recs, nil
}

func (r fakeModels) ListByCategory(ctx context.Context, category string) ([]model.ModelRecord, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.ModelRecord
	for _, rec := range all {
		if rec.Category == category {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r fakeModels) Insert(_ context.Context, rec *model.ModelRecord) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, exists := r.f.ModelRows[rec.ID]; exists {
		return fmt.Errorf("model %s already exists", rec.ID)
	}
	cp := *rec
	r.f.ModelRows[rec.ID] = &cp
	return nil
}

func (r fakeModels) Deprecate(_ context.Context, id string, at time.Time) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if rec, ok := r.f.ModelRows[id]; ok {
		rec.IsDeprecated = true
		rec.DeprecatedAt = sql.NullTime{Time: at, Valid: true}
		rec.IsCurrent = false
	}
	return nil
}

func (r fakeModels) Reactivate(_ context.Context, id string, at time.Time) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if rec, ok := r.f.ModelRows[id]; ok {
		rec.IsDeprecated = false
		rec.DeprecatedAt = sql.NullTime{}
		rec.LastVerifiedAt = sql.NullTime{Time: at, Valid: true}
	}
	return nil
}

func (r fakeModels) ClearCurrent(_ context.Context, category string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, rec := range r.f.ModelRows {
		if rec.Category == category {
			rec.IsCurrent = false
		}
	}
	return nil
}

func (r fakeModels) SetCurrent(_ context.Context, id string, verifiedAt time.Time) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if rec, ok := r.f.ModelRows[id]; ok {
		rec.IsCurrent = true
		rec.LastVerifiedAt = sql.NullTime{Time: verifiedAt, Valid: true}
	}
	return nil
}

func (r fakeModels) Current(_ context.Context, category string) (*model.ModelRecord, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.f.CurrentErr != nil {
		return nil, r.f.CurrentErr
	}
	for _, rec := range r.f.ModelRows {
		if rec.Category == category && rec.IsCurrent && !rec.IsDeprecated {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (r fakeModels) Fallback(_ context.Context, category string) (*model.ModelRecord, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var best *model.ModelRecord
	for _, rec := range r.f.ModelRows {
		if rec.Category != category || !rec.IsWorking || rec.IsDeprecated {
			continue
		}
		if best == nil {
			best = rec
			continue
		}
		switch {
		case rec.LastVerifiedAt.Time.After(best.LastVerifiedAt.Time):
			best = rec
		case rec.LastVerifiedAt.Time.Equal(best.LastVerifiedAt.Time) && rec.ID > best.ID:
			best = rec
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (r fakeModels) RecordSuccess(_ context.Context, id string, inputTokens, outputTokens int64, cost float64, at time.Time) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	rec, ok := r.f.ModelRows[id]
	if !ok {
		return false, nil
	}
	rec.TotalCalls++
	rec.TotalInputTokens += inputTokens
	rec.TotalOutputTokens += outputTokens
	rec.TotalCost += cost
	rec.LastUsedAt = sql.NullTime{Time: at, Valid: true}
	rec.ConsecutiveErrors = 0
	rec.IsWorking = true
	return true, nil
}

func (r fakeModels) RecordFailure(_ context.Context, id, errText string, at time.Time, threshold int) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	rec, ok := r.f.ModelRows[id]
	if !ok {
		return false, nil
	}
	rec.ConsecutiveErrors++
	if rec.ConsecutiveErrors > threshold {
		rec.IsWorking = false
	}
	rec.LastError = sql.NullString{String: errText, Valid: true}
	rec.LastErrorAt = sql.NullTime{Time: at, Valid: true}
	rec.LastUsedAt = sql.NullTime{Time: at, Valid: true}
	return true, nil
}

type fakeBuckets struct{ f *Fake }

func (r fakeBuckets) Accumulate(_ context.Context, d store.BucketDelta) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.f.AccumulateErr != nil {
		return r.f.AccumulateErr
	}

	key := BucketKey(d.Project, d.ModelID, d.BucketHour)
	b, ok := r.f.BucketRows[key]
	if !ok {
		b = &model.UsageBucket{
			Project:    d.Project,
			ModelID:    d.ModelID,
			BucketHour: d.BucketHour,
			CreatedAt:  d.At,
		}
		r.f.BucketRows[key] = b
	}

	b.CallCount++
	b.InputTokens += d.InputTokens
	b.OutputTokens += d.OutputTokens
	b.Cost += d.Cost
	if d.ResponseMS != nil {
		ms := *d.ResponseMS
		b.AvgResponseMS = (b.AvgResponseMS*float64(b.ResponseSamples) + float64(ms)) / float64(b.ResponseSamples+1)
		b.ResponseSamples++
		if !b.MinResponseMS.Valid || ms < b.MinResponseMS.Int64 {
			b.MinResponseMS = sql.NullInt64{Int64: ms, Valid: true}
		}
		if !b.MaxResponseMS.Valid || ms > b.MaxResponseMS.Int64 {
			b.MaxResponseMS = sql.NullInt64{Int64: ms, Valid: true}
		}
	}
	if !d.Success {
		b.ErrorCount++
	}
	if d.ErrorText != "" {
		b.LastError = sql.NullString{String: d.ErrorText, Valid: true}
	}
	b.UpdatedAt = d.At
	return nil
}

func (r fakeBuckets) Get(_ context.Context, project, modelID string, hour time.Time) (*model.UsageBucket, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	b, ok := r.f.BucketRows[BucketKey(project, modelID, hour)]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (r fakeBuckets) ListRange(_ context.Context, project string, from, to time.Time) ([]model.UsageBucket, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []model.UsageBucket
	for _, b := range r.f.BucketRows {
		if b.Project == project && !b.BucketHour.Before(from) && !b.BucketHour.After(to) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketHour.Before(out[j].BucketHour) })
	return out, nil
}

type fakeOverrides struct{ f *Fake }

func (r fakeOverrides) Create(_ context.Context, o *model.Override) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	r.f.OverrideRows = append(r.f.OverrideRows, *o)
	return nil
}

func (r fakeOverrides) ActiveForCategory(_ context.Context, category string, now time.Time) ([]model.Override, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.f.OverridesErr != nil {
		return nil, r.f.OverridesErr
	}
	var out []model.Override
	for _, o := range r.f.OverrideRows {
		if o.Category == category && o.Active(now) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type fakeExperiments struct{ f *Fake }

func (r fakeExperiments) Create(_ context.Context, e *model.Experiment) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *e
	r.f.ExperimentRows[e.ID] = &cp
	return nil
}

func (r fakeExperiments) Get(_ context.Context, id string) (*model.Experiment, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	e, ok := r.f.ExperimentRows[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (r fakeExperiments) Running(_ context.Context, category string) ([]model.Experiment, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []model.Experiment
	for _, e := range r.f.ExperimentRows {
		if e.Category == category && e.Status == model.ExperimentRunning {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r fakeExperiments) RecordVariant(_ context.Context, id, variant string, cost float64, responseMS *int64, success bool, at time.Time) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	e, ok := r.f.ExperimentRows[id]
	if !ok {
		return false, nil
	}

	calls, costAcc, avg, samples, errs := &e.ACalls, &e.ACost, &e.AAvgResponseMS, &e.AResponseSamples, &e.AErrors
	if variant == model.VariantB {
		calls, costAcc, avg, samples, errs = &e.BCalls, &e.BCost, &e.BAvgResponseMS, &e.BResponseSamples, &e.BErrors
	}

	*calls++
	*costAcc += cost
	if responseMS != nil {
		*avg = (*avg*float64(*samples) + float64(*responseMS)) / float64(*samples+1)
		*samples++
	}
	if !success {
		*errs++
	}
	e.UpdatedAt = at
	return true, nil
}

type fakeLogs struct{ f *Fake }

func (r fakeLogs) Append(_ context.Context, l *model.ReconciliationLog) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if r.f.AppendErr != nil {
		return r.f.AppendErr
	}
	r.f.LogRows = append(r.f.LogRows, *l)
	return nil
}

func (r fakeLogs) Recent(_ context.Context, limit int) ([]model.ReconciliationLog, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	out := make([]model.ReconciliationLog, len(r.f.LogRows))
	copy(out, r.f.LogRows)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
