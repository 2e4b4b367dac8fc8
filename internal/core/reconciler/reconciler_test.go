package reconciler

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/strata-ai/model-registry/internal/core/catalog"
	"github.com/strata-ai/model-registry/internal/core/domain"
	"github.com/strata-ai/model-registry/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubPager struct {
	pages []*catalog.Page
	err   error
	i     int
}

func (s *stubPager) Next(_ context.Context) (*catalog.Page, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.i >= len(s.pages) {
		return nil, nil
	}
	p := s.pages[s.i]
	s.i++
	return p, nil
}

func pagerOf(items ...catalog.Item) PagerFunc {
	return func() PageIterator {
		return &stubPager{pages: []*catalog.Page{{Items: items}}}
	}
}

func item(id string, createdAt time.Time) catalog.Item {
	return catalog.Item{ID: id, DisplayName: id, CreatedAt: createdAt}
}

func newTestReconciler(f *storetest.Fake, pages PagerFunc) *Reconciler {
	return New(pages, f, NewLocalLock(), zap.NewNop())
}

func TestRunAddsModelsAndArbitratesCurrent(t *testing.T) {
	f := storetest.New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r := newTestReconciler(f, pagerOf(
		item("claude-3-5-sonnet-20241022", base),
		item("claude-sonnet-4-20250514", base.AddDate(0, 6, 0)),
		item("claude-3-5-haiku-20241022", base),
	))

	res := r.Run(context.Background(), TriggerManual)

	require.True(t, res.Success, "run error: %s", res.Error)
	assert.Equal(t, 3, res.ModelsFound)
	assert.Equal(t, 3, res.ModelsAdded)
	assert.Equal(t, 0, res.ModelsDeprecated)

	sonnet, err := f.Models().Current(context.Background(), "sonnet")
	require.NoError(t, err)
	require.NotNil(t, sonnet)
	assert.Equal(t, "claude-sonnet-4-20250514", sonnet.ID)

	haiku, err := f.Models().Current(context.Background(), "haiku")
	require.NoError(t, err)
	require.NotNil(t, haiku)
	assert.Equal(t, "claude-3-5-haiku-20241022", haiku.ID)

	rec, err := f.Models().Get(context.Background(), "claude-3-5-sonnet-20241022")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.IsWorking, "new records start working")
	assert.False(t, rec.IsCurrent)
	assert.Greater(t, rec.InputPricePerMTok, 0.0)

	require.Len(t, f.LogRows, 1)
	assert.True(t, f.LogRows[0].Success)
	assert.Equal(t, TriggerManual, f.LogRows[0].TriggeredBy)
	assert.Contains(t, f.LogRows[0].Changes, ActionCurrentChanged)
}

func TestRunIsIdempotent(t *testing.T) {
	f := storetest.New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pages := pagerOf(
		item("claude-sonnet-4-20250514", base),
		item("claude-3-5-haiku-20241022", base),
	)

	first := newTestReconciler(f, pages).Run(context.Background(), TriggerSchedule)
	require.True(t, first.Success)

	second := newTestReconciler(f, pages).Run(context.Background(), TriggerSchedule)
	require.True(t, second.Success)
	assert.Equal(t, 0, second.ModelsAdded)
	assert.Equal(t, 0, second.ModelsDeprecated)
	assert.Equal(t, 0, second.ModelsUpdated)
	assert.Empty(t, second.Changes)

	// Two runs, two log rows.
	assert.Len(t, f.LogRows, 2)
}

func TestRunDeprecatesModelsMissingUpstream(t *testing.T) {
	f := storetest.New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	seed := newTestReconciler(f, pagerOf(
		item("claude-3-5-sonnet-20241022", base),
		item("claude-sonnet-4-20250514", base.AddDate(0, 6, 0)),
	))
	require.True(t, seed.Run(context.Background(), TriggerSchedule).Success)

	// The older sonnet disappears from the next listing.
	r := newTestReconciler(f, pagerOf(item("claude-sonnet-4-20250514", base.AddDate(0, 6, 0))))
	res := r.Run(context.Background(), TriggerSchedule)

	require.True(t, res.Success)
	assert.Equal(t, 1, res.ModelsDeprecated)

	rec, err := f.Models().Get(context.Background(), "claude-3-5-sonnet-20241022")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.IsDeprecated)
	assert.False(t, rec.IsCurrent)
	assert.True(t, rec.DeprecatedAt.Valid)

	current, err := f.Models().Current(context.Background(), "sonnet")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "claude-sonnet-4-20250514", current.ID)
}

func TestRunCurrentTieBreaksOnGreatestID(t *testing.T) {
	f := storetest.New()
	created := time.Date(2025, 5, 14, 0, 0, 0, 0, time.UTC)
	r := newTestReconciler(f, pagerOf(
		item("claude-sonnet-4-aaaa", created),
		item("claude-sonnet-4-zzzz", created),
	))

	res := r.Run(context.Background(), TriggerManual)
	require.True(t, res.Success)

	current, err := f.Models().Current(context.Background(), "sonnet")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "claude-sonnet-4-zzzz", current.ID)
}

func TestRunSkipsUnrecognizableIDs(t *testing.T) {
	f := storetest.New()
	r := newTestReconciler(f, pagerOf(
		item("gpt-4o", time.Now()),
		item("claude-3-5-haiku-20241022", time.Now()),
	))

	res := r.Run(context.Background(), TriggerManual)

	require.True(t, res.Success)
	assert.Equal(t, 1, res.ModelsAdded)

	rec, err := f.Models().Get(context.Background(), "gpt-4o")
	require.NoError(t, err)
	assert.Nil(t, rec)

	var skipped bool
	for _, c := range res.Changes {
		if c.Action == ActionSkipped && c.ModelID == "gpt-4o" {
			skipped = true
		}
	}
	assert.True(t, skipped, "expected a skipped change entry")
}

func TestRunFetchFailureAbortsBeforeWrites(t *testing.T) {
	f := storetest.New()
	r := New(func() PageIterator {
		return &stubPager{err: errors.New("upstream down")}
	}, f, NewLocalLock(), zap.NewNop())

	res := r.Run(context.Background(), TriggerSchedule)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "upstream catalog fetch")
	assert.Empty(t, f.ModelRows, "a fetch failure must not touch the registry")

	// The failed run still leaves an audit row.
	require.Len(t, f.LogRows, 1)
	assert.False(t, f.LogRows[0].Success)
	assert.True(t, f.LogRows[0].Error.Valid)
}

func TestRunGatedWhenLockHeld(t *testing.T) {
	f := storetest.New()
	lock := NewLocalLock()
	held, err := lock.TryAcquire(context.Background())
	require.NoError(t, err)
	require.True(t, held)

	r := New(pagerOf(item("claude-3-5-haiku-20241022", time.Now())), f, lock, zap.NewNop())
	res := r.Run(context.Background(), TriggerManual)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "already in progress")
	assert.Empty(t, f.ModelRows)
	require.Len(t, f.LogRows, 1)
	assert.False(t, f.LogRows[0].Success)

	// After release the same reconciler runs normally.
	require.NoError(t, lock.Release(context.Background()))
	res = r.Run(context.Background(), TriggerManual)
	assert.True(t, res.Success)
}

func TestRunKeepsCurrentWhenWinnerUnchanged(t *testing.T) {
	f := storetest.New()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pages := pagerOf(item("claude-opus-4-1-20250805", base))

	require.True(t, newTestReconciler(f, pages).Run(context.Background(), TriggerSchedule).Success)
	res := newTestReconciler(f, pages).Run(context.Background(), TriggerSchedule)

	require.True(t, res.Success)
	assert.Equal(t, 0, res.ModelsUpdated)
	for _, c := range res.Changes {
		assert.NotEqual(t, ActionCurrentChanged, c.Action)
	}
}

func TestRunReactivatesReturningModel(t *testing.T) {
	f := storetest.New()
	ctx := context.Background()
	created := time.Date(2024, 10, 22, 0, 0, 0, 0, time.UTC)
	withHaiku := pagerOf(item("claude-3-5-haiku-20241022", created))
	empty := pagerOf()

	require.True(t, newTestReconciler(f, withHaiku).Run(ctx, TriggerSchedule).Success)

	// The model vanishes upstream and gets deprecated.
	require.True(t, newTestReconciler(f, empty).Run(ctx, TriggerSchedule).Success)
	rec, err := f.Models().Get(ctx, "claude-3-5-haiku-20241022")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.True(t, rec.IsDeprecated)

	// It returns: deprecation is lifted and it becomes current again.
	res := newTestReconciler(f, withHaiku).Run(ctx, TriggerSchedule)
	require.True(t, res.Success)
	assert.Equal(t, 0, res.ModelsAdded)

	actions := make(map[string]int)
	for _, c := range res.Changes {
		actions[c.Action]++
	}
	assert.Equal(t, 1, actions[ActionReactivated])
	assert.Equal(t, 1, actions[ActionCurrentChanged])

	rec, err = f.Models().Get(ctx, "claude-3-5-haiku-20241022")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.False(t, rec.IsDeprecated)
	assert.False(t, rec.DeprecatedAt.Valid)

	current, err := f.Models().Current(ctx, "haiku")
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "claude-3-5-haiku-20241022", current.ID)

	// The next run over the same listing changes nothing.
	res = newTestReconciler(f, withHaiku).Run(ctx, TriggerSchedule)
	require.True(t, res.Success)
	assert.Equal(t, 0, res.ModelsUpdated)
	assert.Empty(t, res.Changes)
}

func TestRunRandomizedSnapshotsHoldInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	f := storetest.New()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	pool := []string{
		"claude-3-5-haiku-20241022",
		"claude-3-haiku-20240307",
		"claude-3-5-sonnet-20241022",
		"claude-sonnet-4-20250514",
		"claude-opus-4-20250514",
		"claude-opus-4-1-20250805",
		"gpt-4o",
	}

	for run := 0; run < 30; run++ {
		var items []catalog.Item
		for _, id := range pool {
			if rng.Intn(2) == 0 {
				items = append(items, item(id, base.Add(time.Duration(rng.Intn(10000))*time.Hour)))
			}
		}
		pages := pagerOf(items...)

		res := newTestReconciler(f, pages).Run(ctx, TriggerSchedule)
		require.True(t, res.Success, "run %d: %s", run, res.Error)

		// At most one current per category, and never a deprecated one.
		for _, category := range domain.Categories() {
			recs, err := f.Models().ListByCategory(ctx, category.String())
			require.NoError(t, err)
			currents := 0
			for _, rec := range recs {
				if rec.IsCurrent {
					currents++
					assert.False(t, rec.IsDeprecated, "run %d: current %s is deprecated", run, rec.ID)
				}
			}
			assert.LessOrEqual(t, currents, 1, "run %d: category %s", run, category)
		}

		// Replaying the identical snapshot must mutate nothing; the only
		// permissible change entries are per-run skip observations.
		replay := newTestReconciler(f, pagerOf(items...)).Run(ctx, TriggerSchedule)
		require.True(t, replay.Success, "replay %d: %s", run, replay.Error)
		assert.Equal(t, 0, replay.ModelsAdded, "replay %d", run)
		assert.Equal(t, 0, replay.ModelsUpdated, "replay %d", run)
		assert.Equal(t, 0, replay.ModelsDeprecated, "replay %d", run)
		for _, c := range replay.Changes {
			assert.Equal(t, ActionSkipped, c.Action, "replay %d", run)
		}
	}
}

func TestRunPersistsLogOnRegistryLoadFailure(t *testing.T) {
	f := storetest.New()
	f.ListErr = errors.New("table locked")

	r := newTestReconciler(f, pagerOf(item("claude-3-5-haiku-20241022", time.Now())))
	res := r.Run(context.Background(), TriggerSchedule)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "load registry")
	require.Len(t, f.LogRows, 1)
	assert.False(t, f.LogRows[0].Success)
}
