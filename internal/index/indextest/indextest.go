// Package indextest holds the behaviour every index.Index implementation must satisfy.
package indextest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/index"
)

// Factory returns a fresh, empty index for one subtest.
type Factory func(t *testing.T) index.Index

var base = time.Date(2025, time.June, 3, 10, 0, 0, 0, time.UTC)

func event(id, tenant, typ, user string, offset time.Duration, props map[string]any) domain.Event {
	return domain.Event{
		ID:         id,
		TenantID:   tenant,
		Type:       typ,
		UserID:     user,
		Properties: props,
		Timestamp:  base.Add(offset),
		CreatedAt:  base.Add(offset),
	}
}

func seed(t *testing.T, idx index.Index) {
	t.Helper()
	err := idx.IndexEvents(context.Background(), []domain.Event{
		event("a1", "acme", "page_view", "u1", 0, map[string]any{"path": "/home"}),
		event("a2", "acme", "page_view", "u2", 5*time.Minute, map[string]any{"path": "/pricing"}),
		event("a3", "acme", "signup", "u2", 70*time.Minute, map[string]any{"plan": "pro", "seats": float64(3)}),
		event("a4", "acme", "purchase", "", 26*time.Hour, map[string]any{"billing": map[string]any{"currency": "EUR"}}),
		event("g1", "globex", "page_view", "u1", 0, nil),
	})
	require.NoError(t, err)
}

// Run exercises the full index contract against implementations produced by newIndex.
func Run(t *testing.T, newIndex Factory) {
	ctx := context.Background()

	t.Run("SearchIsolatesTenantsAndOrdersNewestFirst", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx)

		res, err := idx.Search(ctx, "acme", index.SearchQuery{})
		require.NoError(t, err)
		assert.EqualValues(t, 4, res.Total)
		ids := make([]string, 0, len(res.Events))
		for _, e := range res.Events {
			assert.Equal(t, "acme", e.TenantID)
			ids = append(ids, e.ID)
		}
		assert.Equal(t, []string{"a4", "a3", "a2", "a1"}, ids)

		res, err = idx.Search(ctx, "globex", index.SearchQuery{})
		require.NoError(t, err)
		require.Len(t, res.Events, 1)
		assert.Equal(t, "g1", res.Events[0].ID)

		res, err = idx.Search(ctx, "nobody", index.SearchQuery{})
		require.NoError(t, err)
		assert.Zero(t, res.Total)
		assert.Empty(t, res.Events)
	})

	t.Run("SearchFilters", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx)

		res, err := idx.Search(ctx, "acme", index.SearchQuery{Type: "page_view"})
		require.NoError(t, err)
		assert.EqualValues(t, 2, res.Total)

		res, err = idx.Search(ctx, "acme", index.SearchQuery{UserID: "u2"})
		require.NoError(t, err)
		assert.EqualValues(t, 2, res.Total)

		res, err = idx.Search(ctx, "acme", index.SearchQuery{Properties: map[string]string{"plan": "pro", "seats": "3"}})
		require.NoError(t, err)
		require.Len(t, res.Events, 1)
		assert.Equal(t, "a3", res.Events[0].ID)
		assert.Equal(t, "pro", res.Events[0].Properties["plan"])

		res, err = idx.Search(ctx, "acme", index.SearchQuery{Properties: map[string]string{"billing.currency": "EUR"}})
		require.NoError(t, err)
		require.Len(t, res.Events, 1)
		assert.Equal(t, "a4", res.Events[0].ID)

		res, err = idx.Search(ctx, "acme", index.SearchQuery{Properties: map[string]string{"plan": "free"}})
		require.NoError(t, err)
		assert.Zero(t, res.Total)
	})

	t.Run("SearchRangeIsInclusiveAndPaginates", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx)

		res, err := idx.Search(ctx, "acme", index.SearchQuery{
			Range: index.TimeRange{Start: base, End: base.Add(70 * time.Minute)},
		})
		require.NoError(t, err)
		assert.EqualValues(t, 3, res.Total)
		require.NotEmpty(t, res.Events)
		assert.True(t, res.Events[0].Timestamp.Equal(base.Add(70*time.Minute)))

		res, err = idx.Search(ctx, "acme", index.SearchQuery{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.EqualValues(t, 4, res.Total)
		require.Len(t, res.Events, 2)
		assert.Equal(t, "a3", res.Events[0].ID)
		assert.Equal(t, "a2", res.Events[1].ID)

		res, err = idx.Search(ctx, "acme", index.SearchQuery{Limit: 2, Offset: 10})
		require.NoError(t, err)
		assert.EqualValues(t, 4, res.Total)
		assert.Empty(t, res.Events)
	})

	t.Run("AggregateCountsHistogramAndTerms", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx)

		res, err := idx.Aggregate(ctx, "acme", index.AggregateQuery{
			Range:    index.TimeRange{Start: base, End: base.Add(48 * time.Hour)},
			Interval: index.IntervalHour,
			TopN:     2,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 4, res.Total)
		assert.EqualValues(t, 2, res.UniqueUsers)

		require.Len(t, res.Buckets, 3)
		assert.True(t, res.Buckets[0].Start.Equal(base))
		assert.EqualValues(t, 2, res.Buckets[0].Count)
		assert.True(t, res.Buckets[1].Start.Equal(base.Add(time.Hour)))
		assert.EqualValues(t, 1, res.Buckets[1].Count)
		assert.True(t, res.Buckets[2].Start.Equal(base.Add(26*time.Hour)))

		require.Len(t, res.Terms, 2)
		assert.Equal(t, index.TermCount{Term: "page_view", Count: 2}, res.Terms[0])
		// ties rank alphabetically
		assert.Equal(t, index.TermCount{Term: "purchase", Count: 1}, res.Terms[1])
	})

	t.Run("AggregateByType", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx)

		res, err := idx.Aggregate(ctx, "acme", index.AggregateQuery{Type: "page_view", Interval: index.IntervalDay})
		require.NoError(t, err)
		assert.EqualValues(t, 2, res.Total)
		require.Len(t, res.Buckets, 1)
		assert.True(t, res.Buckets[0].Start.Equal(time.Date(2025, time.June, 3, 0, 0, 0, 0, time.UTC)))
		assert.Empty(t, res.Terms)
	})

	t.Run("HistogramFloorsEventsBeforeEpoch", func(t *testing.T) {
		idx := newIndex(t)
		early := time.Date(1969, time.December, 31, 10, 30, 0, 0, time.UTC)
		late := time.Date(1970, time.January, 1, 0, 15, 0, 0, time.UTC)
		err := idx.IndexEvents(ctx, []domain.Event{
			{ID: "p1", TenantID: "acme", Type: "legacy", Timestamp: early, CreatedAt: base},
			{ID: "p2", TenantID: "acme", Type: "legacy", Timestamp: early.Add(20 * time.Minute), CreatedAt: base},
			{ID: "p3", TenantID: "acme", Type: "legacy", Timestamp: late, CreatedAt: base},
		})
		require.NoError(t, err)

		res, err := idx.Aggregate(ctx, "acme", index.AggregateQuery{Interval: index.IntervalHour})
		require.NoError(t, err)
		require.Len(t, res.Buckets, 2)
		assert.True(t, res.Buckets[0].Start.Equal(index.IntervalHour.Floor(early)), "got %v", res.Buckets[0].Start)
		assert.True(t, res.Buckets[0].Start.Equal(time.Date(1969, time.December, 31, 10, 0, 0, 0, time.UTC)))
		assert.EqualValues(t, 2, res.Buckets[0].Count)
		assert.True(t, res.Buckets[1].Start.Equal(time.Unix(0, 0)))
		assert.EqualValues(t, 1, res.Buckets[1].Count)
	})

	t.Run("IndexEventsUpsertsById", func(t *testing.T) {
		idx := newIndex(t)
		seed(t, idx)

		moved := event("a1", "acme", "page_view", "u9", 3*time.Hour, map[string]any{"path": "/docs"})
		require.NoError(t, idx.IndexEvents(ctx, []domain.Event{moved}))

		res, err := idx.Search(ctx, "acme", index.SearchQuery{})
		require.NoError(t, err)
		assert.EqualValues(t, 4, res.Total)

		res, err = idx.Search(ctx, "acme", index.SearchQuery{Properties: map[string]string{"path": "/home"}})
		require.NoError(t, err)
		assert.Zero(t, res.Total)

		res, err = idx.Search(ctx, "acme", index.SearchQuery{UserID: "u9"})
		require.NoError(t, err)
		require.Len(t, res.Events, 1)
		assert.True(t, res.Events[0].Timestamp.Equal(base.Add(3*time.Hour)))
	})

	t.Run("ClosedIndexRejectsCalls", func(t *testing.T) {
		idx := newIndex(t)
		require.NoError(t, idx.Ping(ctx))
		require.NoError(t, idx.Close())

		assert.ErrorIs(t, idx.Ping(ctx), index.ErrClosed)
		_, err := idx.Search(ctx, "acme", index.SearchQuery{})
		assert.ErrorIs(t, err, index.ErrClosed)
		_, err = idx.Aggregate(ctx, "acme", index.AggregateQuery{})
		assert.ErrorIs(t, err, index.ErrClosed)
		assert.ErrorIs(t, idx.IndexEvents(ctx, []domain.Event{event("x", "acme", "t", "", 0, nil)}), index.ErrClosed)
	})
}
