// Package memory implements the aggregation index in process memory. It backs tests and
// single-node development setups.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/index"
)

type entry struct {
	event  domain.Event
	fields map[string]string
}

// Index keeps one partition per index name.
type Index struct {
	mu         sync.RWMutex
	partitions map[string]map[string]entry
	locations  map[string]string
	closed     bool
}

// New returns an empty index.
func New() *Index {
	return &Index{
		partitions: make(map[string]map[string]entry),
		locations:  make(map[string]string),
	}
}

// IndexEvents implements index.Index.
func (i *Index) IndexEvents(_ context.Context, events []domain.Event) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return index.ErrClosed
	}

	for _, event := range events {
		name := index.Name(event.TenantID, event.Timestamp)
		if previous, ok := i.locations[event.ID]; ok && previous != name {
			delete(i.partitions[previous], event.ID)
		}
		partition, ok := i.partitions[name]
		if !ok {
			partition = make(map[string]entry)
			i.partitions[name] = partition
		}
		partition[event.ID] = entry{event: event, fields: index.Flatten(event.Properties)}
		i.locations[event.ID] = name
	}
	return nil
}

// Partitions lists the index names currently holding documents.
func (i *Index) Partitions() []string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	names := make([]string, 0, len(i.partitions))
	for name, partition := range i.partitions {
		if len(partition) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Search implements index.Index.
func (i *Index) Search(_ context.Context, tenantID string, q index.SearchQuery) (index.SearchResult, error) {
	matches, err := i.collect(tenantID, func(e entry) bool {
		if !q.Range.Contains(e.event.Timestamp) {
			return false
		}
		if q.Type != "" && e.event.Type != q.Type {
			return false
		}
		if q.UserID != "" && e.event.UserID != q.UserID {
			return false
		}
		for key, value := range q.Properties {
			if got, ok := e.fields[key]; !ok || got != value {
				return false
			}
		}
		return true
	})
	if err != nil {
		return index.SearchResult{}, err
	}

	sort.Slice(matches, func(a, b int) bool {
		if !matches[a].Timestamp.Equal(matches[b].Timestamp) {
			return matches[a].Timestamp.After(matches[b].Timestamp)
		}
		return matches[a].ID > matches[b].ID
	})

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	start := q.Offset
	if start < 0 {
		start = 0
	}
	if start > len(matches) {
		start = len(matches)
	}
	end := start + limit
	if end > len(matches) {
		end = len(matches)
	}
	page := matches[start:end]
	if len(page) == 0 {
		page = nil
	}
	return index.SearchResult{Events: page, Total: int64(len(matches))}, nil
}

// Aggregate implements index.Index.
func (i *Index) Aggregate(_ context.Context, tenantID string, q index.AggregateQuery) (index.AggregateResult, error) {
	matches, err := i.collect(tenantID, func(e entry) bool {
		return q.Range.Contains(e.event.Timestamp) && (q.Type == "" || e.event.Type == q.Type)
	})
	if err != nil {
		return index.AggregateResult{}, err
	}

	result := index.AggregateResult{Total: int64(len(matches))}
	users := make(map[string]struct{})
	buckets := make(map[int64]int64)
	terms := make(map[string]int64)
	for _, event := range matches {
		if event.UserID != "" {
			users[event.UserID] = struct{}{}
		}
		if q.Interval != "" {
			buckets[q.Interval.Floor(event.Timestamp).UnixMicro()]++
		}
		terms[event.Type]++
	}
	result.UniqueUsers = int64(len(users))

	if q.Interval != "" {
		starts := make([]int64, 0, len(buckets))
		for start := range buckets {
			starts = append(starts, start)
		}
		sort.Slice(starts, func(a, b int) bool { return starts[a] < starts[b] })
		for _, start := range starts {
			result.Buckets = append(result.Buckets, index.Bucket{Start: time.UnixMicro(start).UTC(), Count: buckets[start]})
		}
	}

	if q.TopN > 0 {
		for term, count := range terms {
			result.Terms = append(result.Terms, index.TermCount{Term: term, Count: count})
		}
		sort.Slice(result.Terms, func(a, b int) bool {
			if result.Terms[a].Count != result.Terms[b].Count {
				return result.Terms[a].Count > result.Terms[b].Count
			}
			return result.Terms[a].Term < result.Terms[b].Term
		})
		if len(result.Terms) > q.TopN {
			result.Terms = result.Terms[:q.TopN]
		}
	}
	return result, nil
}

// Ping implements index.Index.
func (i *Index) Ping(context.Context) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return index.ErrClosed
	}
	return nil
}

// Close implements index.Index.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.closed = true
	return nil
}

func (i *Index) collect(tenantID string, match func(entry) bool) ([]domain.Event, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return nil, index.ErrClosed
	}

	prefix := "events-" + tenantID + "-"
	var out []domain.Event
	for name, partition := range i.partitions {
		// day suffix is fixed width, so the prefix pins the tenant exactly
		if len(name) != len(prefix)+len("2006.01.02") || name[:len(prefix)] != prefix {
			continue
		}
		for _, e := range partition {
			if e.event.TenantID == tenantID && match(e) {
				out = append(out, e.event)
			}
		}
	}
	return out, nil
}
