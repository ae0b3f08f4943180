// Package index defines the secondary aggregation index that mirrors the durable event
// store. Documents are partitioned per tenant per day; the index answers filtered searches
// and count, cardinality, histogram and term aggregations. It may lag the event store.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
)

// Index is implemented by every aggregation index backend.
type Index interface {
	// IndexEvents upserts documents by event id.
	IndexEvents(ctx context.Context, events []domain.Event) error
	Search(ctx context.Context, tenantID string, q SearchQuery) (SearchResult, error)
	Aggregate(ctx context.Context, tenantID string, q AggregateQuery) (AggregateResult, error)
	Ping(ctx context.Context) error
	Close() error
}

// TimeRange is an inclusive time window. A zero bound is open.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range, bounds included.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// SearchQuery filters documents. All populated filters must match.
type SearchQuery struct {
	Type       string
	UserID     string
	Range      TimeRange
	Properties map[string]string
	Limit      int
	Offset     int
}

// SearchResult is one page of matches, newest first, plus the total match count.
type SearchResult struct {
	Events []domain.Event
	Total  int64
}

// AggregateQuery selects the documents to aggregate and which aggregations to compute.
// Interval "" skips the histogram; TopN 0 skips the term ranking.
type AggregateQuery struct {
	Range    TimeRange
	Type     string
	Interval Interval
	TopN     int
}

// AggregateResult holds the requested aggregations. Buckets are sparse and ascending.
type AggregateResult struct {
	Total       int64
	UniqueUsers int64
	Buckets     []Bucket
	Terms       []TermCount
}

// Bucket is one histogram slot.
type Bucket struct {
	Start time.Time
	Count int64
}

// TermCount is one event type with its frequency.
type TermCount struct {
	Term  string
	Count int64
}

// Interval is a histogram bucket width.
type Interval string

const (
	IntervalMinute Interval = "minute"
	IntervalHour   Interval = "hour"
	IntervalDay    Interval = "day"
)

// ParseInterval accepts minute, hour or day (and their one-letter forms).
func ParseInterval(value string) (Interval, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "minute", "m", "1m":
		return IntervalMinute, nil
	case "hour", "h", "1h", "":
		return IntervalHour, nil
	case "day", "d", "1d":
		return IntervalDay, nil
	default:
		return "", fmt.Errorf("%w: unsupported interval %q", domain.ErrInvalidQuery, value)
	}
}

// Duration returns the bucket width.
func (i Interval) Duration() time.Duration {
	switch i {
	case IntervalMinute:
		return time.Minute
	case IntervalDay:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// Floor returns the start of the UTC bucket containing t.
func (i Interval) Floor(t time.Time) time.Time {
	span := i.Duration().Microseconds()
	return time.UnixMicro(floorDiv(t.UnixMicro(), span) * span).UTC()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}

// Name returns the per-tenant-per-day partition name holding events at t.
func Name(tenantID string, t time.Time) string {
	return "events-" + tenantID + "-" + t.UTC().Format("2006.01.02")
}

// ErrClosed is returned by an index after Close.
var ErrClosed = errors.New("index closed")
