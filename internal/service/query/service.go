// Package query answers tenant-scoped dashboard queries from the aggregation index, with
// a store-backed path for recent events.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/index"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/repository"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/tracing"
)

const (
	DefaultLimit     = 100
	MaxLimit         = 1000
	TopEventsLimit   = 20
	DefaultUsageDays = 30
	MaxUsageDays     = 365
	MaxFunnelSteps   = 20
	maxBuckets       = 10000
	defaultRange     = 7 * 24 * time.Hour
)

// SearchParams filters an event search. Zero values mean no constraint.
type SearchParams struct {
	Type       string
	UserID     string
	Start      time.Time
	End        time.Time
	Properties map[string]string
	Limit      int
	Offset     int
}

// SearchResult is one page of matching events.
type SearchResult struct {
	Events  []domain.Event `json:"events"`
	Total   int64          `json:"total"`
	Count   int            `json:"count"`
	Latency int64          `json:"latency"`
}

// TimePoint is one slot of a zero-filled series.
type TimePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int64     `json:"count"`
}

// EventCount ranks an event type by frequency.
type EventCount struct {
	Event string `json:"event"`
	Count int64  `json:"count"`
}

// Analytics summarises a time range.
type Analytics struct {
	Start          time.Time      `json:"start"`
	End            time.Time      `json:"end"`
	Interval       index.Interval `json:"interval"`
	TotalEvents    int64          `json:"totalEvents"`
	UniqueUsers    int64          `json:"uniqueUsers"`
	EventsOverTime []TimePoint    `json:"eventsOverTime"`
	TopEvents      []EventCount   `json:"topEvents"`
}

// Usage is daily analytics over a trailing window plus a growth heuristic.
type Usage struct {
	Analytics
	Days       int     `json:"days"`
	GrowthRate float64 `json:"growthRate"`
}

// FunnelStep is one independently counted step. Step is 1-based.
type FunnelStep struct {
	Step           int     `json:"step"`
	Event          string  `json:"event"`
	Count          int64   `json:"count"`
	UniqueUsers    int64   `json:"uniqueUsers"`
	ConversionRate float64 `json:"conversionRate"`
}

// Funnel reports per-step counts over a window.
type Funnel struct {
	Start time.Time    `json:"start"`
	End   time.Time    `json:"end"`
	Steps []FunnelStep `json:"steps"`
}

// RecentEvents is a store-backed page of events.
type RecentEvents struct {
	Events []domain.Event `json:"events"`
	Total  int64          `json:"total"`
	Count  int            `json:"count"`
}

// Service is the read-only query facade.
type Service struct {
	index  index.Index
	events repository.EventRepository
	logger *slog.Logger
	now    func() time.Time
}

// New constructs the facade.
func New(idx index.Index, events repository.EventRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{index: idx, events: events, logger: logger.With("component", "query"), now: time.Now}
}

// SearchEvents runs a filtered, paginated search, newest first.
func (s *Service) SearchEvents(ctx context.Context, tenantID string, params SearchParams) (result SearchResult, err error) {
	ctx, span := tracing.Start(ctx, "query.search", tracing.Tenant(tenantID))
	defer func() { tracing.End(span, err) }()

	limit, err := normaliseLimit(params.Limit)
	if err != nil {
		return SearchResult{}, err
	}
	if params.Offset < 0 {
		return SearchResult{}, fmt.Errorf("%w: offset must not be negative", domain.ErrInvalidQuery)
	}
	if !params.Start.IsZero() && !params.End.IsZero() && params.Start.After(params.End) {
		return SearchResult{}, fmt.Errorf("%w: start is after end", domain.ErrInvalidQuery)
	}

	started := s.now()
	res, err := s.index.Search(ctx, tenantID, index.SearchQuery{
		Type:       params.Type,
		UserID:     params.UserID,
		Range:      index.TimeRange{Start: params.Start, End: params.End},
		Properties: params.Properties,
		Limit:      limit,
		Offset:     params.Offset,
	})
	if err != nil {
		return SearchResult{}, s.indexError("search", tenantID, err)
	}
	events := res.Events
	if events == nil {
		events = []domain.Event{}
	}
	return SearchResult{
		Events:  events,
		Total:   res.Total,
		Count:   len(events),
		Latency: s.now().Sub(started).Milliseconds(),
	}, nil
}

// Analytics summarises [start, end] with a zero-filled series at interval. A zero end
// means now; a zero start means seven days before end.
func (s *Service) Analytics(ctx context.Context, tenantID string, start, end time.Time, interval index.Interval) (result Analytics, err error) {
	ctx, span := tracing.Start(ctx, "query.analytics", tracing.Tenant(tenantID), attribute.String("interval", string(interval)))
	defer func() { tracing.End(span, err) }()

	start, end, err = s.window(start, end)
	if err != nil {
		return Analytics{}, err
	}
	if interval == "" {
		interval = index.IntervalHour
	}
	return s.analytics(ctx, tenantID, start, end, interval)
}

// Usage returns day-bucketed analytics for the trailing days, today included, with the
// growth rate between the first and second half of the series.
func (s *Service) Usage(ctx context.Context, tenantID string, days int) (result Usage, err error) {
	ctx, span := tracing.Start(ctx, "query.usage", tracing.Tenant(tenantID), attribute.Int("days", days))
	defer func() { tracing.End(span, err) }()

	if days == 0 {
		days = DefaultUsageDays
	}
	if days < 0 || days > MaxUsageDays {
		return Usage{}, fmt.Errorf("%w: days must be between 1 and %d", domain.ErrInvalidQuery, MaxUsageDays)
	}
	end := s.now().UTC()
	start := index.IntervalDay.Floor(end).AddDate(0, 0, -(days - 1))

	analytics, err := s.analytics(ctx, tenantID, start, end, index.IntervalDay)
	if err != nil {
		return Usage{}, err
	}
	return Usage{Analytics: analytics, Days: days, GrowthRate: GrowthRate(analytics.EventsOverTime)}, nil
}

// Funnel counts each step independently over the window. Steps are not conditioned on
// users completing earlier steps; conversion is relative to the first step's count.
func (s *Service) Funnel(ctx context.Context, tenantID string, steps []string, start, end time.Time) (result Funnel, err error) {
	ctx, span := tracing.Start(ctx, "query.funnel", tracing.Tenant(tenantID), attribute.Int("steps", len(steps)))
	defer func() { tracing.End(span, err) }()

	cleaned := make([]string, 0, len(steps))
	for _, step := range steps {
		if step = strings.TrimSpace(step); step != "" {
			cleaned = append(cleaned, step)
		}
	}
	if len(cleaned) == 0 {
		return Funnel{}, fmt.Errorf("%w: at least one funnel step is required", domain.ErrInvalidQuery)
	}
	if len(cleaned) > MaxFunnelSteps {
		return Funnel{}, fmt.Errorf("%w: at most %d funnel steps are allowed", domain.ErrInvalidQuery, MaxFunnelSteps)
	}
	start, end, err = s.window(start, end)
	if err != nil {
		return Funnel{}, err
	}

	counts := make([]int64, len(cleaned))
	result = Funnel{Start: start, End: end, Steps: make([]FunnelStep, len(cleaned))}
	for i, step := range cleaned {
		agg, err := s.index.Aggregate(ctx, tenantID, index.AggregateQuery{
			Range: index.TimeRange{Start: start, End: end},
			Type:  step,
		})
		if err != nil {
			return Funnel{}, s.indexError("funnel", tenantID, err)
		}
		counts[i] = agg.Total
		result.Steps[i] = FunnelStep{Step: i + 1, Event: step, Count: agg.Total, UniqueUsers: agg.UniqueUsers}
	}
	rates := ConversionRates(counts)
	for i := range result.Steps {
		result.Steps[i].ConversionRate = rates[i]
	}
	return result, nil
}

// RecentEvents reads the durable store directly, bypassing the index.
func (s *Service) RecentEvents(ctx context.Context, tenantID string, filter domain.EventFilter) (result RecentEvents, err error) {
	ctx, span := tracing.Start(ctx, "query.recent", tracing.Tenant(tenantID))
	defer func() { tracing.End(span, err) }()

	limit, err := normaliseLimit(filter.Limit)
	if err != nil {
		return RecentEvents{}, err
	}
	if filter.Offset < 0 {
		return RecentEvents{}, fmt.Errorf("%w: offset must not be negative", domain.ErrInvalidQuery)
	}
	filter.Limit = limit

	events, total, err := s.events.ListEvents(ctx, tenantID, filter)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidArgument) {
			return RecentEvents{}, fmt.Errorf("%w: %v", domain.ErrInvalidQuery, err)
		}
		s.logger.Error("recent events query failed", "error", err, "tenant_id", tenantID)
		return RecentEvents{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if events == nil {
		events = []domain.Event{}
	}
	return RecentEvents{Events: events, Total: total, Count: len(events)}, nil
}

// Ping checks the aggregation index.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.index.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrIndexUnavailable, err)
	}
	return nil
}

func (s *Service) analytics(ctx context.Context, tenantID string, start, end time.Time, interval index.Interval) (Analytics, error) {
	first, last := interval.Floor(start), interval.Floor(end)
	if n := last.Sub(first)/interval.Duration() + 1; n > maxBuckets {
		return Analytics{}, fmt.Errorf("%w: range spans %d %s buckets, limit is %d", domain.ErrInvalidQuery, n, interval, maxBuckets)
	}

	agg, err := s.index.Aggregate(ctx, tenantID, index.AggregateQuery{
		Range:    index.TimeRange{Start: start, End: end},
		Interval: interval,
		TopN:     TopEventsLimit,
	})
	if err != nil {
		return Analytics{}, s.indexError("analytics", tenantID, err)
	}

	top := make([]EventCount, 0, len(agg.Terms))
	for _, term := range agg.Terms {
		top = append(top, EventCount{Event: term.Term, Count: term.Count})
	}
	return Analytics{
		Start:          start,
		End:            end,
		Interval:       interval,
		TotalEvents:    agg.Total,
		UniqueUsers:    agg.UniqueUsers,
		EventsOverTime: ZeroFill(agg.Buckets, first, last, interval),
		TopEvents:      top,
	}, nil
}

func (s *Service) window(start, end time.Time) (time.Time, time.Time, error) {
	if end.IsZero() {
		end = s.now()
	}
	if start.IsZero() {
		start = end.Add(-defaultRange)
	}
	start, end = start.UTC(), end.UTC()
	if start.After(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start is after end", domain.ErrInvalidQuery)
	}
	return start, end, nil
}

func (s *Service) indexError(op, tenantID string, err error) error {
	s.logger.Error("aggregation index query failed", "op", op, "tenant_id", tenantID, "error", err)
	return fmt.Errorf("%w: %s: %v", domain.ErrIndexUnavailable, op, err)
}

func normaliseLimit(limit int) (int, error) {
	switch {
	case limit < 0:
		return 0, fmt.Errorf("%w: limit must not be negative", domain.ErrInvalidQuery)
	case limit == 0:
		return DefaultLimit, nil
	case limit > MaxLimit:
		return MaxLimit, nil
	default:
		return limit, nil
	}
}

// ZeroFill expands sparse buckets into one point per interval from first to last.
func ZeroFill(buckets []index.Bucket, first, last time.Time, interval index.Interval) []TimePoint {
	counts := make(map[int64]int64, len(buckets))
	for _, bucket := range buckets {
		counts[bucket.Start.UnixMicro()] += bucket.Count
	}
	step := interval.Duration()
	points := make([]TimePoint, 0, int(last.Sub(first)/step)+1)
	for ts := first; !ts.After(last); ts = ts.Add(step) {
		points = append(points, TimePoint{Timestamp: ts, Count: counts[ts.UnixMicro()]})
	}
	return points
}

// GrowthRate is a simple heuristic: the percent change from the first half of the series
// to the second. An odd middle point belongs to the second half. A first half summing to
// zero yields 0.
func GrowthRate(series []TimePoint) float64 {
	half := len(series) / 2
	var first, second int64
	for i, point := range series {
		if i < half {
			first += point.Count
		} else {
			second += point.Count
		}
	}
	if first == 0 {
		return 0
	}
	return round2(float64(second-first) / float64(first) * 100)
}

// ConversionRates returns 100*counts[i]/counts[0] rounded to two decimals. The first step
// is always 100; later steps are 0 when the first step has no events.
func ConversionRates(counts []int64) []float64 {
	rates := make([]float64, len(counts))
	for i, count := range counts {
		switch {
		case i == 0:
			rates[i] = 100
		case counts[0] == 0:
			rates[i] = 0
		default:
			rates[i] = round2(float64(count) / float64(counts[0]) * 100)
		}
	}
	return rates
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
