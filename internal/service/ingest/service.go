// Package ingest implements the event ingestion pipeline: validate, commit to the durable
// store, mirror into the aggregation index, then broadcast to live subscribers.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/index"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/repository"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/tracing"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/ws"
)

const (
	defaultMaxBatch     = 1000
	defaultIndexTimeout = 5 * time.Second
)

// Broadcaster delivers encoded frames to a tenant's live connections.
type Broadcaster interface {
	Broadcast(tenantID string, payload []byte) int
}

// Options tunes the pipeline. Zero values select defaults.
type Options struct {
	MaxBatch     int
	IndexTimeout time.Duration
	Metrics      *Metrics
}

// Service ingests events for a resolved tenant.
type Service struct {
	events       repository.EventRepository
	index        index.Index
	hub          Broadcaster
	logger       *slog.Logger
	metrics      *Metrics
	maxBatch     int
	indexTimeout time.Duration
	now          func() time.Time
	newID        func() (uuid.UUID, error)
}

// New constructs the pipeline. idx and hub may be nil to skip mirroring or broadcasting.
func New(events repository.EventRepository, idx index.Index, hub Broadcaster, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = defaultMaxBatch
	}
	if opts.IndexTimeout <= 0 {
		opts.IndexTimeout = defaultIndexTimeout
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	return &Service{
		events:       events,
		index:        idx,
		hub:          hub,
		logger:       logger.With("component", "ingest"),
		metrics:      opts.Metrics,
		maxBatch:     opts.MaxBatch,
		indexTimeout: opts.IndexTimeout,
		now:          time.Now,
		newID:        uuid.NewV7,
	}
}

// MaxBatch reports the largest accepted batch.
func (s *Service) MaxBatch() int {
	return s.maxBatch
}

// IngestOne stores a single event.
func (s *Service) IngestOne(ctx context.Context, tenantID string, input domain.EventInput) (domain.Event, error) {
	events, err := s.IngestBatch(ctx, tenantID, []domain.EventInput{input})
	if err != nil {
		return domain.Event{}, err
	}
	return events[0], nil
}

// IngestBatch stores every event of the batch or none of them. Once the store commit
// succeeds the call succeeds; index and broadcast failures are logged and counted.
func (s *Service) IngestBatch(ctx context.Context, tenantID string, inputs []domain.EventInput) (events []domain.Event, err error) {
	ctx, span := tracing.Start(ctx, "ingest.batch", tracing.Tenant(tenantID), attribute.Int("events.count", len(inputs)))
	defer func() { tracing.End(span, err) }()

	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, domain.ErrUnauthenticated
	}
	if err := s.validate(inputs); err != nil {
		s.metrics.rejected.Add(float64(len(inputs)))
		return nil, err
	}

	rows, err := s.build(tenantID, inputs)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, rows); err != nil {
		s.metrics.storeFailures.Inc()
		return nil, err
	}

	events = make([]domain.Event, len(rows))
	for i, row := range rows {
		events[i] = *row
	}
	s.metrics.ingested.Add(float64(len(events)))

	s.mirror(ctx, tenantID, events)
	s.broadcast(ctx, tenantID, events)
	return events, nil
}

func (s *Service) validate(inputs []domain.EventInput) error {
	if len(inputs) == 0 {
		return fmt.Errorf("%w: batch is empty", domain.ErrInvalidEvent)
	}
	if len(inputs) > s.maxBatch {
		return fmt.Errorf("%w: batch of %d exceeds limit of %d", domain.ErrInvalidEvent, len(inputs), s.maxBatch)
	}
	for i, input := range inputs {
		if strings.TrimSpace(input.Type) == "" {
			return fmt.Errorf("%w: event %d: type is required", domain.ErrInvalidEvent, i)
		}
	}
	return nil
}

func (s *Service) build(tenantID string, inputs []domain.EventInput) ([]*domain.Event, error) {
	now := s.now().UTC()
	rows := make([]*domain.Event, 0, len(inputs))
	for _, input := range inputs {
		id, err := s.newID()
		if err != nil {
			return nil, fmt.Errorf("generate event id: %w", err)
		}
		props := input.Properties
		if props == nil {
			props = map[string]any{}
		}
		rows = append(rows, &domain.Event{
			ID:         id.String(),
			TenantID:   tenantID,
			Type:       input.Type,
			UserID:     input.UserID,
			SessionID:  input.SessionID,
			Properties: props,
			Timestamp:  ParseTimestamp(input.Timestamp, now),
		})
	}
	return rows, nil
}

func (s *Service) commit(ctx context.Context, rows []*domain.Event) (err error) {
	ctx, span := tracing.Start(ctx, "ingest.store", attribute.Int("events.count", len(rows)))
	defer func() { tracing.End(span, err) }()

	if err := s.events.InsertEvents(ctx, rows); err != nil {
		s.logger.Error("event store insert failed", "error", err, "count", len(rows))
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Service) mirror(ctx context.Context, tenantID string, events []domain.Event) {
	if s.index == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.indexTimeout)
	defer cancel()
	ctx, span := tracing.Start(ctx, "ingest.index", attribute.Int("events.count", len(events)))

	err := s.index.IndexEvents(ctx, events)
	tracing.End(span, err)
	if err != nil {
		s.metrics.mirrorFailures.Inc()
		ids := make([]string, len(events))
		for i, event := range events {
			ids[i] = event.ID
		}
		s.logger.Error("index mirror failed", "error", err, "tenant_id", tenantID, "event_ids", ids)
	}
}

func (s *Service) broadcast(ctx context.Context, tenantID string, events []domain.Event) {
	if s.hub == nil {
		return
	}
	_, span := tracing.Start(ctx, "ingest.broadcast", attribute.Int("events.count", len(events)))
	defer tracing.End(span, nil)

	for _, event := range events {
		payload, err := ws.EncodeEvent(event)
		if err != nil {
			s.logger.Warn("failed to encode stream event", "error", err, "event_id", event.ID)
			continue
		}
		delivered := s.hub.Broadcast(tenantID, payload)
		s.metrics.deliveries.Add(float64(delivered))
	}
}

// ParseTimestamp returns the caller-supplied time when it parses as RFC 3339 or unix
// milliseconds, otherwise fallback. Results are UTC at microsecond precision, matching
// the store.
func ParseTimestamp(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	ts := fallback
	if raw != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			ts = parsed
		} else if millis, err := strconv.ParseInt(raw, 10, 64); err == nil {
			ts = time.UnixMilli(millis)
		}
	}
	return ts.UTC().Truncate(time.Microsecond)
}
