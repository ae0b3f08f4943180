package analytics

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxBatchSize  = 100
	defaultFlushInterval = 10 * time.Second
	defaultFlushTimeout  = 10 * time.Second
)

// ErrTrackerClosed is returned by Track after Shutdown.
var ErrTrackerClosed = errors.New("tracker closed")

// Sender delivers events to the API. *Client satisfies it.
type Sender interface {
	Track(ctx context.Context, event Event) (TrackResult, error)
	TrackBatch(ctx context.Context, events []Event) (BatchResult, error)
}

// Config tunes a Tracker. Zero values select defaults.
type Config struct {
	MaxBatchSize  int
	FlushInterval time.Duration
	FlushTimeout  time.Duration
	Logger        *slog.Logger
}

// Ack acknowledges a Track call. Queued acks carry no event id; the event is sent on a
// later flush.
type Ack struct {
	Queued    bool
	EventID   string
	Timestamp time.Time
}

// TrackOption customises a single Track call.
type TrackOption func(*trackOptions)

type trackOptions struct {
	immediate bool
	userID    string
	sessionID string
	timestamp time.Time
}

// WithoutBatching sends the event immediately and returns the server acknowledgment.
func WithoutBatching() TrackOption {
	return func(o *trackOptions) { o.immediate = true }
}

// WithUserID attaches a user identifier.
func WithUserID(id string) TrackOption {
	return func(o *trackOptions) { o.userID = id }
}

// WithSessionID attaches a session identifier.
func WithSessionID(id string) TrackOption {
	return func(o *trackOptions) { o.sessionID = id }
}

// WithTimestamp overrides the event time. The server clock is used otherwise.
func WithTimestamp(ts time.Time) TrackOption {
	return func(o *trackOptions) { o.timestamp = ts }
}

// Tracker buffers events and sends them in batches on a size or time trigger.
// A failed flush puts the taken events back at the front of the queue, so delivery is
// at least once.
type Tracker struct {
	sender   Sender
	maxBatch int
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	queue  []Event
	closed bool

	flushMu sync.Mutex
	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewTracker starts a tracker and its recurring flush loop.
func NewTracker(sender Sender, cfg Config) *Tracker {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = defaultFlushTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	t := &Tracker{
		sender:   sender,
		maxBatch: cfg.MaxBatchSize,
		interval: cfg.FlushInterval,
		timeout:  cfg.FlushTimeout,
		logger:   cfg.Logger.With("component", "analytics_tracker"),
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go t.loop()
	return t
}

// Track records an event. Buffered events return a queued ack; WithoutBatching returns
// the server's acknowledgment.
func (t *Tracker) Track(ctx context.Context, eventType string, properties map[string]any, opts ...TrackOption) (Ack, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return Ack{}, errors.New("event type required")
	}
	var o trackOptions
	for _, opt := range opts {
		opt(&o)
	}
	event := Event{
		Type:       eventType,
		UserID:     o.userID,
		SessionID:  o.sessionID,
		Properties: properties,
		Timestamp:  o.timestamp,
	}

	if o.immediate {
		if t.isClosed() {
			return Ack{}, ErrTrackerClosed
		}
		res, err := t.sender.Track(ctx, event)
		if err != nil {
			return Ack{}, err
		}
		return Ack{EventID: res.EventID, Timestamp: res.Timestamp}, nil
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Ack{}, ErrTrackerClosed
	}
	t.queue = append(t.queue, event)
	full := len(t.queue) >= t.maxBatch
	t.mu.Unlock()

	if full {
		select {
		case t.trigger <- struct{}{}:
		default:
		}
	}
	return Ack{Queued: true}, nil
}

// Flush sends everything queued. Batches larger than the configured maximum are split;
// on failure the unsent events return to the front of the queue in their original order.
func (t *Tracker) Flush(ctx context.Context) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	t.mu.Lock()
	batch := t.queue
	t.queue = nil
	t.mu.Unlock()

	for sent := 0; sent < len(batch); {
		end := min(sent+t.maxBatch, len(batch))
		if _, err := t.sender.TrackBatch(ctx, batch[sent:end]); err != nil {
			t.requeue(batch[sent:])
			return err
		}
		sent = end
	}
	return nil
}

// Pending returns a copy of the queued events.
func (t *Tracker) Pending() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.queue))
	copy(out, t.queue)
	return out
}

// Shutdown stops the recurring flush and sends whatever is left once. Track fails with
// ErrTrackerClosed afterwards.
func (t *Tracker) Shutdown(ctx context.Context) error {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.stop)
	})
	select {
	case <-t.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return t.Flush(ctx)
}

func (t *Tracker) requeue(events []Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	restored := make([]Event, 0, len(events)+len(t.queue))
	restored = append(restored, events...)
	t.queue = append(restored, t.queue...)
}

func (t *Tracker) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Tracker) loop() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		case <-t.trigger:
		}
		if len(t.Pending()) == 0 {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		if err := t.Flush(ctx); err != nil {
			t.logger.Warn("analytics flush failed", "error", err, "pending", len(t.Pending()))
		}
		cancel()
	}
}
