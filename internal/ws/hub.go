package ws

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spaolacci/murmur3"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

const (
	defaultShards  = 16
	defaultMailbox = 64
)

// Hub fans tenant events out to live stream connections. Connections are grouped into
// shards by tenant so broadcasts for different tenants do not contend.
type Hub struct {
	shards  []*shard
	mailbox int
	log     *slog.Logger
	closed  atomic.Bool
	dropped atomic.Int64
}

type shard struct {
	mu    sync.RWMutex
	conns map[string]*connection
}

// connection owns a bounded mailbox drained by its own pump goroutine.
type connection struct {
	id       string
	tenantID string
	sub      Subscriber
	mailbox  chan []byte
	done     chan struct{}
	once     sync.Once
}

// NewHub creates a hub whose connections buffer up to mailbox undelivered messages.
func NewHub(logger *slog.Logger, mailbox int) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if mailbox <= 0 {
		mailbox = defaultMailbox
	}
	h := &Hub{
		shards:  make([]*shard, defaultShards),
		mailbox: mailbox,
		log:     logger.With("component", "stream_hub"),
	}
	for i := range h.shards {
		h.shards[i] = &shard{conns: make(map[string]*connection)}
	}
	return h
}

func (h *Hub) shardFor(tenantID string) *shard {
	return h.shards[murmur3.Sum32([]byte(tenantID))%uint32(len(h.shards))]
}

// Register adds a subscriber to a tenant stream and returns its connection id. The
// connected acknowledgement is queued ahead of any broadcast. A closed hub closes the
// subscriber immediately and returns "".
func (h *Hub) Register(tenantID string, sub Subscriber) string {
	if h.closed.Load() {
		sub.Close()
		return ""
	}
	c := &connection{
		id:       uuid.NewString(),
		tenantID: tenantID,
		sub:      sub,
		mailbox:  make(chan []byte, h.mailbox),
		done:     make(chan struct{}),
	}
	c.mailbox <- EncodeConnected(tenantID, c.id, time.Now())

	s := h.shardFor(tenantID)
	s.mu.Lock()
	// Close drains shards under this lock after setting closed
	if h.closed.Load() {
		s.mu.Unlock()
		sub.Close()
		return ""
	}
	s.conns[c.id] = c
	s.mu.Unlock()

	go h.pump(c)
	h.log.Debug("stream connection registered", "tenant_id", tenantID, "connection_id", c.id)
	return c.id
}

// Unregister removes a connection and closes its subscriber. Unknown ids are ignored.
func (h *Hub) Unregister(tenantID, connectionID string) {
	if h.remove(tenantID, connectionID) {
		h.log.Debug("stream connection unregistered", "tenant_id", tenantID, "connection_id", connectionID)
	}
}

// Broadcast queues payload for every connection of tenantID and returns how many
// connections accepted it. Connections whose mailbox is full are dropped.
func (h *Hub) Broadcast(tenantID string, payload []byte) int {
	if h.closed.Load() {
		return 0
	}
	s := h.shardFor(tenantID)

	// exclusive so every connection of a tenant sees broadcasts in one order
	s.mu.Lock()
	delivered := 0
	var overflowed []*connection
	for id, c := range s.conns {
		if c.tenantID != tenantID {
			continue
		}
		select {
		case c.mailbox <- payload:
			delivered++
		default:
			delete(s.conns, id)
			overflowed = append(overflowed, c)
		}
	}
	s.mu.Unlock()

	for _, c := range overflowed {
		h.dropped.Add(1)
		h.log.Warn("stream connection dropped", "tenant_id", c.tenantID, "connection_id", c.id, "reason", "mailbox full")
		c.stop()
	}
	return delivered
}

// Count reports the number of open connections across all tenants.
func (h *Hub) Count() int {
	total := 0
	for _, s := range h.shards {
		s.mu.RLock()
		total += len(s.conns)
		s.mu.RUnlock()
	}
	return total
}

// TenantCount reports the number of open connections for one tenant.
func (h *Hub) TenantCount(tenantID string) int {
	s := h.shardFor(tenantID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.conns {
		if c.tenantID == tenantID {
			n++
		}
	}
	return n
}

// Dropped reports how many connections were removed after a delivery failure.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close disconnects every subscriber. Later registrations are rejected.
func (h *Hub) Close() {
	if h.closed.Swap(true) {
		return
	}
	for _, s := range h.shards {
		s.mu.Lock()
		conns := s.conns
		s.conns = make(map[string]*connection)
		s.mu.Unlock()
		for _, c := range conns {
			c.stop()
		}
	}
}

func (h *Hub) pump(c *connection) {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.mailbox:
			if err := c.sub.Send(payload); err != nil {
				if h.remove(c.tenantID, c.id) {
					h.dropped.Add(1)
					h.log.Warn("stream connection dropped", "tenant_id", c.tenantID, "connection_id", c.id, "error", err)
				}
				return
			}
		}
	}
}

func (h *Hub) remove(tenantID, connectionID string) bool {
	s := h.shardFor(tenantID)
	s.mu.Lock()
	c, ok := s.conns[connectionID]
	if ok {
		delete(s.conns, connectionID)
	}
	s.mu.Unlock()
	if ok {
		c.stop()
	}
	return ok
}

func (c *connection) stop() {
	c.once.Do(func() {
		close(c.done)
		c.sub.Close()
	})
}
