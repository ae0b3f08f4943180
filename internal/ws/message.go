package ws

import (
	"encoding/json"
	"time"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
)

// Frame types carried in the "type" field of every stream message.
const (
	MessageConnected = "connected"
	MessagePing      = "ping"
	MessageEvent     = "event"
)

// Message is the JSON frame written to stream clients.
type Message struct {
	Type         string        `json:"type"`
	TenantID     string        `json:"tenantId,omitempty"`
	ConnectionID string        `json:"connectionId,omitempty"`
	Event        *domain.Event `json:"event,omitempty"`
	Timestamp    time.Time     `json:"timestamp"`
}

// EncodeEvent renders the frame broadcast for a newly ingested event.
func EncodeEvent(event domain.Event) ([]byte, error) {
	return json.Marshal(Message{Type: MessageEvent, TenantID: event.TenantID, Event: &event, Timestamp: event.Timestamp})
}

// EncodeConnected renders the acknowledgement sent when a stream opens.
func EncodeConnected(tenantID, connectionID string, now time.Time) []byte {
	data, _ := json.Marshal(Message{Type: MessageConnected, TenantID: tenantID, ConnectionID: connectionID, Timestamp: now.UTC()})
	return data
}

// EncodePing renders a heartbeat frame.
func EncodePing(now time.Time) []byte {
	data, _ := json.Marshal(Message{Type: MessagePing, Timestamp: now.UTC()})
	return data
}
