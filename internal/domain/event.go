package domain

import "time"

// Event is one immutable tracked occurrence owned by exactly one tenant.
type Event struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenantId"`
	Type       string         `json:"type"`
	UserID     string         `json:"userId,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	Properties map[string]any `json:"properties"`
	Timestamp  time.Time      `json:"timestamp"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// EventInput is the caller-supplied shape of an event before ingestion.
// Timestamp is kept as text so an unparseable value can fall back to the ingestion clock.
type EventInput struct {
	Type       string         `json:"type"`
	UserID     string         `json:"userId,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  string         `json:"timestamp,omitempty"`
}

// EventFilter narrows event listings. Zero values mean "no constraint".
type EventFilter struct {
	Type       string
	UserID     string
	Start      time.Time
	End        time.Time
	Properties map[string]string
	Limit      int
	Offset     int
}
