package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"
)

const (
	defaultBaseURL   = "http://localhost:4000"
	defaultTimeout   = 15 * time.Second
	maxErrorBodySize = 4096
)

var (
	// ErrUnauthorized indicates the API rejected the API key.
	ErrUnauthorized = errors.New("analytics unauthorized")
	// ErrInvalidArgument indicates the API rejected the request parameters or payload.
	ErrInvalidArgument = errors.New("analytics invalid argument")
	// ErrRateLimited indicates the tenant exceeded its request budget.
	ErrRateLimited = errors.New("analytics rate limited")
	// ErrUnavailable indicates the event store or aggregation index is down.
	ErrUnavailable = errors.New("analytics unavailable")
)

// Client provides typed access to the analytics API for one tenant.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	compress   bool
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithSnappy compresses request bodies with snappy.
func WithSnappy() Option {
	return func(c *Client) {
		c.compress = true
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base, apiKey string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("api key required")
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API. It unwraps to one of the
// package sentinels when the status has a known meaning.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (e APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
		return ErrInvalidArgument
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusServiceUnavailable:
		return ErrUnavailable
	default:
		return nil
	}
}

// Event is a single tracked occurrence as sent by the SDK.
type Event struct {
	Type       string
	UserID     string
	SessionID  string
	Properties map[string]any
	Timestamp  time.Time
}

type wireEvent struct {
	Type       string         `json:"type"`
	UserID     string         `json:"userId,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  string         `json:"timestamp,omitempty"`
}

func toWire(event Event) wireEvent {
	w := wireEvent{
		Type:       event.Type,
		UserID:     event.UserID,
		SessionID:  event.SessionID,
		Properties: event.Properties,
	}
	if !event.Timestamp.IsZero() {
		w.Timestamp = event.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return w
}

// TrackResult is the server acknowledgment for one event.
type TrackResult struct {
	EventID   string    `json:"eventId"`
	Timestamp time.Time `json:"timestamp"`
}

// BatchResult is the server acknowledgment for a batch.
type BatchResult struct {
	EventIDs []string `json:"eventIds"`
	Count    int      `json:"count"`
}

// Track sends a single event.
func (c *Client) Track(ctx context.Context, event Event) (TrackResult, error) {
	var resp TrackResult
	if err := c.do(ctx, http.MethodPost, "/v1/track", toWire(event), &resp); err != nil {
		return TrackResult{}, err
	}
	return resp, nil
}

// TrackBatch sends events as one atomic batch.
func (c *Client) TrackBatch(ctx context.Context, events []Event) (BatchResult, error) {
	wire := make([]wireEvent, len(events))
	for i, event := range events {
		wire[i] = toWire(event)
	}
	var resp BatchResult
	if err := c.do(ctx, http.MethodPost, "/v1/track/batch", map[string]any{"events": wire}, &resp); err != nil {
		return BatchResult{}, err
	}
	return resp, nil
}

// StoredEvent is an event as returned by query endpoints.
type StoredEvent struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenantId"`
	Type       string         `json:"type"`
	UserID     string         `json:"userId,omitempty"`
	SessionID  string         `json:"sessionId,omitempty"`
	Properties map[string]any `json:"properties"`
	Timestamp  time.Time      `json:"timestamp"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// SearchParams filters an event search. Zero values are omitted.
type SearchParams struct {
	Type       string
	UserID     string
	Start      time.Time
	End        time.Time
	Properties map[string]string
	Limit      int
	Offset     int
}

func (p SearchParams) values() url.Values {
	v := url.Values{}
	if p.Type != "" {
		v.Set("type", p.Type)
	}
	if p.UserID != "" {
		v.Set("userId", p.UserID)
	}
	setTime(v, "start", p.Start)
	setTime(v, "end", p.End)
	for key, value := range p.Properties {
		v.Set("prop."+key, value)
	}
	if p.Limit > 0 {
		v.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		v.Set("offset", strconv.Itoa(p.Offset))
	}
	return v
}

// SearchResult is one page of search results.
type SearchResult struct {
	Events  []StoredEvent `json:"events"`
	Total   int64         `json:"total"`
	Count   int           `json:"count"`
	Latency int64         `json:"latency"`
}

// SearchEvents runs a filtered, paginated search.
func (c *Client) SearchEvents(ctx context.Context, params SearchParams) (SearchResult, error) {
	var resp SearchResult
	if err := c.do(ctx, http.MethodGet, withQuery("/v1/events", params.values()), nil, &resp); err != nil {
		return SearchResult{}, err
	}
	return resp, nil
}

// RecentEvents reads recent events straight from the durable store.
func (c *Client) RecentEvents(ctx context.Context, params SearchParams) (SearchResult, error) {
	var resp SearchResult
	if err := c.do(ctx, http.MethodGet, withQuery("/v1/events/recent", params.values()), nil, &resp); err != nil {
		return SearchResult{}, err
	}
	return resp, nil
}

// TimePoint is one bucket of a time series.
type TimePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int64     `json:"count"`
}

// EventCount is one entry of the top events list.
type EventCount struct {
	Event string `json:"event"`
	Count int64  `json:"count"`
}

// Analytics summarises a time window.
type Analytics struct {
	Start          time.Time    `json:"start"`
	End            time.Time    `json:"end"`
	Interval       string       `json:"interval"`
	TotalEvents    int64        `json:"totalEvents"`
	UniqueUsers    int64        `json:"uniqueUsers"`
	EventsOverTime []TimePoint  `json:"eventsOverTime"`
	TopEvents      []EventCount `json:"topEvents"`
}

// Analytics fetches totals, a bucketed series and top events. interval is one of
// minute, hour or day; empty means hour.
func (c *Client) Analytics(ctx context.Context, start, end time.Time, interval string) (Analytics, error) {
	v := url.Values{}
	setTime(v, "start", start)
	setTime(v, "end", end)
	if interval != "" {
		v.Set("interval", interval)
	}
	var resp Analytics
	if err := c.do(ctx, http.MethodGet, withQuery("/v1/analytics", v), nil, &resp); err != nil {
		return Analytics{}, err
	}
	return resp, nil
}

// Usage is daily analytics for trailing days plus a growth rate.
type Usage struct {
	Analytics
	Days       int     `json:"days"`
	GrowthRate float64 `json:"growthRate"`
}

// Usage fetches daily usage for the trailing days. Zero uses the server default.
func (c *Client) Usage(ctx context.Context, days int) (Usage, error) {
	v := url.Values{}
	if days > 0 {
		v.Set("days", strconv.Itoa(days))
	}
	var resp Usage
	if err := c.do(ctx, http.MethodGet, withQuery("/v1/usage", v), nil, &resp); err != nil {
		return Usage{}, err
	}
	return resp, nil
}

// FunnelStep is one step of a funnel report.
type FunnelStep struct {
	Step           int     `json:"step"`
	Event          string  `json:"event"`
	Count          int64   `json:"count"`
	UniqueUsers    int64   `json:"uniqueUsers"`
	ConversionRate float64 `json:"conversionRate"`
}

// Funnel is a per-step funnel report.
type Funnel struct {
	Start time.Time    `json:"start"`
	End   time.Time    `json:"end"`
	Steps []FunnelStep `json:"steps"`
}

// Funnel counts each step over the window.
func (c *Client) Funnel(ctx context.Context, steps []string, start, end time.Time) (Funnel, error) {
	v := url.Values{}
	v.Set("steps", strings.Join(steps, ","))
	setTime(v, "start", start)
	setTime(v, "end", end)
	var resp Funnel
	if err := c.do(ctx, http.MethodGet, withQuery("/v1/funnel", v), nil, &resp); err != nil {
		return Funnel{}, err
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		if c.compress {
			payload = snappy.Encode(nil, payload)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		if c.compress {
			req.Header.Set("Content-Encoding", "snappy")
		}
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBodySize))
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

func withQuery(path string, v url.Values) string {
	if len(v) == 0 {
		return path
	}
	return path + "?" + v.Encode()
}

func setTime(v url.Values, key string, ts time.Time) {
	if !ts.IsZero() {
		v.Set(key, ts.UTC().Format(time.RFC3339Nano))
	}
}
