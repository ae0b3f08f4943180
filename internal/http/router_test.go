package httpx

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/index"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/index/memory"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/service/ingest"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/service/query"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/ws"
)

const (
	keyAcme   = "tk_acme"
	keyGlobex = "tk_globex"
)

type resolverStub struct{}

func (resolverStub) Resolve(_ context.Context, credential string) (domain.Tenant, error) {
	switch credential {
	case "":
		return domain.Tenant{}, domain.ErrUnauthenticated
	case keyAcme:
		return domain.Tenant{ID: "acme", Name: "Acme"}, nil
	case keyGlobex:
		return domain.Tenant{ID: "globex", Name: "Globex"}, nil
	default:
		return domain.Tenant{}, domain.ErrInvalidCredential
	}
}

type eventRepoStub struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (s *eventRepoStub) InsertEvents(_ context.Context, events []*domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	for _, event := range events {
		event.CreatedAt = time.Now().UTC()
		s.events = append(s.events, *event)
	}
	return nil
}

func (s *eventRepoStub) ListEvents(_ context.Context, tenantID string, filter domain.EventFilter) ([]domain.Event, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		event := s.events[i]
		if event.TenantID != tenantID {
			continue
		}
		if filter.Type != "" && event.Type != filter.Type {
			continue
		}
		out = append(out, event)
	}
	return out, int64(len(out)), nil
}

type rateLimiterStub struct {
	mu      sync.Mutex
	keys    []string
	allowFn func(key string, limit int, window time.Duration) rateDecision
}

func (s *rateLimiterStub) Allow(key string, limit int, window time.Duration) rateDecision {
	s.mu.Lock()
	s.keys = append(s.keys, key)
	s.mu.Unlock()
	return s.allowFn(key, limit, window)
}

func (s *rateLimiterStub) Close() {}

type fixture struct {
	router  *Router
	repo    *eventRepoStub
	index   *memory.Index
	hub     *ws.Hub
	limiter *rateLimiterStub
	reg     *prometheus.Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := &eventRepoStub{}
	idx := memory.New()
	hub := ws.NewHub(nil, 16)
	t.Cleanup(hub.Close)
	reg := prometheus.NewRegistry()
	limiter := &rateLimiterStub{allowFn: func(string, int, time.Duration) rateDecision {
		return rateDecision{allowed: true}
	}}
	router := NewRouter(Options{
		Tenants:         resolverStub{},
		Ingest:          ingest.New(repo, idx, hub, nil, ingest.Options{MaxBatch: 3}),
		Query:           query.New(idx, repo, nil),
		Hub:             hub,
		Limiter:         limiter,
		Registerer:      reg,
		Gatherer:        reg,
		Heartbeat:       time.Hour,
		MaxBodyBytes:    1 << 12,
		RateLimitIngest: 100,
		RateLimitQuery:  100,
	})
	t.Cleanup(router.Close)
	return fixture{router: router, repo: repo, index: idx, hub: hub, limiter: limiter, reg: reg}
}

func (f fixture) do(method, target, key string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rr.Body.String())
	}
}

func TestRequestsWithoutValidCredentialAreRejected(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		key  string
		msg  string
	}{
		{name: "missing", key: "", msg: "credential required"},
		{name: "unknown", key: "tk_nope", msg: "invalid credential"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(http.MethodPost, "/v1/track", tc.key, []byte(`{"type":"signup"}`))
			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			var body map[string]string
			decode(t, rr, &body)
			if body["error"] != tc.msg {
				t.Fatalf("unexpected error %q", body["error"])
			}
		})
	}
	if len(f.repo.events) != 0 {
		t.Fatalf("expected nothing stored, got %d events", len(f.repo.events))
	}
}

func TestCredentialSources(t *testing.T) {
	cases := map[string]func(*http.Request){
		"header": func(r *http.Request) { r.Header.Set("X-API-Key", keyAcme) },
		"bearer": func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+keyAcme) },
		"query":  func(r *http.Request) { r.URL.RawQuery = "api_key=" + keyAcme },
	}
	for name, apply := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			apply(req)
			if got := credentialFromRequest(req); got != keyAcme {
				t.Fatalf("expected %q, got %q", keyAcme, got)
			}
		})
	}
}

func TestTrackStoresEventForResolvedTenant(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodPost, "/v1/track", keyAcme,
		[]byte(`{"type":"signup","userId":"u1","properties":{"plan":"pro"},"timestamp":"2025-03-01T10:00:00Z"}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		EventID   string `json:"eventId"`
		Timestamp string `json:"timestamp"`
	}
	decode(t, rr, &body)
	if body.EventID == "" {
		t.Fatal("expected event id")
	}
	if body.Timestamp != "2025-03-01T10:00:00Z" {
		t.Fatalf("unexpected timestamp %q", body.Timestamp)
	}
	if len(f.repo.events) != 1 || f.repo.events[0].TenantID != "acme" {
		t.Fatalf("expected one acme event, got %+v", f.repo.events)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
}

func TestTrackIgnoresTenantInBody(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodPost, "/v1/track", keyAcme, []byte(`{"type":"signup","tenantId":"globex"}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	if got := f.repo.events[0].TenantID; got != "acme" {
		t.Fatalf("expected tenant from credential, got %q", got)
	}
}

func TestTrackValidation(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name   string
		body   string
		status int
	}{
		{name: "missing type", body: `{"userId":"u1"}`, status: http.StatusBadRequest},
		{name: "blank type", body: `{"type":"  "}`, status: http.StatusBadRequest},
		{name: "malformed json", body: `{"type":`, status: http.StatusBadRequest},
		{name: "oversized", body: `{"type":"x","properties":{"blob":"` + strings.Repeat("a", 1<<12) + `"}}`, status: http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(http.MethodPost, "/v1/track", keyAcme, []byte(tc.body))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
	if rr := f.do(http.MethodGet, "/v1/track", keyAcme, nil); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if len(f.repo.events) != 0 {
		t.Fatalf("expected nothing stored, got %d", len(f.repo.events))
	}
}

func TestTrackBatch(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodPost, "/v1/track/batch", keyAcme,
		[]byte(`{"events":[{"type":"a"},{"type":"b"}]}`))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		EventIDs []string `json:"eventIds"`
		Count    int      `json:"count"`
	}
	decode(t, rr, &body)
	if body.Count != 2 || len(body.EventIDs) != 2 {
		t.Fatalf("unexpected batch response %+v", body)
	}

	rejected := []string{
		`{"events":[]}`,
		`{"events":{"type":"a"}}`,
		`{}`,
		`{"events":[{"type":"a"},{"userId":"u"}]}`,
		`{"events":[{"type":"a"},{"type":"b"},{"type":"c"},{"type":"d"}]}`,
	}
	for _, raw := range rejected {
		rr := f.do(http.MethodPost, "/v1/track/batch", keyAcme, []byte(raw))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", raw, rr.Code)
		}
	}
	if len(f.repo.events) != 2 {
		t.Fatalf("rejected batches must store nothing, have %d events", len(f.repo.events))
	}
}

func TestTrackAcceptsSnappyBody(t *testing.T) {
	f := newFixture(t)
	body := snappy.Encode(nil, []byte(`{"events":[{"type":"compressed"}]}`))
	req := httptest.NewRequest(http.MethodPost, "/v1/track/batch", bytes.NewReader(body))
	req.Header.Set("X-API-Key", keyAcme)
	req.Header.Set("Content-Encoding", "snappy")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if f.repo.events[0].Type != "compressed" {
		t.Fatalf("unexpected event %+v", f.repo.events[0])
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/track", strings.NewReader(`{"type":"x"}`))
	req.Header.Set("X-API-Key", keyAcme)
	req.Header.Set("Content-Encoding", "br")
	rr = httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rr.Code)
	}
}

func TestStoreFailureMapsTo503(t *testing.T) {
	f := newFixture(t)
	f.repo.err = errors.New("connection refused")
	rr := f.do(http.MethodPost, "/v1/track", keyAcme, []byte(`{"type":"signup"}`))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var body map[string]string
	decode(t, rr, &body)
	if strings.Contains(body["error"], "connection refused") {
		t.Fatalf("internal error leaked: %q", body["error"])
	}
}

func TestSearchAndAnalyticsAreTenantScoped(t *testing.T) {
	f := newFixture(t)
	for _, raw := range []string{
		`{"type":"signup","userId":"u1","properties":{"plan":"pro"}}`,
		`{"type":"signup","userId":"u2","properties":{"plan":"free"}}`,
	} {
		if rr := f.do(http.MethodPost, "/v1/track", keyAcme, []byte(raw)); rr.Code != http.StatusCreated {
			t.Fatalf("track: %d", rr.Code)
		}
	}
	if rr := f.do(http.MethodPost, "/v1/track", keyGlobex, []byte(`{"type":"signup","userId":"g1"}`)); rr.Code != http.StatusCreated {
		t.Fatalf("track: %d", rr.Code)
	}

	rr := f.do(http.MethodGet, "/v1/events?type=signup&prop.plan=pro", keyAcme, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var search query.SearchResult
	decode(t, rr, &search)
	if search.Total != 1 || len(search.Events) != 1 || search.Events[0].UserID != "u1" {
		t.Fatalf("unexpected search result %+v", search)
	}

	rr = f.do(http.MethodGet, "/v1/analytics?interval=day", keyAcme, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var analytics query.Analytics
	decode(t, rr, &analytics)
	if analytics.TotalEvents != 2 || analytics.UniqueUsers != 2 {
		t.Fatalf("unexpected analytics %+v", analytics)
	}
	if len(analytics.TopEvents) != 1 || analytics.TopEvents[0].Event != "signup" || analytics.TopEvents[0].Count != 2 {
		t.Fatalf("unexpected top events %+v", analytics.TopEvents)
	}

	rr = f.do(http.MethodGet, "/v1/events/recent?limit=5", keyGlobex, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var recent query.RecentEvents
	decode(t, rr, &recent)
	if recent.Count != 1 || recent.Events[0].UserID != "g1" {
		t.Fatalf("unexpected recent events %+v", recent)
	}
}

func TestQueryParameterErrors(t *testing.T) {
	f := newFixture(t)
	targets := []string{
		"/v1/events?start=yesterday",
		"/v1/events?limit=ten",
		"/v1/events?limit=-1",
		"/v1/analytics?interval=fortnight",
		"/v1/analytics?start=2025-03-02T00:00:00Z&end=2025-03-01T00:00:00Z",
		"/v1/usage?days=0x1",
		"/v1/usage?days=1000",
		"/v1/funnel",
	}
	for _, target := range targets {
		rr := f.do(http.MethodGet, target, keyAcme, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d: %s", target, rr.Code, rr.Body.String())
		}
	}
}

func TestFunnelAcceptsCommaSeparatedSteps(t *testing.T) {
	f := newFixture(t)
	for _, raw := range []string{`{"type":"view","userId":"u1"}`, `{"type":"view","userId":"u2"}`, `{"type":"buy","userId":"u1"}`} {
		f.do(http.MethodPost, "/v1/track", keyAcme, []byte(raw))
	}
	rr := f.do(http.MethodGet, "/v1/funnel?steps=view,buy&days=1", keyAcme, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var funnel query.Funnel
	decode(t, rr, &funnel)
	if len(funnel.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %+v", funnel.Steps)
	}
	if funnel.Steps[0].Count != 2 || funnel.Steps[1].Count != 1 || funnel.Steps[1].ConversionRate != 50 {
		t.Fatalf("unexpected funnel %+v", funnel.Steps)
	}
}

func TestUsageReturnsDailySeries(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/v1/track", keyAcme, []byte(`{"type":"signup"}`))
	rr := f.do(http.MethodGet, "/v1/usage?days=7", keyAcme, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var usage query.Usage
	decode(t, rr, &usage)
	if usage.Days != 7 || len(usage.EventsOverTime) != 7 || usage.TotalEvents != 1 {
		t.Fatalf("unexpected usage %+v", usage)
	}
}

type brokenQuerier struct{ Querier }

func (brokenQuerier) Analytics(context.Context, string, time.Time, time.Time, index.Interval) (query.Analytics, error) {
	return query.Analytics{}, domain.ErrIndexUnavailable
}

func (brokenQuerier) Ping(context.Context) error { return domain.ErrIndexUnavailable }

func TestIndexFailureMapsTo503(t *testing.T) {
	reg := prometheus.NewRegistry()
	router := NewRouter(Options{
		Tenants:    resolverStub{},
		Query:      brokenQuerier{},
		Limiter:    &rateLimiterStub{allowFn: func(string, int, time.Duration) rateDecision { return rateDecision{allowed: true} }},
		Registerer: reg,
		Gatherer:   reg,
	})
	defer router.Close()

	req := httptest.NewRequest(http.MethodGet, "/v1/analytics", nil)
	req.Header.Set("X-API-Key", keyAcme)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz/index", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected index health 503, got %d", rr.Code)
	}
}

func TestRateLimitedRequestsReturn429(t *testing.T) {
	f := newFixture(t)
	reset := time.Unix(1_950_000_000, 0)
	f.limiter.allowFn = func(key string, limit int, window time.Duration) rateDecision {
		return rateDecision{allowed: false, count: limit, windowEnd: reset}
	}
	rr := f.do(http.MethodPost, "/v1/track", keyAcme, []byte(`{"type":"signup"}`))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("unexpected remaining header %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != "1950000000" {
		t.Fatalf("unexpected reset header %q", got)
	}
	if len(f.limiter.keys) != 1 || f.limiter.keys[0] != "tenant:acme:ingest" {
		t.Fatalf("unexpected limiter keys %v", f.limiter.keys)
	}
	if got := testutil.ToFloat64(f.router.metrics.rateLimitHits.WithLabelValues("ingest")); got != 1 {
		t.Fatalf("expected one rate limit hit, got %v", got)
	}
	if len(f.repo.events) != 0 {
		t.Fatal("rate limited request must not be stored")
	}
}

func TestMemoryRateLimiterWindow(t *testing.T) {
	rl := NewMemoryRateLimiter()
	defer rl.Close()
	for i := 0; i < 2; i++ {
		if d := rl.Allow("k", 2, time.Minute); !d.allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if d := rl.Allow("k", 2, time.Minute); d.allowed {
		t.Fatal("third request should be limited")
	}
	if d := rl.Allow("other", 2, time.Minute); !d.allowed {
		t.Fatal("keys must be counted independently")
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	f.router.dbHealth = func(context.Context) error { return nil }
	rr := f.do(http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	f.router.dbHealth = func(context.Context) error { return errors.New("down") }
	rr = f.do(http.MethodGet, "/healthz", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var body map[string]any
	decode(t, rr, &body)
	if body["status"] != "degraded" {
		t.Fatalf("unexpected status %v", body["status"])
	}
}

func TestMetricsEndpointExposesRequestCounters(t *testing.T) {
	f := newFixture(t)
	f.do(http.MethodPost, "/v1/track", keyAcme, []byte(`{"type":"signup"}`))
	rr := f.do(http.MethodGet, "/metrics", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	body := rr.Body.String()
	for _, name := range []string{"tally_api_http_requests_total", "tally_stream_connections"} {
		if !strings.Contains(body, name) {
			t.Fatalf("expected %s in metrics output", name)
		}
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "req-42" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
}

func TestRecoveryReturns500(t *testing.T) {
	f := newFixture(t)
	handler := f.router.withRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
}

func TestStreamDeliversConnectedThenEvents(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/stream?api_key="+keyAcme, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	frames := make(chan ws.Message, 4)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var msg ws.Message
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg) == nil {
				frames <- msg
			}
		}
		close(frames)
	}()

	next := func() ws.Message {
		t.Helper()
		select {
		case msg, ok := <-frames:
			if !ok {
				t.Fatal("stream closed early")
			}
			return msg
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for stream frame")
		}
		return ws.Message{}
	}

	connected := next()
	if connected.Type != ws.MessageConnected || connected.TenantID != "acme" || connected.ConnectionID == "" {
		t.Fatalf("unexpected first frame %+v", connected)
	}

	f.do(http.MethodPost, "/v1/track", keyGlobex, []byte(`{"type":"other_tenant"}`))
	f.do(http.MethodPost, "/v1/track", keyAcme, []byte(`{"type":"signup"}`))

	event := next()
	if event.Type != ws.MessageEvent || event.Event == nil || event.Event.Type != "signup" {
		t.Fatalf("unexpected event frame %+v", event)
	}
	if f.hub.TenantCount("acme") != 1 {
		t.Fatalf("expected one acme subscriber, got %d", f.hub.TenantCount("acme"))
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for f.hub.TenantCount("acme") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not unregistered after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStreamRequiresCredential(t *testing.T) {
	f := newFixture(t)
	rr := f.do(http.MethodGet, "/v1/stream", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if f.hub.Count() != 0 {
		t.Fatal("unauthenticated stream must not register")
	}
}
