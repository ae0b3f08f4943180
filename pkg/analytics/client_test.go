package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
)

func TestClientTrackSendsAPIKeyAndPayload(t *testing.T) {
	ts := time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/track" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if key := r.Header.Get("X-API-Key"); key != "tk_secret" {
			t.Errorf("unexpected api key %q", key)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["type"] != "signup" || payload["userId"] != "u1" {
			t.Errorf("unexpected payload %v", payload)
		}
		if payload["timestamp"] != "2025-03-01T10:00:00Z" {
			t.Errorf("unexpected timestamp %v", payload["timestamp"])
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"eventId":"evt-1","timestamp":"2025-03-01T10:00:00Z"}`)
	}))
	defer srv.Close()

	client, err := New(srv.URL, "tk_secret")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	res, err := client.Track(context.Background(), Event{Type: "signup", UserID: "u1", Timestamp: ts})
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if res.EventID != "evt-1" || !res.Timestamp.Equal(ts) {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestClientCompressesBatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if enc := r.Header.Get("Content-Encoding"); enc != "snappy" {
			t.Errorf("expected snappy encoding, got %q", enc)
		}
		raw, _ := io.ReadAll(r.Body)
		body, err := snappy.Decode(nil, raw)
		if err != nil {
			t.Errorf("decode snappy: %v", err)
		}
		var payload struct {
			Events []map[string]any `json:"events"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if len(payload.Events) != 2 {
			t.Errorf("expected 2 events, got %d", len(payload.Events))
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"eventIds":["a","b"],"count":2}`)
	}))
	defer srv.Close()

	client, err := New(srv.URL, "tk_secret", WithSnappy())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	res, err := client.TrackBatch(context.Background(), []Event{{Type: "a"}, {Type: "b"}})
	if err != nil {
		t.Fatalf("track batch: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestClientQueryParameters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/v1/events":
			if q.Get("type") != "signup" || q.Get("prop.plan") != "pro" || q.Get("limit") != "5" {
				t.Errorf("unexpected search query %v", q)
			}
			_, _ = io.WriteString(w, `{"events":[{"id":"e1","type":"signup"}],"total":1,"count":1,"latency":2}`)
		case "/v1/funnel":
			if q.Get("steps") != "view,buy" {
				t.Errorf("unexpected steps %q", q.Get("steps"))
			}
			_, _ = io.WriteString(w, `{"steps":[{"step":1,"event":"view","count":10,"conversionRate":100},{"step":2,"event":"buy","count":4,"conversionRate":40}]}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client, err := New(srv.URL, "tk_secret")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	search, err := client.SearchEvents(context.Background(), SearchParams{
		Type:       "signup",
		Properties: map[string]string{"plan": "pro"},
		Limit:      5,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if search.Total != 1 || search.Events[0].ID != "e1" {
		t.Fatalf("unexpected search result %+v", search)
	}

	funnel, err := client.Funnel(context.Background(), []string{"view", "buy"}, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("funnel: %v", err)
	}
	if len(funnel.Steps) != 2 || funnel.Steps[1].ConversionRate != 40 {
		t.Fatalf("unexpected funnel %+v", funnel)
	}
}

func TestClientMapsErrorStatuses(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusBadRequest, ErrInvalidArgument},
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusServiceUnavailable, ErrUnavailable},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, `{"error":"nope"}`)
		}))
		client, err := New(srv.URL, "tk_secret")
		if err != nil {
			t.Fatalf("new client: %v", err)
		}
		_, err = client.Usage(context.Background(), 7)
		srv.Close()

		var apiErr APIError
		if !errors.As(err, &apiErr) || apiErr.Status != tc.status || apiErr.Message != "nope" {
			t.Fatalf("status %d: unexpected error %v", tc.status, err)
		}
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New("localhost:4000", " "); err == nil {
		t.Fatal("expected error for blank api key")
	}
}
