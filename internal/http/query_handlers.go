package httpx

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/index"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/service/query"
)

const propertyParamPrefix = "prop."

func (r *Router) handleSearchEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	tenant, _ := tenantFromContext(req.Context())

	filter, err := parseEventFilter(req.URL.Query())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	result, err := r.query.SearchEvents(req.Context(), tenant.ID, query.SearchParams{
		Type:       filter.Type,
		UserID:     filter.UserID,
		Start:      filter.Start,
		End:        filter.End,
		Properties: filter.Properties,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleRecentEvents(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	tenant, _ := tenantFromContext(req.Context())

	filter, err := parseEventFilter(req.URL.Query())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	result, err := r.query.RecentEvents(req.Context(), tenant.ID, filter)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleAnalytics(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	tenant, _ := tenantFromContext(req.Context())
	values := req.URL.Query()

	start, end, err := parseRange(values)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	interval, err := index.ParseInterval(values.Get("interval"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	result, err := r.query.Analytics(req.Context(), tenant.ID, start, end, interval)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleUsage(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	tenant, _ := tenantFromContext(req.Context())

	days, err := parseInt(req.URL.Query(), "days")
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	result, err := r.query.Usage(req.Context(), tenant.ID, days)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Router) handleFunnel(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	tenant, _ := tenantFromContext(req.Context())
	values := req.URL.Query()

	var steps []string
	for _, raw := range values["steps"] {
		steps = append(steps, strings.Split(raw, ",")...)
	}

	start, end, err := parseRange(values)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if values.Get("start") == "" {
		days, err := parseInt(values, "days")
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		if days > 0 {
			if end.IsZero() {
				end = time.Now().UTC()
			}
			start = end.AddDate(0, 0, -days)
		}
	}

	result, err := r.query.Funnel(req.Context(), tenant.ID, steps, start, end)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseEventFilter(values url.Values) (domain.EventFilter, error) {
	start, end, err := parseRange(values)
	if err != nil {
		return domain.EventFilter{}, err
	}
	limit, err := parseInt(values, "limit")
	if err != nil {
		return domain.EventFilter{}, err
	}
	offset, err := parseInt(values, "offset")
	if err != nil {
		return domain.EventFilter{}, err
	}
	userID := values.Get("userId")
	if userID == "" {
		userID = values.Get("user_id")
	}
	filter := domain.EventFilter{
		Type:   values.Get("type"),
		UserID: userID,
		Start:  start,
		End:    end,
		Limit:  limit,
		Offset: offset,
	}
	for key, vals := range values {
		if !strings.HasPrefix(key, propertyParamPrefix) || len(vals) == 0 {
			continue
		}
		name := strings.TrimPrefix(key, propertyParamPrefix)
		if name == "" {
			return domain.EventFilter{}, fmt.Errorf("%w: empty property name", domain.ErrInvalidQuery)
		}
		if filter.Properties == nil {
			filter.Properties = make(map[string]string)
		}
		filter.Properties[name] = vals[0]
	}
	return filter, nil
}

func parseRange(values url.Values) (time.Time, time.Time, error) {
	start, err := parseTime(values.Get("start"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: start: %v", domain.ErrInvalidQuery, err)
	}
	end, err := parseTime(values.Get("end"))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: end: %v", domain.ErrInvalidQuery, err)
	}
	return start, end, nil
}

// parseTime accepts RFC 3339 or unix milliseconds. Empty means unbounded.
func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.UTC(), nil
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC 3339 or unix milliseconds, got %q", raw)
	}
	return time.UnixMilli(millis).UTC(), nil
}

func parseInt(values url.Values, key string) (int, error) {
	raw := strings.TrimSpace(values.Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidQuery, key)
	}
	return n, nil
}
