package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang/snappy"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
)

var (
	errUnsupportedEncoding = errors.New("unsupported content encoding")
	errBodyTooLarge        = errors.New("request body too large")
)

func (r *Router) handleTrack(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	tenant, _ := tenantFromContext(req.Context())

	var input domain.EventInput
	if err := r.decodeBody(req, &input); err != nil {
		r.writeDecodeError(w, err)
		return
	}
	event, err := r.ingest.IngestOne(req.Context(), tenant.ID, input)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"eventId":   event.ID,
		"timestamp": event.Timestamp.Format(time.RFC3339Nano),
	})
}

func (r *Router) handleTrackBatch(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	tenant, _ := tenantFromContext(req.Context())

	var payload struct {
		Events json.RawMessage `json:"events"`
	}
	if err := r.decodeBody(req, &payload); err != nil {
		r.writeDecodeError(w, err)
		return
	}
	raw := strings.TrimSpace(string(payload.Events))
	if !strings.HasPrefix(raw, "[") {
		writeError(w, http.StatusBadRequest, "events must be a non-empty list")
		return
	}
	var inputs []domain.EventInput
	if err := json.Unmarshal(payload.Events, &inputs); err != nil {
		writeError(w, http.StatusBadRequest, "events must be a list of event objects")
		return
	}
	if len(inputs) == 0 {
		writeError(w, http.StatusBadRequest, "events must be a non-empty list")
		return
	}

	events, err := r.ingest.IngestBatch(req.Context(), tenant.ID, inputs)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	ids := make([]string, len(events))
	for i, event := range events {
		ids[i] = event.ID
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"eventIds": ids,
		"count":    len(ids),
	})
}

// decodeBody reads a JSON body, optionally snappy-compressed, bounded by maxBodyBytes.
func (r *Router) decodeBody(req *http.Request, dst any) error {
	data, err := io.ReadAll(io.LimitReader(req.Body, r.maxBodyBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > r.maxBodyBytes {
		return errBodyTooLarge
	}

	switch encoding := strings.ToLower(strings.TrimSpace(req.Header.Get("Content-Encoding"))); encoding {
	case "", "identity":
	case "snappy":
		n, err := snappy.DecodedLen(data)
		if err != nil {
			return fmt.Errorf("decode snappy body: %w", err)
		}
		if int64(n) > r.maxBodyBytes {
			return errBodyTooLarge
		}
		if data, err = snappy.Decode(nil, data); err != nil {
			return fmt.Errorf("decode snappy body: %w", err)
		}
	default:
		return fmt.Errorf("%w: %s", errUnsupportedEncoding, encoding)
	}

	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (r *Router) writeDecodeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, errBodyTooLarge.Error())
	case errors.Is(err, errUnsupportedEncoding):
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
	default:
		writeError(w, http.StatusBadRequest, "invalid JSON body")
	}
}
