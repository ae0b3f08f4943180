package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps service errors to an HTTP status and a client-safe message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "credential required"
	case errors.Is(err, domain.ErrInvalidCredential):
		return http.StatusUnauthorized, "invalid credential"
	case errors.Is(err, domain.ErrInvalidEvent), errors.Is(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, domain.ErrStoreUnavailable.Error()
	case errors.Is(err, domain.ErrIndexUnavailable):
		return http.StatusServiceUnavailable, domain.ErrIndexUnavailable.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		r.logger.Error("request failed", "path", req.URL.Path, "error", err, "request_id", requestIDFromContext(req.Context()))
	}
	writeError(w, status, msg)
}
