package httpx

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// withRequestID propagates X-Request-ID, generating one when absent.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		requestID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		ctx := context.WithValue(req.Context(), requestIDKey{}, requestID)
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// withRecovery turns handler panics into 500 responses.
func (r *Router) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				r.logger.Error("handler panic", "path", req.URL.Path, "panic", rec,
					"request_id", requestIDFromContext(req.Context()), "stack", string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, req)
	})
}
