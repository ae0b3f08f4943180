package httpx

import (
	"net/http"
	"time"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/ws"
)

type heartbeater interface {
	Heartbeat() error
	Done() <-chan struct{}
}

func (r *Router) handleStream(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	tenant, _ := tenantFromContext(req.Context())
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	logger := r.logger.With("tenant_id", tenant.ID, "transport", "sse")
	client := ws.NewSSEClient(w, flusher, logger)
	// Close waits for an in-flight write, so nothing touches w after the handler returns
	defer client.Close()

	id := r.hub.Register(tenant.ID, client)
	if id == "" {
		return
	}
	defer r.hub.Unregister(tenant.ID, id)

	r.keepAlive(req, client)
}

func (r *Router) handleStreamWS(w http.ResponseWriter, req *http.Request) {
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	tenant, _ := tenantFromContext(req.Context())
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err, "tenant_id", tenant.ID)
		return
	}

	logger := r.logger.With("tenant_id", tenant.ID, "transport", "websocket")
	client := ws.NewClient(conn, logger)
	defer client.Close()

	id := r.hub.Register(tenant.ID, client)
	if id == "" {
		return
	}
	defer r.hub.Unregister(tenant.ID, id)

	go client.ReadLoop()
	r.keepAlive(req, client)
}

// keepAlive pings the client until it disconnects, fails a write or the request ends.
func (r *Router) keepAlive(req *http.Request, client heartbeater) {
	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}
