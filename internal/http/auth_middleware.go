package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
)

type tenantContextKey struct{}

type contextSetter interface {
	SetContext(context.Context)
}

// requireTenant resolves the request credential before invoking the handler. Tenant ids
// are never read from request bodies or parameters.
func (r *Router) requireTenant(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		tenant, err := r.tenants.Resolve(req.Context(), credentialFromRequest(req))
		if err != nil {
			r.logger.Warn("tenant resolution failed", "error", err, "path", req.URL.Path)
			r.writeServiceError(w, req, err)
			return
		}
		ctx := context.WithValue(req.Context(), tenantContextKey{}, tenant)
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

func tenantFromContext(ctx context.Context) (domain.Tenant, bool) {
	tenant, ok := ctx.Value(tenantContextKey{}).(domain.Tenant)
	return tenant, ok
}

// credentialFromRequest reads X-API-Key, then a bearer token, then the api_key query
// parameter used by EventSource clients that cannot set headers.
func credentialFromRequest(req *http.Request) string {
	if key := strings.TrimSpace(req.Header.Get("X-API-Key")); key != "" {
		return key
	}
	if header := strings.TrimSpace(req.Header.Get("Authorization")); header != "" {
		parts := strings.Fields(header)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
	}
	return strings.TrimSpace(req.URL.Query().Get("api_key"))
}
