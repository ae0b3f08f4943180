package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/repository"
	"github.com/raymccarthy5/multi-tenant-analytics/pkg/crypto"
)

// Cache remembers resolved tenants by credential digest. Only successful lookups are
// cached.
type Cache interface {
	Get(ctx context.Context, digest string) (domain.Tenant, bool, error)
	Set(ctx context.Context, digest string, tenant domain.Tenant, ttl time.Duration) error
}

// Service resolves credentials to tenants.
type Service struct {
	tenants repository.TenantRepository
	cache   Cache
	ttl     time.Duration
	logger  *slog.Logger
}

// New returns a tenant service. A nil cache disables caching.
func New(tenants repository.TenantRepository, cache Cache, ttl time.Duration, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return Service{tenants: tenants, cache: cache, ttl: ttl, logger: logger.With("component", "tenant_resolver")}
}

// Resolve maps a presented credential to its tenant.
func (s Service) Resolve(ctx context.Context, credential string) (domain.Tenant, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return domain.Tenant{}, domain.ErrUnauthenticated
	}
	digest := crypto.HashAPIKey(credential)

	if s.cache != nil {
		tenant, ok, err := s.cache.Get(ctx, digest)
		if err != nil {
			s.logger.Warn("tenant cache read failed", "error", err)
		} else if ok {
			return tenant, nil
		}
	}

	tenant, err := s.tenants.GetTenantByAPIKeyHash(ctx, digest)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Tenant{}, domain.ErrInvalidCredential
		}
		return domain.Tenant{}, fmt.Errorf("%w: resolve tenant: %v", domain.ErrStoreUnavailable, err)
	}
	// never hand out a row whose digest differs
	if !crypto.DigestEqual(tenant.APIKeyHash, digest) {
		return domain.Tenant{}, domain.ErrInvalidCredential
	}

	if s.cache != nil && s.ttl > 0 {
		if err := s.cache.Set(ctx, digest, *tenant, s.ttl); err != nil {
			s.logger.Warn("tenant cache write failed", "error", err)
		}
	}
	return *tenant, nil
}

// Provision creates a tenant and returns it with its newly generated credential. The
// credential is only ever available here; the store keeps its digest.
func (s Service) Provision(ctx context.Context, id, name string) (domain.Tenant, string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Tenant{}, "", fmt.Errorf("%w: tenant name required", repository.ErrInvalidArgument)
	}
	key, err := crypto.GenerateAPIKey()
	if err != nil {
		return domain.Tenant{}, "", fmt.Errorf("generate api key: %w", err)
	}
	tenant := domain.Tenant{ID: id, Name: name, APIKeyHash: crypto.HashAPIKey(key)}
	if err := s.tenants.CreateTenant(ctx, &tenant); err != nil {
		return domain.Tenant{}, "", err
	}
	s.logger.Info("tenant provisioned", "tenant_id", tenant.ID, "name", tenant.Name)
	return tenant, key, nil
}
