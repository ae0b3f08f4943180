package tenant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/repository"
	"github.com/raymccarthy5/multi-tenant-analytics/pkg/crypto"
)

type stubTenantRepository struct {
	mu      sync.Mutex
	byHash  map[string]domain.Tenant
	lookups int
	err     error
}

func newStubTenantRepository(tenants ...domain.Tenant) *stubTenantRepository {
	repo := &stubTenantRepository{byHash: make(map[string]domain.Tenant)}
	for _, tenant := range tenants {
		repo.byHash[tenant.APIKeyHash] = tenant
	}
	return repo
}

func (s *stubTenantRepository) GetTenantByAPIKeyHash(ctx context.Context, hash string) (*domain.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.err != nil {
		return nil, s.err
	}
	tenant, ok := s.byHash[hash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &tenant, nil
}

func (s *stubTenantRepository) CreateTenant(ctx context.Context, tenant *domain.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byHash[tenant.APIKeyHash]; exists {
		return repository.ErrInvalidArgument
	}
	tenant.CreatedAt = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	s.byHash[tenant.APIKeyHash] = *tenant
	return nil
}

func (s *stubTenantRepository) lookupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

func acme() domain.Tenant {
	return domain.Tenant{ID: "acme", Name: "Acme", APIKeyHash: crypto.HashAPIKey("tk_acme")}
}

func TestResolveRejectsMissingCredential(t *testing.T) {
	svc := New(newStubTenantRepository(acme()), nil, 0, nil)
	for _, credential := range []string{"", "   "} {
		if _, err := svc.Resolve(context.Background(), credential); !errors.Is(err, domain.ErrUnauthenticated) {
			t.Fatalf("Resolve(%q): expected ErrUnauthenticated, got %v", credential, err)
		}
	}
}

func TestResolveMapsLookupOutcomes(t *testing.T) {
	repo := newStubTenantRepository(acme())
	svc := New(repo, nil, 0, nil)

	tenant, err := svc.Resolve(context.Background(), "tk_acme")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if tenant.ID != "acme" {
		t.Fatalf("expected acme, got %q", tenant.ID)
	}

	if _, err := svc.Resolve(context.Background(), "tk_unknown"); !errors.Is(err, domain.ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}

	repo.err = errors.New("connection refused")
	if _, err := svc.Resolve(context.Background(), "tk_acme"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestResolveCachesOnlyPositiveResults(t *testing.T) {
	repo := newStubTenantRepository(acme())
	cache := NewMemoryCache()
	svc := New(repo, cache, time.Minute, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Resolve(ctx, "tk_acme"); err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}
	if got := repo.lookupCount(); got != 1 {
		t.Fatalf("expected one store lookup, got %d", got)
	}

	for i := 0; i < 2; i++ {
		_, _ = svc.Resolve(ctx, "tk_unknown")
	}
	if got := repo.lookupCount(); got != 3 {
		t.Fatalf("expected failed lookups to bypass the cache, got %d lookups", got)
	}
}

func TestMemoryCacheExpiresEntries(t *testing.T) {
	cache := NewMemoryCache()
	now := time.Date(2025, time.January, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	if err := cache.Set(ctx, "digest", acme(), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, "digest"); !ok {
		t.Fatal("expected cache hit")
	}
	now = now.Add(time.Minute)
	if _, ok, _ := cache.Get(ctx, "digest"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestProvisionStoresDigestAndResolves(t *testing.T) {
	repo := newStubTenantRepository()
	svc := New(repo, nil, 0, nil)
	ctx := context.Background()

	tenant, key, err := svc.Provision(ctx, "globex", " Globex ")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if tenant.Name != "Globex" || tenant.APIKeyHash != crypto.HashAPIKey(key) {
		t.Fatalf("unexpected tenant %+v", tenant)
	}
	if tenant.APIKeyHash == key {
		t.Fatal("credential must not be stored in clear")
	}

	resolved, err := svc.Resolve(ctx, key)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != "globex" {
		t.Fatalf("expected globex, got %q", resolved.ID)
	}

	if _, _, err := svc.Provision(ctx, "", ""); !errors.Is(err, repository.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
