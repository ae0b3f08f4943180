package repository

import (
	"context"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
)

// TenantRepository resolves and provisions tenants.
type TenantRepository interface {
	GetTenantByAPIKeyHash(ctx context.Context, hash string) (*domain.Tenant, error)
	CreateTenant(ctx context.Context, tenant *domain.Tenant) error
}

// EventRepository is the durable, append-only source of truth for events.
type EventRepository interface {
	// InsertEvents stores every event in one transaction or none of them.
	// CreatedAt is populated on success.
	InsertEvents(ctx context.Context, events []*domain.Event) error
	ListEvents(ctx context.Context, tenantID string, filter domain.EventFilter) ([]domain.Event, int64, error)
}
