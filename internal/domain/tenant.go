package domain

import "time"

// Tenant is an isolated customer scope. All events and streams are partitioned by ID.
type Tenant struct {
	ID         string
	Name       string
	APIKeyHash string
	CreatedAt  time.Time
}
