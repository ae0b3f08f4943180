package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.TenantRepository = (*Repository)(nil)
	_ repository.EventRepository  = (*Repository)(nil)
)

const defaultListLimit = 100

// GetTenantByAPIKeyHash fetches the tenant owning the credential digest.
func (r *Repository) GetTenantByAPIKeyHash(ctx context.Context, hash string) (*domain.Tenant, error) {
	const query = `SELECT id, name, api_key_hash, created_at FROM tenants WHERE api_key_hash = $1`
	row := r.pool.QueryRow(ctx, query, hash)
	var t domain.Tenant
	if err := row.Scan(&t.ID, &t.Name, &t.APIKeyHash, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// CreateTenant provisions a tenant.
func (r *Repository) CreateTenant(ctx context.Context, tenant *domain.Tenant) error {
	if tenant == nil {
		return fmt.Errorf("tenant required")
	}
	const query = `INSERT INTO tenants (id, name, api_key_hash, created_at)
		VALUES ($1, $2, $3, NOW()) RETURNING created_at`
	if err := r.pool.QueryRow(ctx, query, tenant.ID, tenant.Name, tenant.APIKeyHash).Scan(&tenant.CreatedAt); err != nil {
		return mapPgError(err)
	}
	return nil
}

// InsertEvents stores a batch of events atomically.
func (r *Repository) InsertEvents(ctx context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const insert = `INSERT INTO events (id, tenant_id, type, user_id, session_id, properties, timestamp, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW()) RETURNING created_at`
	batch := &pgx.Batch{}
	for _, event := range events {
		properties, err := encodeProperties(event.Properties)
		if err != nil {
			return fmt.Errorf("%w: event %s properties: %v", repository.ErrInvalidArgument, event.ID, err)
		}
		batch.Queue(insert,
			event.ID,
			event.TenantID,
			event.Type,
			nilIfEmpty(event.UserID),
			nilIfEmpty(event.SessionID),
			properties,
			event.Timestamp.UTC(),
		)
	}
	br := tx.SendBatch(ctx, batch)
	for _, event := range events {
		if err := br.QueryRow().Scan(&event.CreatedAt); err != nil {
			br.Close()
			return mapPgError(err)
		}
	}
	if err := br.Close(); err != nil {
		return mapPgError(err)
	}
	return tx.Commit(ctx)
}

// ListEvents returns events for a tenant, newest first, with the unpaginated total.
// Property filters compare the text form of the JSON value at a dotted key path.
func (r *Repository) ListEvents(ctx context.Context, tenantID string, filter domain.EventFilter) ([]domain.Event, int64, error) {
	q := buildListQuery(tenantID, filter)

	var total int64
	if err := r.pool.QueryRow(ctx, q.count, q.args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, q.list, q.pageArgs()...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	events := make([]domain.Event, 0)
	for rows.Next() {
		var (
			e          domain.Event
			properties []byte
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Type, &e.UserID, &e.SessionID, &properties, &e.Timestamp, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		if len(properties) > 0 {
			if err := json.Unmarshal(properties, &e.Properties); err != nil {
				return nil, 0, fmt.Errorf("decode properties for event %s: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}

// listQuery holds the count and page statements for one filter. Both share args; the
// page statement takes limit and offset after them.
type listQuery struct {
	count  string
	list   string
	args   []any
	limit  int
	offset int
}

func (q listQuery) pageArgs() []any {
	out := make([]any, 0, len(q.args)+2)
	out = append(out, q.args...)
	return append(out, q.limit, q.offset)
}

func buildListQuery(tenantID string, filter domain.EventFilter) listQuery {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := max(filter.Offset, 0)

	conditions := []string{"tenant_id = $1"}
	args := []any{tenantID}
	add := func(clause string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}
	if filter.Type != "" {
		add("type = $%d", filter.Type)
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if !filter.Start.IsZero() {
		add("timestamp >= $%d", filter.Start.UTC())
	}
	if !filter.End.IsZero() {
		add("timestamp <= $%d", filter.End.UTC())
	}
	keys := make([]string, 0, len(filter.Properties))
	for key := range filter.Properties {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		args = append(args, strings.Split(key, "."), filter.Properties[key])
		conditions = append(conditions, fmt.Sprintf("properties #>> $%d = $%d", len(args)-1, len(args)))
	}

	where := strings.Join(conditions, " AND ")
	return listQuery{
		count: `SELECT COUNT(*) FROM events WHERE ` + where,
		list: `SELECT id, tenant_id, type, COALESCE(user_id, ''), COALESCE(session_id, ''), properties, timestamp, created_at
	FROM events
	WHERE ` + where + fmt.Sprintf(`
	ORDER BY timestamp DESC, id DESC
	LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2),
		args:   args,
		limit:  limit,
		offset: offset,
	}
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return fmt.Errorf("%w: %s", repository.ErrNotFound, pgErr.Message)
		case "23505", "23514", "22P02":
			return fmt.Errorf("%w: %s", repository.ErrInvalidArgument, pgErr.Message)
		}
	}
	return err
}

func encodeProperties(props map[string]any) ([]byte, error) {
	if len(props) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(props)
}

func nilIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
