// Package sqlite implements the aggregation index on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/index"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		index_name TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		type TEXT NOT NULL,
		user_id TEXT,
		ts INTEGER NOT NULL,
		source BLOB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_tenant_ts ON documents(tenant_id, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_index_name ON documents(index_name)`,
	`CREATE TABLE IF NOT EXISTS document_fields (
		document_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (document_id, key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_document_fields_key_value ON document_fields(key, value)`,
}

// Index stores documents in SQLite. Timestamps are kept as unix microseconds.
type Index struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// Open creates or opens the index at path. Use ":memory:" for an ephemeral index.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index database: %w", err)
	}
	// a single connection keeps ":memory:" databases alive and serialises writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create index schema: %w", err)
		}
	}
	return &Index{db: db}, nil
}

// IndexEvents implements index.Index.
func (i *Index) IndexEvents(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return index.ErrClosed
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, event := range events {
		doc := event
		doc.Timestamp = event.Timestamp.UTC()
		doc.CreatedAt = event.CreatedAt.UTC()
		source, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode document %s: %w", event.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, index_name, tenant_id, type, user_id, ts, source)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				index_name = excluded.index_name,
				tenant_id = excluded.tenant_id,
				type = excluded.type,
				user_id = excluded.user_id,
				ts = excluded.ts,
				source = excluded.source
		`, event.ID, index.Name(event.TenantID, event.Timestamp), event.TenantID, event.Type,
			nullable(event.UserID), event.Timestamp.UnixMicro(), source); err != nil {
			return fmt.Errorf("index document %s: %w", event.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM document_fields WHERE document_id = ?`, event.ID); err != nil {
			return fmt.Errorf("reset document fields %s: %w", event.ID, err)
		}
		for key, value := range index.Flatten(event.Properties) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO document_fields (document_id, key, value) VALUES (?, ?, ?)`,
				event.ID, key, value); err != nil {
				return fmt.Errorf("index document field %s: %w", key, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit index tx: %w", err)
	}
	return nil
}

// Search implements index.Index.
func (i *Index) Search(ctx context.Context, tenantID string, q index.SearchQuery) (index.SearchResult, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return index.SearchResult{}, index.ErrClosed
	}

	where, args := filter(tenantID, q.Range, q.Type, q.UserID, q.Properties)

	var result index.SearchResult
	if err := i.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents d WHERE `+where, args...).Scan(&result.Total); err != nil {
		return index.SearchResult{}, fmt.Errorf("count documents: %w", err)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := i.db.QueryContext(ctx,
		`SELECT source FROM documents d WHERE `+where+` ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return index.SearchResult{}, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var source []byte
		if err := rows.Scan(&source); err != nil {
			return index.SearchResult{}, fmt.Errorf("scan document: %w", err)
		}
		var event domain.Event
		if err := json.Unmarshal(source, &event); err != nil {
			return index.SearchResult{}, fmt.Errorf("decode document: %w", err)
		}
		result.Events = append(result.Events, event)
	}
	if err := rows.Err(); err != nil {
		return index.SearchResult{}, fmt.Errorf("iterate documents: %w", err)
	}
	return result, nil
}

// Aggregate implements index.Index.
func (i *Index) Aggregate(ctx context.Context, tenantID string, q index.AggregateQuery) (index.AggregateResult, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return index.AggregateResult{}, index.ErrClosed
	}

	where, args := filter(tenantID, q.Range, q.Type, "", nil)

	var result index.AggregateResult
	if err := i.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT user_id) FROM documents d WHERE `+where, args...,
	).Scan(&result.Total, &result.UniqueUsers); err != nil {
		return index.AggregateResult{}, fmt.Errorf("count documents: %w", err)
	}

	if q.Interval != "" {
		buckets, err := i.histogram(ctx, where, args, q.Interval)
		if err != nil {
			return index.AggregateResult{}, err
		}
		result.Buckets = buckets
	}
	if q.TopN > 0 {
		terms, err := i.terms(ctx, where, args, q.TopN)
		if err != nil {
			return index.AggregateResult{}, err
		}
		result.Terms = terms
	}
	return result, nil
}

func (i *Index) histogram(ctx context.Context, where string, args []any, interval index.Interval) ([]index.Bucket, error) {
	span := interval.Duration().Microseconds()
	// sqlite % truncates toward zero; floor explicitly so pre-1970 events match Interval.Floor
	rows, err := i.db.QueryContext(ctx,
		`SELECT ts - (((ts % ?) + ?) % ?) AS bucket, COUNT(*) FROM documents d WHERE `+where+` GROUP BY bucket ORDER BY bucket`,
		append([]any{span, span, span}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("histogram query: %w", err)
	}
	defer rows.Close()

	var buckets []index.Bucket
	for rows.Next() {
		var start, count int64
		if err := rows.Scan(&start, &count); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		buckets = append(buckets, index.Bucket{Start: time.UnixMicro(start).UTC(), Count: count})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}
	return buckets, nil
}

func (i *Index) terms(ctx context.Context, where string, args []any, topN int) ([]index.TermCount, error) {
	rows, err := i.db.QueryContext(ctx,
		`SELECT type, COUNT(*) AS n FROM documents d WHERE `+where+` GROUP BY type ORDER BY n DESC, type ASC LIMIT ?`,
		append(args, topN)...)
	if err != nil {
		return nil, fmt.Errorf("terms query: %w", err)
	}
	defer rows.Close()

	var terms []index.TermCount
	for rows.Next() {
		var term index.TermCount
		if err := rows.Scan(&term.Term, &term.Count); err != nil {
			return nil, fmt.Errorf("scan term: %w", err)
		}
		terms = append(terms, term)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate terms: %w", err)
	}
	return terms, nil
}

// Ping implements index.Index.
func (i *Index) Ping(ctx context.Context) error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return index.ErrClosed
	}
	return i.db.PingContext(ctx)
}

// Close implements index.Index.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return nil
	}
	i.closed = true
	return i.db.Close()
}

func filter(tenantID string, r index.TimeRange, eventType, userID string, props map[string]string) (string, []any) {
	conds := []string{"d.tenant_id = ?"}
	args := []any{tenantID}
	if eventType != "" {
		conds = append(conds, "d.type = ?")
		args = append(args, eventType)
	}
	if userID != "" {
		conds = append(conds, "d.user_id = ?")
		args = append(args, userID)
	}
	if !r.Start.IsZero() {
		conds = append(conds, "d.ts >= ?")
		args = append(args, r.Start.UnixMicro())
	}
	if !r.End.IsZero() {
		conds = append(conds, "d.ts <= ?")
		args = append(args, r.End.UnixMicro())
	}
	keys := make([]string, 0, len(props))
	for key := range props {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		conds = append(conds, "EXISTS (SELECT 1 FROM document_fields f WHERE f.document_id = d.id AND f.key = ? AND f.value = ?)")
		args = append(args, key, props[key])
	}
	return strings.Join(conds, " AND "), args
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
