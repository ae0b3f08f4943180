package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raymccarthy5/multi-tenant-analytics/internal/domain"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/index"
	"github.com/raymccarthy5/multi-tenant-analytics/internal/index/indextest"
)

func TestIndexContract(t *testing.T) {
	indextest.Run(t, func(t *testing.T) index.Index {
		idx, err := Open(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { idx.Close() })
		return idx
	})
}

func TestIndexPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()
	ts := time.Date(2025, time.June, 3, 10, 0, 0, 0, time.UTC)

	idx, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, idx.IndexEvents(ctx, []domain.Event{{ID: "e1", TenantID: "acme", Type: "signup", Timestamp: ts, CreatedAt: ts}}))
	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())

	idx, err = Open(path)
	require.NoError(t, err)
	defer idx.Close()

	var name string
	require.NoError(t, idx.db.QueryRowContext(ctx, `SELECT index_name FROM documents WHERE id = ?`, "e1").Scan(&name))
	require.Equal(t, "events-acme-2025.06.03", name)

	res, err := idx.Search(ctx, "acme", index.SearchQuery{Type: "signup"})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
}
