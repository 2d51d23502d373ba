package agents

import (
	"context"
	"database/sql"
	"math"
	"testing"

	"github.com/booknest/booknest/pkg/batches"
	"github.com/booknest/booknest/pkg/migrations"
	"github.com/booknest/booknest/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// newBatchItems stores pending items for the given paths in a fresh batch.
func newBatchItems(t *testing.T, svc *batches.Service, paths ...string) []*models.BatchItem {
	t.Helper()
	ctx := context.Background()

	batch, err := svc.CreateBatch(ctx)
	require.NoError(t, err)

	items := make([]*models.BatchItem, 0, len(paths))
	for _, p := range paths {
		items = append(items, &models.BatchItem{FilePath: p, SourceSha256: "sha-" + p})
	}
	require.NoError(t, svc.CreateItems(ctx, batch.ID, items))
	return items
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0.0, ClampConfidence(-0.5))
	assert.Equal(t, 1.0, ClampConfidence(1.7))
	assert.Equal(t, 0.42, ClampConfidence(0.42))
	assert.Equal(t, 0.0, ClampConfidence(math.NaN()))
	assert.Equal(t, 1.0, ClampConfidence(math.Inf(1)))
}
