package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/needflow/internal/migration"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// OpenDB returns a private in-memory sqlite database with every table migrated.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.Run(conn))
	return conn
}

func NewNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

// Epoch is the instant every fake clock in the test suites starts from.
var Epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// RowTamperer rewrites rows behind the services' backs so tests can reach
// states the services never produce themselves.
type RowTamperer struct {
	db *gorm.DB
}

func NewRowTamperer(db *gorm.DB) *RowTamperer {
	return &RowTamperer{db: db}
}

func (r *RowTamperer) SetNeedStatus(ctx context.Context, needID snowflake.ID, status string) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE needs SET status = ?, version = version + 1 WHERE id = ?`,
		status, needID,
	).Error
}

func (r *RowTamperer) SetNeedBatch(ctx context.Context, needID snowflake.ID, batchID *snowflake.ID) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE needs SET batch_id = ?, version = version + 1 WHERE id = ?`,
		batchID, needID,
	).Error
}

func (r *RowTamperer) SetBatchTotal(ctx context.Context, batchID snowflake.ID, total int64) error {
	return r.db.WithContext(ctx).Exec(
		`UPDATE distribution_batches SET total_supply_items = ?, version = version + 1 WHERE id = ?`,
		total, batchID,
	).Error
}
