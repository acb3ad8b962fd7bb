package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, need *Need) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Need, error)
	// FindByIDForUpdate row-locks the need where the dialect supports it.
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Need, error)
	FindByIDsForUpdate(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*Need, error)
	FindByBatchID(ctx context.Context, db *gorm.DB, batchID snowflake.ID, forUpdate bool) ([]*Need, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Need, error)

	// UpdateCollected writes collected_quantity guarded by need.Version and
	// bumps the version on success.
	UpdateCollected(ctx context.Context, db *gorm.DB, need *Need) error
	// UpdateLifecycle writes status, pickup_date and batch_id guarded by
	// need.Version and bumps the version on success.
	UpdateLifecycle(ctx context.Context, db *gorm.DB, need *Need) error
}
