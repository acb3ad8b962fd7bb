package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, batch *Batch) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Batch, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Batch, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Batch, error)
	// UpdateLifecycle writes the status columns guarded by batch.Version and
	// bumps the version on success.
	UpdateLifecycle(ctx context.Context, db *gorm.DB, batch *Batch) error
	// UpdateTotals writes case_count and total_supply_items, guarded by
	// batch.Version like UpdateLifecycle.
	UpdateTotals(ctx context.Context, db *gorm.DB, batch *Batch) error
}
