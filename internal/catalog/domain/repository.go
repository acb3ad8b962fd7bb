package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, item *SupplyItem) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SupplyItem, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*SupplyItem, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*SupplyItem, error)
	List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]*SupplyItem, error)
}
