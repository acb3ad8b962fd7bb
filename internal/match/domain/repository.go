package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository has no update or delete: the match ledger only grows.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, match *Match) error
	ListByNeed(ctx context.Context, db *gorm.DB, needID snowflake.ID) ([]*Match, error)
	ListByNeeds(ctx context.Context, db *gorm.DB, needIDs []snowflake.ID) ([]*Match, error)
	SumByNeed(ctx context.Context, db *gorm.DB, needID snowflake.ID) (int64, error)
}
