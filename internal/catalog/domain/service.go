package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type CreateItemRequest struct {
	Code      string
	Name      string
	Unit      string
	UnitPrice int64
}

//go:generate mockgen -source=service.go -destination=../mocks/mock_service.go -package=mocks

// Lookup resolves supply items for the engine. It never writes.
type Lookup interface {
	Lookup(ctx context.Context, id snowflake.ID) (SupplyItem, error)
	LookupMany(ctx context.Context, ids []snowflake.ID) (map[snowflake.ID]SupplyItem, error)
}

type Service interface {
	Lookup

	// CreateItem inserts an item, or returns the existing one when the code is taken.
	CreateItem(ctx context.Context, req CreateItemRequest) (SupplyItem, bool, error)
	List(ctx context.Context, activeOnly bool) ([]SupplyItem, error)
}

var (
	ErrSupplyItemNotFound = errors.New("supply_item_not_found")
	ErrInvalidName        = errors.New("invalid_name")
	ErrInvalidUnitPrice   = errors.New("invalid_unit_price")
)
