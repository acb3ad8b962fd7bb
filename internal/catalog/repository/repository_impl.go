package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/needflow/internal/catalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, item *domain.SupplyItem) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO supply_items (id, code, name, unit, unit_price, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.Code,
		item.Name,
		item.Unit,
		item.UnitPrice,
		item.Active,
		item.CreatedAt,
		item.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.SupplyItem, error) {
	var item domain.SupplyItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, unit, unit_price, active, created_at, updated_at
		FROM supply_items WHERE id = ?`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*domain.SupplyItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var items []*domain.SupplyItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, unit, unit_price, active, created_at, updated_at
		FROM supply_items WHERE id IN ?`,
		ids,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.SupplyItem, error) {
	var item domain.SupplyItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, code, name, unit, unit_price, active, created_at, updated_at
		FROM supply_items WHERE code = ?`,
		strings.TrimSpace(code),
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, activeOnly bool) ([]*domain.SupplyItem, error) {
	var items []*domain.SupplyItem
	stmt := db.WithContext(ctx).Model(&domain.SupplyItem{})
	if activeOnly {
		stmt = stmt.Where("active = ?", true)
	}
	if err := stmt.Order("name asc, id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
