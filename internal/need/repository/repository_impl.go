package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/needflow/internal/need/domain"
	"github.com/smallbiznis/needflow/pkg/db"
	"gorm.io/gorm"
)

const needColumns = `id, kind, case_id, worker_id, supply_item_id, item_name,
	requested_quantity, collected_quantity, status, priority, batch_id,
	pickup_date, note, version, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, need *domain.Need) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO needs (`+needColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		need.ID,
		need.Kind,
		need.CaseID,
		need.WorkerID,
		need.SupplyItemID,
		need.ItemName,
		need.RequestedQuantity,
		need.CollectedQuantity,
		need.Status,
		need.Priority,
		need.BatchID,
		need.PickupDate,
		need.Note,
		need.Version,
		need.CreatedAt,
		need.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Need, error) {
	return r.findOne(ctx, conn, `SELECT `+needColumns+` FROM needs WHERE id = ?`, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Need, error) {
	return r.findOne(ctx, conn, db.ForUpdate(conn, `SELECT `+needColumns+` FROM needs WHERE id = ?`), id)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, query string, id snowflake.ID) (*domain.Need, error) {
	var need domain.Need
	if err := conn.WithContext(ctx).Raw(query, id).Scan(&need).Error; err != nil {
		return nil, err
	}
	if need.ID == 0 {
		return nil, nil
	}
	return &need, nil
}

// FindByIDsForUpdate locks rows in id order so concurrent batch operations
// over overlapping members acquire locks in the same sequence.
func (r *repo) FindByIDsForUpdate(ctx context.Context, conn *gorm.DB, ids []snowflake.ID) ([]*domain.Need, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var needs []*domain.Need
	query := db.ForUpdate(conn, `SELECT `+needColumns+` FROM needs WHERE id IN ? ORDER BY id ASC`)
	if err := conn.WithContext(ctx).Raw(query, ids).Scan(&needs).Error; err != nil {
		return nil, err
	}
	return needs, nil
}

func (r *repo) FindByBatchID(ctx context.Context, conn *gorm.DB, batchID snowflake.ID, forUpdate bool) ([]*domain.Need, error) {
	var needs []*domain.Need
	query := `SELECT ` + needColumns + ` FROM needs WHERE batch_id = ? ORDER BY case_id ASC, id ASC`
	if forUpdate {
		query = db.ForUpdate(conn, query)
	}
	if err := conn.WithContext(ctx).Raw(query, batchID).Scan(&needs).Error; err != nil {
		return nil, err
	}
	return needs, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]*domain.Need, error) {
	var needs []*domain.Need
	stmt := conn.WithContext(ctx).Model(&domain.Need{})

	if filter.CaseID != nil {
		stmt = stmt.Where("case_id = ?", *filter.CaseID)
	}
	if filter.WorkerID != nil {
		stmt = stmt.Where("worker_id = ?", *filter.WorkerID)
	}
	if filter.Kind != "" {
		stmt = stmt.Where("kind = ?", filter.Kind)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.BatchID != nil {
		stmt = stmt.Where("batch_id = ?", *filter.BatchID)
	}
	if filter.CreatedFrom != nil {
		stmt = stmt.Where("created_at >= ?", filter.CreatedFrom.UTC())
	}
	if filter.CreatedTo != nil {
		stmt = stmt.Where("created_at <= ?", filter.CreatedTo.UTC())
	}
	if filter.Cursor != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.Cursor.CreatedAt,
			filter.Cursor.CreatedAt,
			filter.Cursor.ID,
		)
	}

	stmt = stmt.Order("created_at desc, id desc")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}

	if err := stmt.Find(&needs).Error; err != nil {
		return nil, err
	}
	return needs, nil
}

func (r *repo) UpdateCollected(ctx context.Context, conn *gorm.DB, need *domain.Need) error {
	result := conn.WithContext(ctx).Exec(
		`UPDATE needs SET collected_quantity = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		need.CollectedQuantity,
		need.UpdatedAt,
		need.ID,
		need.Version,
	)
	return r.afterGuardedUpdate(result, need)
}

func (r *repo) UpdateLifecycle(ctx context.Context, conn *gorm.DB, need *domain.Need) error {
	result := conn.WithContext(ctx).Exec(
		`UPDATE needs SET status = ?, pickup_date = ?, batch_id = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		need.Status,
		need.PickupDate,
		need.BatchID,
		need.UpdatedAt,
		need.ID,
		need.Version,
	)
	return r.afterGuardedUpdate(result, need)
}

func (r *repo) afterGuardedUpdate(result *gorm.DB, need *domain.Need) error {
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrentModification
	}
	need.Version++
	return nil
}
