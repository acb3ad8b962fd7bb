package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/needflow/internal/distribution/domain"
	"github.com/smallbiznis/needflow/pkg/db"
	"gorm.io/gorm"
)

const batchColumns = `id, distribution_date, created_by_worker_id, status,
	approved_at, approved_by_worker_id, rejected_at, rejected_by_worker_id,
	rejection_reason, completed_at, notes, case_count, total_supply_items,
	version, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, conn *gorm.DB, batch *domain.Batch) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO distribution_batches (`+batchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.ID,
		batch.DistributionDate,
		batch.CreatedByWorkerID,
		batch.Status,
		batch.ApprovedAt,
		batch.ApprovedByWorkerID,
		batch.RejectedAt,
		batch.RejectedByWorkerID,
		batch.RejectionReason,
		batch.CompletedAt,
		batch.Notes,
		batch.CaseCount,
		batch.TotalSupplyItems,
		batch.Version,
		batch.CreatedAt,
		batch.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Batch, error) {
	return r.findOne(ctx, conn, `SELECT `+batchColumns+` FROM distribution_batches WHERE id = ?`, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Batch, error) {
	return r.findOne(ctx, conn, db.ForUpdate(conn, `SELECT `+batchColumns+` FROM distribution_batches WHERE id = ?`), id)
}

func (r *repo) findOne(ctx context.Context, conn *gorm.DB, query string, id snowflake.ID) (*domain.Batch, error) {
	var batch domain.Batch
	if err := conn.WithContext(ctx).Raw(query, id).Scan(&batch).Error; err != nil {
		return nil, err
	}
	if batch.ID == 0 {
		return nil, nil
	}
	return &batch, nil
}

func (r *repo) List(ctx context.Context, conn *gorm.DB, filter domain.ListFilter) ([]*domain.Batch, error) {
	var batches []*domain.Batch
	stmt := conn.WithContext(ctx).Model(&domain.Batch{})

	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
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

	if err := stmt.Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *repo) UpdateLifecycle(ctx context.Context, conn *gorm.DB, batch *domain.Batch) error {
	result := conn.WithContext(ctx).Exec(
		`UPDATE distribution_batches SET
			status = ?,
			approved_at = ?,
			approved_by_worker_id = ?,
			rejected_at = ?,
			rejected_by_worker_id = ?,
			rejection_reason = ?,
			completed_at = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?`,
		batch.Status,
		batch.ApprovedAt,
		batch.ApprovedByWorkerID,
		batch.RejectedAt,
		batch.RejectedByWorkerID,
		batch.RejectionReason,
		batch.CompletedAt,
		batch.UpdatedAt,
		batch.ID,
		batch.Version,
	)
	return r.bumped(result, batch)
}

func (r *repo) UpdateTotals(ctx context.Context, conn *gorm.DB, batch *domain.Batch) error {
	result := conn.WithContext(ctx).Exec(
		`UPDATE distribution_batches SET
			case_count = ?,
			total_supply_items = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?`,
		batch.CaseCount,
		batch.TotalSupplyItems,
		batch.UpdatedAt,
		batch.ID,
		batch.Version,
	)
	return r.bumped(result, batch)
}

func (r *repo) bumped(result *gorm.DB, batch *domain.Batch) error {
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrentModification
	}
	batch.Version++
	return nil
}
