package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/needflow/internal/match/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, match *domain.Match) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO need_matches (
			id, need_id, matched_quantity, matched_by_worker_id, match_date, note, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		match.ID,
		match.NeedID,
		match.MatchedQuantity,
		match.MatchedByWorkerID,
		match.MatchDate,
		match.Note,
		match.CreatedAt,
	).Error
}

func (r *repo) ListByNeed(ctx context.Context, db *gorm.DB, needID snowflake.ID) ([]*domain.Match, error) {
	var matches []*domain.Match
	err := db.WithContext(ctx).Raw(
		`SELECT id, need_id, matched_quantity, matched_by_worker_id, match_date, note, created_at
		FROM need_matches
		WHERE need_id = ?
		ORDER BY match_date ASC, id ASC`,
		needID,
	).Scan(&matches).Error
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (r *repo) ListByNeeds(ctx context.Context, db *gorm.DB, needIDs []snowflake.ID) ([]*domain.Match, error) {
	if len(needIDs) == 0 {
		return nil, nil
	}
	var matches []*domain.Match
	err := db.WithContext(ctx).Raw(
		`SELECT id, need_id, matched_quantity, matched_by_worker_id, match_date, note, created_at
		FROM need_matches
		WHERE need_id IN ?
		ORDER BY need_id ASC, match_date ASC, id ASC`,
		needIDs,
	).Scan(&matches).Error
	if err != nil {
		return nil, err
	}
	return matches, nil
}

func (r *repo) SumByNeed(ctx context.Context, db *gorm.DB, needID snowflake.ID) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(matched_quantity), 0) FROM need_matches WHERE need_id = ?`,
		needID,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
