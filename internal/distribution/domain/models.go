package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/needflow/internal/catalog/domain"
	matchdomain "github.com/smallbiznis/needflow/internal/match/domain"
	needdomain "github.com/smallbiznis/needflow/internal/need/domain"
)

type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusApproved  BatchStatus = "approved"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusRejected  BatchStatus = "rejected"
)

func (s BatchStatus) Valid() bool {
	switch s {
	case BatchStatusPending, BatchStatusApproved, BatchStatusCompleted, BatchStatusRejected:
		return true
	}
	return false
}

func (s BatchStatus) Terminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusRejected
}

// Batch groups approved regular needs for one distribution day. Members are
// the needs whose batch_id points at the batch.
type Batch struct {
	ID                 snowflake.ID  `gorm:"primaryKey" json:"id"`
	DistributionDate   time.Time     `gorm:"not null" json:"distribution_date"`
	CreatedByWorkerID  snowflake.ID  `gorm:"not null" json:"created_by_worker_id"`
	Status             BatchStatus   `gorm:"type:varchar(16);not null;index" json:"status"`
	ApprovedAt         *time.Time    `json:"approved_at,omitempty"`
	ApprovedByWorkerID *snowflake.ID `json:"approved_by_worker_id,omitempty"`
	RejectedAt         *time.Time    `json:"rejected_at,omitempty"`
	RejectedByWorkerID *snowflake.ID `json:"rejected_by_worker_id,omitempty"`
	RejectionReason    *string       `json:"rejection_reason,omitempty"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
	Notes              *string       `json:"notes,omitempty"`
	CaseCount          int           `gorm:"not null;default:0" json:"case_count"`
	TotalSupplyItems   int64         `gorm:"not null;default:0" json:"total_supply_items"`
	Version            int64         `gorm:"not null;default:1" json:"version"`
	CreatedAt          time.Time     `gorm:"not null;index" json:"created_at"`
	UpdatedAt          time.Time     `gorm:"not null" json:"updated_at"`
}

func (Batch) TableName() string { return "distribution_batches" }

type Member struct {
	Need       needdomain.Need           `json:"need"`
	Matches    []matchdomain.Match       `json:"matches"`
	SupplyItem *catalogdomain.SupplyItem `json:"supply_item,omitempty"`
}

type BatchDetails struct {
	Batch   Batch    `json:"batch"`
	Members []Member `json:"members"`
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Status BatchStatus
	Cursor *Cursor
	Limit  int
}
