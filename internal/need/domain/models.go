package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusPending      Status = "pending"
	StatusConfirmed    Status = "confirmed"
	StatusPendingSuper Status = "pending_super"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusCollected    Status = "collected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPendingSuper, StatusApproved, StatusRejected, StatusCollected:
		return true
	}
	return false
}

// Matchable reports whether matches may still be recorded against a need in s.
func (s Status) Matchable() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPendingSuper, StatusApproved:
		return true
	}
	return false
}

type Kind string

const (
	KindRegular   Kind = "regular"
	KindEmergency Kind = "emergency"
)

func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindRegular:
		return KindRegular, nil
	case KindEmergency:
		return KindEmergency, nil
	}
	return "", ErrInvalidKind
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// ParsePriority defaults an empty value to medium.
func ParsePriority(raw string) (Priority, error) {
	value := Priority(strings.ToLower(strings.TrimSpace(raw)))
	switch value {
	case "":
		return PriorityMedium, nil
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return value, nil
	}
	return "", ErrInvalidPriority
}

// Need is a request for supplies raised on behalf of a case.
type Need struct {
	ID                snowflake.ID  `gorm:"primaryKey" json:"id"`
	Kind              Kind          `gorm:"type:varchar(16);not null;index" json:"kind"`
	CaseID            snowflake.ID  `gorm:"not null;index" json:"case_id"`
	WorkerID          snowflake.ID  `gorm:"not null;index" json:"worker_id"`
	SupplyItemID      *snowflake.ID `json:"supply_item_id,omitempty"`
	ItemName          string        `gorm:"not null" json:"item_name"`
	RequestedQuantity int64         `gorm:"not null" json:"requested_quantity"`
	CollectedQuantity int64         `gorm:"not null;default:0" json:"collected_quantity"`
	Status            Status        `gorm:"type:varchar(32);not null;index" json:"status"`
	Priority          *Priority     `gorm:"type:varchar(16)" json:"priority,omitempty"`
	BatchID           *snowflake.ID `gorm:"index" json:"batch_id,omitempty"`
	PickupDate        *time.Time    `json:"pickup_date,omitempty"`
	Note              *string       `json:"note,omitempty"`
	Version           int64         `gorm:"not null;default:1" json:"version"`
	CreatedAt         time.Time     `gorm:"not null;index" json:"created_at"`
	UpdatedAt         time.Time     `gorm:"not null" json:"updated_at"`
}

func (Need) TableName() string { return "needs" }

// Matched is true once the collected quantity covers the request.
func (n Need) Matched() bool {
	return n.CollectedQuantity == n.RequestedQuantity
}

func (n Need) Remaining() int64 {
	return n.RequestedQuantity - n.CollectedQuantity
}

func (n Need) IsRegular() bool {
	return n.Kind == KindRegular
}

func (n Need) MarshalJSON() ([]byte, error) {
	type plain Need
	return json.Marshal(struct {
		plain
		Matched bool `json:"matched"`
	}{plain: plain(n), Matched: n.Matched()})
}

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	CaseID      *snowflake.ID
	WorkerID    *snowflake.ID
	Kind        Kind
	Status      Status
	BatchID     *snowflake.ID
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Cursor      *Cursor
	Limit       int
}
