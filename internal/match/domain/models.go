package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Match is one fulfillment action against a need. Matches are append-only.
type Match struct {
	ID                snowflake.ID `gorm:"primaryKey" json:"id"`
	NeedID            snowflake.ID `gorm:"not null;index" json:"need_id"`
	MatchedQuantity   int64        `gorm:"not null" json:"matched_quantity"`
	MatchedByWorkerID snowflake.ID `gorm:"not null" json:"matched_by_worker_id"`
	MatchDate         time.Time    `gorm:"not null" json:"match_date"`
	Note              *string      `json:"note,omitempty"`
	CreatedAt         time.Time    `gorm:"not null" json:"created_at"`
}

func (Match) TableName() string { return "need_matches" }
