package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SupplyItem is a catalog entry that Regular needs reference.
type SupplyItem struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Code      string       `gorm:"not null;uniqueIndex" json:"code"`
	Name      string       `gorm:"not null" json:"name"`
	Unit      string       `gorm:"not null;default:'unit'" json:"unit"`
	UnitPrice int64        `gorm:"not null;default:0" json:"unit_price"`
	Active    bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null" json:"updated_at"`
}

func (SupplyItem) TableName() string { return "supply_items" }
