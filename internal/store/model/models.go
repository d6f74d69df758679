// Package model holds the gorm table definitions backing the engine's
// persistence.
package model

import (
	"time"

	"gorm.io/datatypes"
)

// PositionModel mirrors a ledger position row. One row per position
// lifetime, keyed by symbol + opened-at; status flips in place as the
// position transitions.
type PositionModel struct {
	ID         uint      `gorm:"primaryKey"`
	Symbol     string    `gorm:"size:32;uniqueIndex:idx_position_key;index:idx_position_symbol_status"`
	OpenedAt   time.Time `gorm:"uniqueIndex:idx_position_key"`
	Side       string    `gorm:"size:8"`
	Status     string    `gorm:"size:16;index:idx_position_symbol_status"`
	EntryPrice float64
	Quantity   float64
	StopLoss   float64
	TakeProfit float64

	ExitPrice   float64
	RealizedPnL float64
	ClosedAt    *time.Time
	CloseReason string `gorm:"size:128"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PositionModel) TableName() string { return "positions" }

// OrderModel is the audit row for one order intent, keyed by its idempotency
// key so retried submissions update the same row.
type OrderModel struct {
	ID             uint   `gorm:"primaryKey"`
	IdempotencyKey string `gorm:"size:64;uniqueIndex"`
	Symbol         string `gorm:"size:32;index"`
	Side           string `gorm:"size:8"`
	Quantity       float64
	Status         string `gorm:"size:24"`
	ExchangeID     string `gorm:"size:64"`
	AvgPrice       float64
	Attempts       int
	Error          string         `gorm:"type:text"`
	Metadata       datatypes.JSON `gorm:"type:json"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OrderModel) TableName() string { return "orders" }

// FillModel is one confirmed execution, whether from an order or a
// reconciliation correction.
type FillModel struct {
	ID       uint   `gorm:"primaryKey"`
	OrderID  string `gorm:"size:64;index"`
	Symbol   string `gorm:"size:32;index"`
	Side     string `gorm:"size:8"`
	Quantity float64
	Price    float64
	Source   string `gorm:"size:16"`
	FilledAt time.Time

	CreatedAt time.Time
}

func (FillModel) TableName() string { return "fills" }
