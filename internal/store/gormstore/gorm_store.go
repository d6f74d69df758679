// Package gormstore implements the engine's persistence contracts on
// gorm + SQLite.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"marlin/internal/store"
	"marlin/internal/store/model"
	"marlin/internal/types"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore implements store.Store.
type GormStore struct {
	db *gorm.DB
}

var (
	_ store.PositionStore = (*GormStore)(nil)
	_ store.OrderStore    = (*GormStore)(nil)
)

func New(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("gorm store: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(
		&model.PositionModel{},
		&model.OrderModel{},
		&model.FillModel{},
	); err != nil {
		return nil, fmt.Errorf("gorm store: migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// Save upserts the position row keyed by symbol + opened-at.
func (s *GormStore) Save(ctx context.Context, pos types.Position) error {
	row := positionToRow(pos)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "opened_at"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "quantity", "exit_price", "realized_pn_l",
			"closed_at", "close_reason", "updated_at",
		}),
	}).Create(&row).Error
}

func (s *GormStore) LoadLive(ctx context.Context, symbol string) (*types.Position, error) {
	var row model.PositionModel
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND status IN ?", symbol, liveStatuses()).
		Order("opened_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	pos := rowToPosition(row)
	return &pos, nil
}

func (s *GormStore) ListLive(ctx context.Context) ([]types.Position, error) {
	var rows []model.PositionModel
	err := s.db.WithContext(ctx).
		Where("status IN ?", liveStatuses()).
		Order("symbol ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToPosition(row))
	}
	return out, nil
}

// RecordOrder upserts the audit row for the intent's idempotency key, so a
// retried submission amends the original row instead of duplicating it.
func (s *GormStore) RecordOrder(ctx context.Context, audit store.OrderAudit) error {
	meta, err := marshalJSON(audit.Metadata)
	if err != nil {
		return err
	}
	row := model.OrderModel{
		IdempotencyKey: audit.IdempotencyKey,
		Symbol:         audit.Symbol,
		Side:           audit.Side,
		Quantity:       audit.Quantity,
		Status:         audit.Status,
		ExchangeID:     audit.ExchangeID,
		AvgPrice:       audit.AvgPrice,
		Attempts:       audit.Attempts,
		Error:          audit.Error,
		Metadata:       meta,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "idempotency_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "exchange_id", "avg_price", "attempts", "error", "updated_at",
		}),
	}).Create(&row).Error
}

func (s *GormStore) RecordFill(ctx context.Context, fill types.Fill) error {
	row := model.FillModel{
		OrderID:  fill.OrderID,
		Symbol:   fill.Symbol,
		Side:     string(fill.Side),
		Quantity: fill.Quantity,
		Price:    fill.Price,
		Source:   string(fill.Source),
		FilledAt: fill.FilledAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func liveStatuses() []string {
	return []string{string(types.PositionOpen), string(types.PositionClosing)}
}

func positionToRow(pos types.Position) model.PositionModel {
	row := model.PositionModel{
		Symbol:      pos.Symbol,
		OpenedAt:    pos.OpenedAt,
		Side:        string(pos.Side),
		Status:      string(pos.Status),
		EntryPrice:  pos.EntryPrice,
		Quantity:    pos.Quantity,
		StopLoss:    pos.StopLoss,
		TakeProfit:  pos.TakeProfit,
		ExitPrice:   pos.ExitPrice,
		RealizedPnL: pos.RealizedPnL,
		CloseReason: pos.CloseReason,
	}
	if !pos.ClosedAt.IsZero() {
		closedAt := pos.ClosedAt
		row.ClosedAt = &closedAt
	}
	return row
}

func rowToPosition(row model.PositionModel) types.Position {
	pos := types.Position{
		Symbol:      row.Symbol,
		Side:        types.Side(row.Side),
		EntryPrice:  row.EntryPrice,
		Quantity:    row.Quantity,
		OpenedAt:    row.OpenedAt,
		StopLoss:    row.StopLoss,
		TakeProfit:  row.TakeProfit,
		Status:      types.PositionStatus(row.Status),
		ExitPrice:   row.ExitPrice,
		RealizedPnL: row.RealizedPnL,
		CloseReason: row.CloseReason,
	}
	if row.ClosedAt != nil {
		pos.ClosedAt = *row.ClosedAt
	}
	return pos
}

func marshalJSON(fields map[string]any) (datatypes.JSON, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	blob, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("gorm store: metadata not serializable: %w", err)
	}
	return datatypes.JSON(blob), nil
}
