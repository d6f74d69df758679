// Package journal keeps the engine's observability events in a standalone
// SQLite file, separate from the trading database so heavy event traffic
// never contends with position writes.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"marlin/internal/events"
	"marlin/internal/logger"
	"marlin/internal/store"

	_ "modernc.org/sqlite"
)

// Journal implements store.EventStore on a raw database/sql SQLite handle.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

var _ store.EventStore = (*Journal)(nil)

// Record is one journal row as returned by Recent.
type Record struct {
	ID     int64          `json:"id"`
	TS     int64          `json:"ts"`
	Type   string         `json:"type"`
	Symbol string         `json:"symbol,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

func New(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS engine_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			symbol TEXT,
			fields_json TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_engine_events_type_ts ON engine_events(type, ts DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_engine_events_symbol_ts ON engine_events(symbol, ts DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("journal schema: %w", err)
		}
	}
	return nil
}

func (j *Journal) AppendEvent(ctx context.Context, eventType, symbol string, fields map[string]any) error {
	var blob []byte
	if len(fields) > 0 {
		var err error
		blob, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("journal: fields not serializable: %w", err)
		}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO engine_events (ts, type, symbol, fields_json) VALUES (?, ?, ?, ?)`,
		time.Now().UnixMilli(), eventType, symbol, string(blob),
	)
	return err
}

// Recent returns the newest events, optionally filtered by symbol and type.
func (j *Journal) Recent(ctx context.Context, symbol, eventType string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, ts, type, symbol, fields_json FROM engine_events WHERE 1=1`
	args := make([]any, 0, 3)
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	if eventType != "" {
		query += ` AND type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY ts DESC, id DESC LIMIT ?`
	args = append(args, limit)

	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var rec Record
		var sym sql.NullString
		var blob sql.NullString
		if err := rows.Scan(&rec.ID, &rec.TS, &rec.Type, &sym, &blob); err != nil {
			return nil, err
		}
		rec.Symbol = sym.String
		if blob.Valid && blob.String != "" {
			if err := json.Unmarshal([]byte(blob.String), &rec.Fields); err != nil {
				rec.Fields = map[string]any{"raw": blob.String}
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// Sink adapts the journal to the event fan-out, so every published event is
// also persisted.
type Sink struct {
	journal *Journal
}

func NewSink(j *Journal) *Sink { return &Sink{journal: j} }

func (s *Sink) Publish(e events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.journal.AppendEvent(ctx, string(e.Type), e.Symbol, e.Fields); err != nil {
		logger.Warnf("journal append failed: %v", err)
	}
}
