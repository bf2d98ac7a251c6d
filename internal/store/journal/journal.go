// Package journal persists engine events to SQLite with plain database/sql.
// The journal is append-only and best-effort: a write failure is logged, never
// propagated into the trading path.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/events"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS engine_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id   TEXT NOT NULL,
    kind       TEXT NOT NULL,
    symbol     TEXT NOT NULL DEFAULT '',
    stage      TEXT NOT NULL DEFAULT '',
    direction  TEXT NOT NULL DEFAULT '',
    reason     TEXT NOT NULL DEFAULT '',
    prices     TEXT NOT NULL DEFAULT '{}',
    ts         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_engine_events_symbol_ts ON engine_events(symbol, ts);
CREATE INDEX IF NOT EXISTS idx_engine_events_kind_ts ON engine_events(kind, ts);
`

// Journal records events in arrival order. It implements events.Sink.
type Journal struct {
	mu sync.Mutex
	db *sql.DB
}

func Open(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &Journal{db: db}, nil
}

// Publish appends one event. Errors are swallowed after logging so a full
// disk cannot stall signal processing.
func (j *Journal) Publish(ev events.Event) {
	if err := j.Append(ev); err != nil {
		logger.Errorf("journal: append failed: %v", err)
	}
}

func (j *Journal) Append(ev events.Event) error {
	prices := "{}"
	if len(ev.Prices) > 0 {
		raw, err := json.Marshal(ev.Prices)
		if err == nil {
			prices = string(raw)
		}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(
		`INSERT INTO engine_events (event_id, kind, symbol, stage, direction, reason, prices, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), ev.Symbol, ev.Stage, ev.Direction, ev.Reason, prices, ev.At.UnixMilli(),
	)
	return err
}

// Recent returns the latest events, newest first.
func (j *Journal) Recent(limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.Query(
		`SELECT event_id, kind, symbol, stage, direction, reason, prices, ts
		 FROM engine_events ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			ev     events.Event
			kind   string
			prices string
			ts     int64
		)
		if err := rows.Scan(&ev.ID, &kind, &ev.Symbol, &ev.Stage, &ev.Direction, &ev.Reason, &prices, &ts); err != nil {
			return nil, err
		}
		ev.Kind = events.Kind(kind)
		ev.At = millisToTime(ts)
		if prices != "" && prices != "{}" {
			_ = json.Unmarshal([]byte(prices), &ev.Prices)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}
