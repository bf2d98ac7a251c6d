// Package archive persists closed trades to SQLite for later review. The
// archive is write-mostly; the HTTP status surface reads recent rows.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/lifecycle"
)

// TradeModel is one closed trade row. Details carries the signal context the
// trade was born from (sweep level, shift level, zone bounds) as JSON.
type TradeModel struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Ticket      string         `gorm:"column:ticket;uniqueIndex"`
	Symbol      string         `gorm:"column:symbol;index"`
	Venue       string         `gorm:"column:venue"`
	Direction   string         `gorm:"column:direction"`
	EntryPrice  float64        `gorm:"column:entry_price"`
	InitialStop float64        `gorm:"column:initial_stop"`
	TakeProfit  float64        `gorm:"column:take_profit"`
	InitialSize float64        `gorm:"column:initial_size"`
	RealizedPnL float64        `gorm:"column:realized_pnl"`
	RealizedR   float64        `gorm:"column:realized_r"`
	CloseReason string         `gorm:"column:close_reason;index"`
	Degraded    bool           `gorm:"column:degraded"`
	OpenedAt    int64          `gorm:"column:opened_at"`
	ClosedAt    int64          `gorm:"column:closed_at;index"`
	Details     datatypes.JSON `gorm:"column:details"`
	CreatedAt   time.Time      `gorm:"column:created_at"`
}

func (TradeModel) TableName() string { return "closed_trades" }

type TradeArchive struct {
	db *gorm.DB
}

func NewTradeArchive(path string) (*TradeArchive, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("trade archive: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("trade archive: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	// DriverName selects the pure-Go modernc.org/sqlite driver (registered as
	// "sqlite"); the dialector's default driver requires cgo, and the DSN's
	// _pragma parameters are in the modernc dialect.
	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("trade archive: open: %w", err)
	}
	if err := db.AutoMigrate(&TradeModel{}); err != nil {
		return nil, fmt.Errorf("trade archive: migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(2)
	return &TradeArchive{db: db}, nil
}

// SaveClosed archives one closed position. Saving the same ticket twice
// overwrites, so a reconcile and a manual close racing cannot duplicate rows.
func (a *TradeArchive) SaveClosed(pos lifecycle.Position, details map[string]any) error {
	var detailsJSON datatypes.JSON
	if len(details) > 0 {
		raw, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("trade archive: details: %w", err)
		}
		detailsJSON = raw
	}
	row := TradeModel{
		Ticket:      pos.Ticket,
		Symbol:      pos.Symbol,
		Venue:       pos.Venue,
		Direction:   string(pos.Direction),
		EntryPrice:  pos.EntryPrice,
		InitialStop: pos.InitialStop,
		TakeProfit:  pos.TakeProfit,
		InitialSize: pos.InitialSize,
		RealizedPnL: pos.RealizedPnL,
		RealizedR:   pos.RealizedR,
		CloseReason: string(pos.CloseReason),
		Degraded:    pos.Degraded,
		OpenedAt:    pos.OpenedAt.UnixMilli(),
		ClosedAt:    pos.ClosedAt.UnixMilli(),
		Details:     detailsJSON,
		CreatedAt:   time.Now().UTC(),
	}
	return a.db.
		Where(TradeModel{Ticket: pos.Ticket}).
		Assign(row).
		FirstOrCreate(&TradeModel{}).Error
}

// Recent returns the most recently closed trades, newest first.
func (a *TradeArchive) Recent(limit int) ([]TradeModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []TradeModel
	err := a.db.Order("closed_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

// BySymbol returns closed trades for one symbol, newest first.
func (a *TradeArchive) BySymbol(symbol string, limit int) ([]TradeModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []TradeModel
	err := a.db.Where("symbol = ?", strings.ToUpper(symbol)).
		Order("closed_at DESC").Limit(limit).Find(&out).Error
	return out, err
}

func (a *TradeArchive) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
