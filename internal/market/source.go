package market

import (
	"context"
	"time"
)

// Quote is the current top-of-book for one symbol.
type Quote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	UpdatedAt time.Time
}

// Spread returns the quoted ask-bid distance, or 0 when the book is one-sided.
func (q Quote) Spread() float64 {
	if q.Ask <= 0 || q.Bid <= 0 || q.Ask < q.Bid {
		return 0
	}
	return q.Ask - q.Bid
}

type SourceStats struct {
	FetchErrors int
	LastError   string
}

// Source supplies candle history and live quotes for one venue's symbols.
// Implementations must return candles ordered by open time with no duplicate
// timestamps; fewer candles than requested is acceptable on data gaps.
type Source interface {
	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	GetQuote(ctx context.Context, symbol string) (Quote, error)

	Stats() SourceStats

	Close() error
}
