// Package broker defines the execution capability contract the decision
// engine talks to. Concrete venues (Binance futures, the paper venue) plug in
// behind it; a routing table keyed on symbol class picks the venue, so the
// core never knows venue wire protocols.
package broker

import (
	"context"
	"time"
)

type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Opposite returns the other trade direction.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// ContractSpecs carries the venue's contract constraints for one symbol.
type ContractSpecs struct {
	Symbol       string
	TickSize     float64 // minimum price increment
	StepSize     float64 // minimum size increment
	MinSize      float64
	MaxSize      float64
	ContractSize float64 // multiplier, 1.0 for linear contracts
}

// OrderRequest asks a venue to place a limit entry with protective levels.
type OrderRequest struct {
	Symbol     string
	Direction  Direction
	Size       float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Tag        string
}

// Position is a venue-reported open position.
type Position struct {
	Ticket      string
	Symbol      string
	Direction   Direction
	Size        float64
	InitialSize float64
	EntryPrice  float64
	StopLoss    float64
	TakeProfit  float64
	OpenedAt    time.Time
	RealizedPnL float64
}

// Bridge is the execution contract. Modify and close calls must be idempotent
// on retry: re-applying an already-applied stop or re-closing a closed
// position reports success.
type Bridge interface {
	Name() string

	PlaceOrder(ctx context.Context, req OrderRequest) (string, error)

	// ModifyOrder updates protective levels; zero leaves a level unchanged.
	ModifyOrder(ctx context.Context, ticket string, newStop, newTarget float64) error

	// ClosePosition closes fraction (0,1] of the open size at market.
	ClosePosition(ctx context.Context, symbol string, fraction float64) error

	CloseAll(ctx context.Context) error

	OpenPositions(ctx context.Context) ([]Position, error)

	Equity(ctx context.Context) (float64, error)

	ContractSpecs(ctx context.Context, symbol string) (ContractSpecs, error)
}
