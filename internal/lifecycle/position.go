// Package lifecycle owns open-position state: breakeven, partial profit,
// trailing and structural exits. One manager instance is the single writer
// for its symbol's position; collaborators get copies.
package lifecycle

import (
	"time"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/gateway/broker"
)

type State int

const (
	StateOpen State = iota
	StateBreakeven
	StatePartial
	StateTrailing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateBreakeven:
		return "BREAKEVEN"
	case StatePartial:
		return "PARTIAL"
	case StateTrailing:
		return "TRAILING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

type CloseReason string

const (
	CloseTakeProfit CloseReason = "take_profit"
	CloseStopLoss   CloseReason = "stop_loss"
	CloseStructural CloseReason = "structural_exit"
	CloseManual     CloseReason = "manual"
	CloseEmergency  CloseReason = "emergency"
)

// Position is the engine-side record of one venue position.
type Position struct {
	Ticket       string
	Symbol       string
	Venue        string
	Direction    broker.Direction
	Size         float64
	InitialSize  float64
	EntryPrice   float64
	InitialStop  float64
	StopLoss     float64
	TakeProfit   float64
	ContractSize float64
	OpenedAt     time.Time

	State       State
	Degraded    bool
	PartialDone bool
	RealizedPnL float64
	RealizedR   float64
	CloseReason CloseReason
	ClosedAt    time.Time
}

// RDistance is the initial risk unit; R-multiples are measured against it.
func (p *Position) RDistance() float64 {
	d := p.EntryPrice - p.InitialStop
	if d < 0 {
		d = -d
	}
	return d
}

// CurrentR expresses the open profit at price as a multiple of initial risk.
func (p *Position) CurrentR(price float64) float64 {
	rd := p.RDistance()
	if rd <= 0 {
		return 0
	}
	if p.Direction == broker.Long {
		return (price - p.EntryPrice) / rd
	}
	return (p.EntryPrice - price) / rd
}

// advance moves the lifecycle strictly forward; regressions are dropped.
func (p *Position) advance(to State) bool {
	if to <= p.State {
		return false
	}
	p.State = to
	return true
}

// stopImproves reports whether candidate tightens the stop: stops only ever
// move in the direction that reduces risk.
func (p *Position) stopImproves(candidate float64) bool {
	if candidate <= 0 {
		return false
	}
	if p.StopLoss <= 0 {
		return true
	}
	if p.Direction == broker.Long {
		return candidate > p.StopLoss
	}
	return candidate < p.StopLoss
}
