// Package smc implements the liquidity-sweep / structure-shift / fair-value-gap
// detection pipeline over the two candle frames of one symbol.
package smc

import (
	"time"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/gateway/broker"
)

// Side names which liquidity pool was swept. A buy-side sweep (prior high
// taken) biases short; a sell-side sweep (prior low taken) biases long.
type Side string

const (
	BuySide  Side = "buy_side"
	SellSide Side = "sell_side"
)

// Bias returns the trade direction a sweep of this side sets up.
func (s Side) Bias() broker.Direction {
	if s == BuySide {
		return broker.Short
	}
	return broker.Long
}

type Stage int

const (
	StageNone Stage = iota
	StageSweepDetected
	StageShiftConfirmed
	StageEntryPending
)

func (s Stage) String() string {
	switch s {
	case StageNone:
		return "NONE"
	case StageSweepDetected:
		return "SWEEP_DETECTED"
	case StageShiftConfirmed:
		return "SHIFT_CONFIRMED"
	case StageEntryPending:
		return "ENTRY_PENDING"
	default:
		return "UNKNOWN"
	}
}

// Signal is the evolving state of one setup on one symbol. A signal holds
// exactly one stage at a time and only ever advances; invalidation or expiry
// clears it entirely.
type Signal struct {
	Symbol    string
	Side      Side
	Direction broker.Direction
	Stage     Stage

	SweepLevel   float64
	SweepExtreme float64
	SweepTime    time.Time

	ShiftLevel float64
	ShiftTime  time.Time
	LegHigh    float64
	LegLow     float64

	ZoneLow    float64
	ZoneHigh   float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	RiskReward float64

	CreatedAt time.Time
}

// Advance moves the signal forward one stage. Backward or skipping moves are
// rejected so a signal can never hold two stages at once.
func (s *Signal) Advance(to Stage) bool {
	if to != s.Stage+1 {
		return false
	}
	s.Stage = to
	return true
}
