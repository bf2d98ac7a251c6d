package smc

import (
	"time"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/market"
)

// ShiftConfig tunes the trigger-frame structure-shift detector.
type ShiftConfig struct {
	// Window is how long after the sweep a confirming break is accepted.
	// This is policy, always supplied by configuration.
	Window time.Duration
	// LegCandles bounds how far back the displacement leg extreme is taken.
	LegCandles int
	// SwingLookback is the pivot width used to pick the broken swing point.
	SwingLookback int
}

func (c ShiftConfig) withDefaults() ShiftConfig {
	if c.LegCandles <= 0 {
		c.LegCandles = 12
	}
	if c.SwingLookback <= 0 {
		c.SwingLookback = 3
	}
	return c
}

// Shift is a body-close break of the most recent opposing swing point.
type Shift struct {
	Level   float64
	Time    time.Time
	LegHigh float64
	LegLow  float64
}

type ShiftDetector struct {
	cfg ShiftConfig
}

func NewShiftDetector(cfg ShiftConfig) *ShiftDetector {
	return &ShiftDetector{cfg: cfg.withDefaults()}
}

// Detect checks the trigger window for a confirming structure shift.
// It returns (shift, false) on confirmation, (nil, true) once the window has
// expired, and (nil, false) while still waiting.
func (d *ShiftDetector) Detect(candles []market.Candle, side Side, sweepTime time.Time) (*Shift, bool) {
	if len(candles) < 3 {
		return nil, false
	}
	last := candles[len(candles)-1]
	now := time.UnixMilli(last.OpenTime).UTC()
	if d.cfg.Window > 0 && now.Sub(sweepTime) > d.cfg.Window {
		return nil, true
	}

	legFrom := len(candles) - d.cfg.LegCandles
	switch side {
	case SellSide: // long bias: break above the last swing high
		swing, ok := lastSwing(SwingHighs(candles, d.cfg.SwingLookback))
		if !ok {
			return nil, false
		}
		if last.Close > swing.Price {
			return &Shift{
				Level:   swing.Price,
				Time:    now,
				LegLow:  market.LowestLow(candles, legFrom, len(candles)),
				LegHigh: last.High,
			}, false
		}
	case BuySide: // short bias: break below the last swing low
		swing, ok := lastSwing(SwingLows(candles, d.cfg.SwingLookback))
		if !ok {
			return nil, false
		}
		if last.Close < swing.Price {
			return &Shift{
				Level:   swing.Price,
				Time:    now,
				LegHigh: market.HighestHigh(candles, legFrom, len(candles)),
				LegLow:  last.Low,
			}, false
		}
	}
	return nil, false
}
