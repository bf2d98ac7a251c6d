package smc

import (
	"time"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/market"
)

// SweepConfig tunes the context-frame sweep detector.
type SweepConfig struct {
	// ScanCandles bounds how recent the sweep candle may be.
	ScanCandles int
	// BaseRangeExclude keeps the most recent candles out of the prior
	// high/low so a forming leg cannot sweep its own extreme.
	BaseRangeExclude int
	// ReclaimWindow is how many candles, counting the sweep candle itself,
	// price has to body-close back inside the level. A sweep not reclaimed
	// within the window is never reported.
	ReclaimWindow int
	WickRatioMin  float64
	MinCandles    int
}

func (c SweepConfig) withDefaults() SweepConfig {
	if c.ScanCandles <= 0 {
		c.ScanCandles = 3
	}
	if c.BaseRangeExclude <= 0 {
		c.BaseRangeExclude = 5
	}
	if c.ReclaimWindow <= 0 {
		c.ReclaimWindow = 3
	}
	if c.WickRatioMin <= 0 {
		c.WickRatioMin = 0.30
	}
	if c.MinCandles <= 0 {
		c.MinCandles = 20
	}
	return c
}

// Sweep is a confirmed wick-through-and-reclaim of a tracked extreme.
type Sweep struct {
	Side     Side
	Level    float64
	Extreme  float64
	OpenTime int64
	Time     time.Time
}

type SweepDetector struct {
	cfg SweepConfig
}

func NewSweepDetector(cfg SweepConfig) *SweepDetector {
	return &SweepDetector{cfg: cfg.withDefaults()}
}

// Detect scans the context window for a valid sweep. A sweep is reported iff
// a recent candle's wick takes the prior extreme, the wick beyond the level
// is at least the configured share of the candle's range, some candle
// body-closed back inside the level within the reclaim window, and no later
// candle body-closed beyond the sweep candle's own extreme.
func (d *SweepDetector) Detect(candles []market.Candle) (*Sweep, bool) {
	cfg := d.cfg
	if len(candles) < cfg.MinCandles {
		return nil, false
	}
	base := candles[:len(candles)-cfg.BaseRangeExclude]
	periodHigh := market.HighestHigh(base, 0, len(base))
	periodLow := market.LowestLow(base, 0, len(base))

	n := len(candles)
	for back := 1; back <= cfg.ScanCandles && back < n; back++ {
		idx := n - back
		candle := candles[idx]

		if s, ok := d.checkHighSweep(candles, idx, candle, periodHigh); ok {
			return s, true
		}
		if s, ok := d.checkLowSweep(candles, idx, candle, periodLow); ok {
			return s, true
		}
	}
	return nil, false
}

func (d *SweepDetector) checkHighSweep(candles []market.Candle, idx int, candle market.Candle, level float64) (*Sweep, bool) {
	if candle.High <= level {
		return nil, false
	}
	if !wickRatioOK(candle.UpperWick(), candle.Range(), d.cfg.WickRatioMin) {
		return nil, false
	}
	// extreme protection wins over the reclaim window
	for i := idx + 1; i < len(candles); i++ {
		if candles[i].Close > candle.High {
			return nil, false
		}
	}
	for i := idx; i < len(candles) && i < idx+d.cfg.ReclaimWindow; i++ {
		if candles[i].Close < level {
			return &Sweep{
				Side:     BuySide,
				Level:    level,
				Extreme:  candle.High,
				OpenTime: candle.OpenTime,
				Time:     time.UnixMilli(candle.OpenTime).UTC(),
			}, true
		}
	}
	return nil, false
}

func (d *SweepDetector) checkLowSweep(candles []market.Candle, idx int, candle market.Candle, level float64) (*Sweep, bool) {
	if candle.Low >= level {
		return nil, false
	}
	if !wickRatioOK(candle.LowerWick(), candle.Range(), d.cfg.WickRatioMin) {
		return nil, false
	}
	for i := idx + 1; i < len(candles); i++ {
		if candles[i].Close < candle.Low {
			return nil, false
		}
	}
	for i := idx; i < len(candles) && i < idx+d.cfg.ReclaimWindow; i++ {
		if candles[i].Close > level {
			return &Sweep{
				Side:     SellSide,
				Level:    level,
				Extreme:  candle.Low,
				OpenTime: candle.OpenTime,
				Time:     time.UnixMilli(candle.OpenTime).UTC(),
			}, true
		}
	}
	return nil, false
}

// Invalidated reports whether a pending sweep died: some candle after the
// sweep candle body-closed beyond the sweep's extreme before a structure
// shift confirmed it.
func (d *SweepDetector) Invalidated(candles []market.Candle, sig *Signal) bool {
	if sig == nil {
		return false
	}
	cut := sig.SweepTime.UnixMilli()
	for _, c := range candles {
		if c.OpenTime <= cut {
			continue
		}
		if sig.Side == BuySide && c.Close > sig.SweepExtreme {
			return true
		}
		if sig.Side == SellSide && c.Close < sig.SweepExtreme {
			return true
		}
	}
	return false
}

func wickRatioOK(wick, total, min float64) bool {
	if total <= 0 {
		return false
	}
	return wick/total >= min
}
