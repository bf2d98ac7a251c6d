package smc

import (
	"math"

	talib "github.com/markcheno/go-talib"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/gateway/broker"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/market"
)

// EntryConfig tunes the fair-value-gap entry locator and its gating filters.
type EntryConfig struct {
	RSIPeriod      int
	RSIOverbought  float64
	RSIOversold    float64
	SpreadMultiple float64
	RejectWickMin  float64
	MinRiskReward  float64
}

func (c EntryConfig) withDefaults() EntryConfig {
	if c.RSIPeriod <= 0 {
		c.RSIPeriod = 14
	}
	if c.RSIOverbought <= 0 {
		c.RSIOverbought = 70
	}
	if c.RSIOversold <= 0 {
		c.RSIOversold = 30
	}
	if c.SpreadMultiple <= 0 {
		c.SpreadMultiple = 3
	}
	if c.RejectWickMin <= 0 {
		c.RejectWickMin = 0.2
	}
	if c.MinRiskReward <= 0 {
		c.MinRiskReward = 2
	}
	return c
}

// Zone is a candidate entry range left by a three-candle imbalance.
type Zone struct {
	Low  float64
	High float64
}

func (z Zone) Entry(direction broker.Direction) float64 {
	if direction == broker.Long {
		return z.High
	}
	return z.Low
}

type EntryLocator struct {
	cfg     EntryConfig
	spreads *market.SpreadTracker
}

func NewEntryLocator(cfg EntryConfig, spreads *market.SpreadTracker) *EntryLocator {
	return &EntryLocator{cfg: cfg.withDefaults(), spreads: spreads}
}

// LocateZone looks for a fair-value gap at the tail of the trigger window.
// Long zones must sit in the discount half of the dealing range [legLow,
// legHigh]; short zones in the premium half.
func (l *EntryLocator) LocateZone(candles []market.Candle, direction broker.Direction, legHigh, legLow float64) (Zone, bool) {
	if len(candles) < 3 {
		return Zone{}, false
	}
	eq := (legHigh + legLow) / 2
	a := candles[len(candles)-3]
	c := candles[len(candles)-1]

	if direction == broker.Long {
		if a.High < c.Low {
			zone := Zone{Low: a.High, High: c.Low}
			if zone.High < eq { // discount
				return zone, true
			}
		}
		return Zone{}, false
	}
	if a.Low > c.High {
		zone := Zone{Low: c.High, High: a.Low}
		if zone.Low > eq { // premium
			return zone, true
		}
	}
	return Zone{}, false
}

// MomentumPermits applies the oscillator band gate. It is permission, not a
// hard block: a confirmed structure shift overrides an out-of-band reading.
func (l *EntryLocator) MomentumPermits(candles []market.Candle, direction broker.Direction, shiftConfirmed bool) bool {
	if len(candles) <= l.cfg.RSIPeriod {
		return true
	}
	rsi := talib.Rsi(market.Closes(candles), l.cfg.RSIPeriod)
	last := rsi[len(rsi)-1]
	if math.IsNaN(last) {
		return true
	}
	inBand := true
	if direction == broker.Long && last >= l.cfg.RSIOverbought {
		inBand = false
	}
	if direction == broker.Short && last <= l.cfg.RSIOversold {
		inBand = false
	}
	if inBand {
		return true
	}
	return shiftConfirmed
}

// ObserveSpread feeds the quote's spread into the rolling baseline. The
// caller invokes it on every trigger tick so the baseline reflects normal
// conditions, not just the ticks that reached the entry gate.
func (l *EntryLocator) ObserveSpread(quote market.Quote) {
	l.spreads.Observe(quote.Symbol, quote.Spread())
}

// SpreadAcceptable rejects the entry while the live spread exceeds the
// configured multiple of its rolling average.
func (l *EntryLocator) SpreadAcceptable(quote market.Quote) bool {
	return l.spreads.Acceptable(quote.Symbol, quote.Spread(), l.cfg.SpreadMultiple)
}

// TapConfirmed reports whether the closed candle tapped the zone and rejected
// it: close in the trade direction with a meaningful opposing wick. Entries
// are never filled blindly on a resting limit.
func (l *EntryLocator) TapConfirmed(candle market.Candle, zone Zone, direction broker.Direction) bool {
	if candle.Range() <= 0 {
		return false
	}
	if direction == broker.Long {
		tapped := candle.Low <= zone.High && candle.Low >= zone.Low-candle.Range()
		rejected := candle.Close > zone.High && candle.Bullish()
		wickOK := candle.LowerWick()/candle.Range() >= l.cfg.RejectWickMin
		return tapped && rejected && wickOK
	}
	tapped := candle.High >= zone.Low && candle.High <= zone.High+candle.Range()
	rejected := candle.Close < zone.Low && !candle.Bullish()
	wickOK := candle.UpperWick()/candle.Range() >= l.cfg.RejectWickMin
	return tapped && rejected && wickOK
}

// BuildLevels derives stop and target from the displacement leg. The stop
// sits at the leg extreme; the target is placed to satisfy the minimum
// risk/reward exactly.
func (l *EntryLocator) BuildLevels(direction broker.Direction, entry, legHigh, legLow float64) (stop, target, rr float64, ok bool) {
	if direction == broker.Long {
		stop = legLow
	} else {
		stop = legHigh
	}
	risk := math.Abs(entry - stop)
	if risk <= 0 {
		return 0, 0, 0, false
	}
	if direction == broker.Long {
		target = entry + l.cfg.MinRiskReward*risk
	} else {
		target = entry - l.cfg.MinRiskReward*risk
	}
	rr = math.Abs(target-entry) / risk
	return stop, target, rr, rr >= l.cfg.MinRiskReward-1e-9
}
