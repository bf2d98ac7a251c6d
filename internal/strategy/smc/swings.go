package smc

import (
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/market"
)

// Swing marks a pivot candle: its high above every neighbour in the pivot
// window (swing high) or its low below every neighbour (swing low).
type Swing struct {
	Index int
	Price float64
	Time  int64
}

// pivotArm converts a total pivot width in candles to the number of
// neighbours checked on each side. Width 3 is the classic 3-candle rule.
func pivotArm(lookback int) int {
	arm := lookback / 2
	if arm < 1 {
		arm = 1
	}
	return arm
}

// SwingHighs returns all swing highs in candles, oldest first. lookback is
// the total pivot width in candles.
func SwingHighs(candles []market.Candle, lookback int) []Swing {
	arm := pivotArm(lookback)
	var out []Swing
	for i := arm; i < len(candles)-arm; i++ {
		pivot := candles[i]
		ok := true
		for j := i - arm; j <= i+arm; j++ {
			if j != i && candles[j].High >= pivot.High {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, Swing{Index: i, Price: pivot.High, Time: pivot.OpenTime})
		}
	}
	return out
}

// SwingLows returns all swing lows in candles, oldest first. lookback is the
// total pivot width in candles.
func SwingLows(candles []market.Candle, lookback int) []Swing {
	arm := pivotArm(lookback)
	var out []Swing
	for i := arm; i < len(candles)-arm; i++ {
		pivot := candles[i]
		ok := true
		for j := i - arm; j <= i+arm; j++ {
			if j != i && candles[j].Low <= pivot.Low {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, Swing{Index: i, Price: pivot.Low, Time: pivot.OpenTime})
		}
	}
	return out
}

// lastSwing returns the most recent swing, if any.
func lastSwing(swings []Swing) (Swing, bool) {
	if len(swings) == 0 {
		return Swing{}, false
	}
	return swings[len(swings)-1], true
}
