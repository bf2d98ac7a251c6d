package market

import "math"

type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

func (c Candle) Range() float64 {
	return c.High - c.Low
}

func (c Candle) BodyHigh() float64 {
	return math.Max(c.Open, c.Close)
}

func (c Candle) BodyLow() float64 {
	return math.Min(c.Open, c.Close)
}

func (c Candle) UpperWick() float64 {
	return c.High - c.BodyHigh()
}

func (c Candle) LowerWick() float64 {
	return c.BodyLow() - c.Low
}

func (c Candle) Bullish() bool {
	return c.Close > c.Open
}

// HighestHigh returns the maximum high over candles[from:to).
func HighestHigh(candles []Candle, from, to int) float64 {
	from, to = clampRange(len(candles), from, to)
	out := math.Inf(-1)
	for i := from; i < to; i++ {
		if candles[i].High > out {
			out = candles[i].High
		}
	}
	return out
}

// LowestLow returns the minimum low over candles[from:to).
func LowestLow(candles []Candle, from, to int) float64 {
	from, to = clampRange(len(candles), from, to)
	out := math.Inf(1)
	for i := from; i < to; i++ {
		if candles[i].Low < out {
			out = candles[i].Low
		}
	}
	return out
}

// Closes extracts close prices, oldest first.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func clampRange(n, from, to int) (int, int) {
	if from < 0 {
		from = 0
	}
	if to > n {
		to = n
	}
	if from > to {
		from = to
	}
	return from, to
}
