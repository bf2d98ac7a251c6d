package market

import "sync"

// SpreadTracker keeps a rolling window of observed spreads per symbol so the
// entry filter can reject quotes that blow out against their own baseline.
type SpreadTracker struct {
	mu     sync.Mutex
	window int
	data   map[string][]float64
}

func NewSpreadTracker(window int) *SpreadTracker {
	if window <= 0 {
		window = 20
	}
	return &SpreadTracker{window: window, data: make(map[string][]float64)}
}

func (t *SpreadTracker) Observe(symbol string, spread float64) {
	if spread <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := append(t.data[symbol], spread)
	if len(cur) > t.window {
		cur = cur[len(cur)-t.window:]
	}
	t.data[symbol] = cur
}

// Average returns the rolling mean spread and whether enough samples exist.
func (t *SpreadTracker) Average(symbol string) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.data[symbol]
	if len(cur) < 3 {
		return 0, false
	}
	var sum float64
	for _, s := range cur {
		sum += s
	}
	return sum / float64(len(cur)), true
}

// Acceptable reports whether spread is within multiple x the rolling average.
// With too few samples the filter stays permissive.
func (t *SpreadTracker) Acceptable(symbol string, spread, multiple float64) bool {
	if spread <= 0 {
		return true
	}
	avg, ok := t.Average(symbol)
	if !ok || avg <= 0 {
		return true
	}
	return spread <= avg*multiple
}
