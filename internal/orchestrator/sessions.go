// Package orchestrator wires the symbol pipelines together: scheduling on the
// two candle frames, the session watchlist, command application, and the
// emergency stop.
package orchestrator

import (
	"sort"
	"strings"
	"time"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/config"
)

// Watchlist decides which symbols are actively scanned at a given UTC hour.
// Crypto symbols are watched around the clock; forex symbols only inside
// their session windows. Windows overlap (London open overlaps late Asia), so
// a symbol may be contributed by more than one session.
type Watchlist struct {
	crypto  []string
	windows []config.SessionWindow
}

func NewWatchlist(cfg config.SessionsConfig) *Watchlist {
	w := &Watchlist{windows: cfg.Forex}
	for _, s := range cfg.Crypto {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			w.crypto = append(w.crypto, s)
		}
	}
	return w
}

// Active returns the symbols to scan right now, sorted and deduplicated.
func (w *Watchlist) Active(now time.Time) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(sym string) {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || seen[sym] {
			return
		}
		seen[sym] = true
		out = append(out, sym)
	}
	for _, s := range w.crypto {
		add(s)
	}
	hour := now.UTC().Hour()
	for _, win := range w.windows {
		if hour >= win.StartHour && hour < win.EndHour {
			for _, s := range win.Symbols {
				add(s)
			}
		}
	}
	sort.Strings(out)
	return out
}

// All returns every symbol any session can contribute.
func (w *Watchlist) All() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range w.crypto {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, win := range w.windows {
		for _, s := range win.Symbols {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s != "" && !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Classify maps a symbol to its venue routing class.
func (w *Watchlist) Classify(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	for _, s := range w.crypto {
		if s == symbol {
			return "crypto"
		}
	}
	return "forex"
}
