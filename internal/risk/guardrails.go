package risk

import (
	"time"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/logger"
)

// Guardrails combines the session loss lock with the scheduled-event lockout.
// Both gate new entries only; open positions are managed regardless.
type Guardrails struct {
	State    *State
	Calendar *Calendar

	Lockout     time.Duration
	ProtectLead time.Duration
}

func NewGuardrails(state *State, calendar *Calendar, lockout, protectLead time.Duration) *Guardrails {
	if lockout <= 0 {
		lockout = 30 * time.Minute
	}
	if protectLead <= 0 {
		protectLead = 5 * time.Minute
	}
	return &Guardrails{
		State:       state,
		Calendar:    calendar,
		Lockout:     lockout,
		ProtectLead: protectLead,
	}
}

// EntriesAllowed reports whether a new entry on symbol may proceed right now,
// and the reason when it may not. The loss lock and the event lockout are
// independent; either one suffices to block.
func (g *Guardrails) EntriesAllowed(symbol string, now time.Time) (bool, string) {
	if paused, reason := g.State.PausedFor(); paused {
		return false, "paused: " + string(reason)
	}
	if g.Calendar != nil {
		if ev, hit := g.Calendar.EventWithin(symbol, now, g.Lockout); hit {
			return false, "event lockout: " + ev.Name
		}
	}
	return true, ""
}

// RecordClose books a realized close PnL against the daily limit. Returns
// true when this close tripped the loss lock.
func (g *Guardrails) RecordClose(symbol string, pnl float64) bool {
	tripped := g.State.RecordClose(pnl)
	if tripped {
		logger.Warnf("daily loss limit hit after %s close (%.2f): entries paused until resume",
			symbol, pnl)
	}
	return tripped
}

// ShouldProtect reports whether an open position on symbol should be moved to
// breakeven because a registered event is imminent.
func (g *Guardrails) ShouldProtect(symbol string, now time.Time) (string, bool) {
	if g.Calendar == nil {
		return "", false
	}
	ev, hit := g.Calendar.EventAhead(symbol, now, g.ProtectLead)
	if !hit {
		return "", false
	}
	return ev.Name, true
}
