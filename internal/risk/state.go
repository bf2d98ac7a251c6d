package risk

import (
	"sync"
	"time"
)

// PauseReason records why entries are suspended, so the daily reset knows
// whether it may auto-resume (loss lock only, never an operator pause).
type PauseReason string

const (
	PauseNone      PauseReason = ""
	PauseLossLimit PauseReason = "loss_limit"
	PauseManual    PauseReason = "manual"
	PauseEmergency PauseReason = "emergency"
)

// State is the single process-wide mutable risk configuration. Pipelines read
// it before every entry attempt; guardrails and the command intake mutate it.
type State struct {
	mu sync.RWMutex

	riskPercent       float64
	dailyLossLimit    float64
	realizedLossToday float64
	paused            bool
	pauseReason       PauseReason
	trailingEnabled   bool
	day               string
}

func NewState(riskPercent, dailyLossLimit float64) *State {
	return &State{
		riskPercent:     riskPercent,
		dailyLossLimit:  dailyLossLimit,
		trailingEnabled: true,
		day:             time.Now().UTC().Format("2006-01-02"),
	}
}

func (s *State) RiskPercent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.riskPercent
}

func (s *State) SetRiskPercent(pct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.riskPercent = pct
}

func (s *State) DailyLossLimit() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dailyLossLimit
}

func (s *State) SetDailyLossLimit(limit float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dailyLossLimit = limit
}

func (s *State) RealizedLossToday() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.realizedLossToday
}

func (s *State) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

func (s *State) PausedFor() (bool, PauseReason) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused, s.pauseReason
}

func (s *State) Pause(reason PauseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	s.pauseReason = reason
}

func (s *State) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.pauseReason = PauseNone
}

func (s *State) TrailingEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trailingEnabled
}

func (s *State) SetTrailingEnabled(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trailingEnabled = on
}

// RecordClose books a realized PnL. Losses accumulate toward the daily limit;
// hitting the limit pauses entries and reports true exactly once.
func (s *State) RecordClose(pnl float64) bool {
	if pnl >= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.realizedLossToday += -pnl
	if s.paused || s.dailyLossLimit <= 0 {
		return false
	}
	if s.realizedLossToday >= s.dailyLossLimit {
		s.paused = true
		s.pauseReason = PauseLossLimit
		return true
	}
	return false
}

// RollDay resets the daily loss counter when the UTC date changes. A pause
// caused by the loss lock clears with the new day; operator pauses stay.
func (s *State) RollDay(now time.Time) bool {
	day := now.UTC().Format("2006-01-02")
	s.mu.Lock()
	defer s.mu.Unlock()
	if day == s.day {
		return false
	}
	s.day = day
	s.realizedLossToday = 0
	if s.paused && s.pauseReason == PauseLossLimit {
		s.paused = false
		s.pauseReason = PauseNone
	}
	return true
}
