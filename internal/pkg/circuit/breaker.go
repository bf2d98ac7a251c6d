package circuit

import (
	"sync"
	"time"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/logger"
)

type State int

const (
	StateHealthy State = iota
	StateDegraded
	StateProbing
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateDegraded:
		return "DEGRADED"
	case StateProbing:
		return "PROBING"
	default:
		return "UNKNOWN"
	}
}

// Breaker tracks consecutive failures against one venue. After the threshold
// it reports the venue degraded; once the cooldown passes a single probe call
// is let through, and a success clears the breaker.
type Breaker struct {
	mu            sync.Mutex
	state         State
	failures      int
	threshold     int
	cooldown      time.Duration
	lastFailure   time.Time
	name          string
	onStateChange func(name string, from, to State)
}

func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     StateHealthy,
	}
}

func (b *Breaker) SetStateChangeHandler(handler func(name string, from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = handler
}

// Allow reports whether a call may be routed to the venue right now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHealthy:
		return true
	case StateDegraded:
		if time.Since(b.lastFailure) > b.cooldown {
			b.transition(StateProbing)
			return true
		}
		return false
	default:
		return true
	}
}

// Degraded reports whether the venue is currently isolated.
func (b *Breaker) Degraded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateDegraded
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateProbing:
		b.transition(StateHealthy)
		b.failures = 0
	case StateHealthy:
		b.failures = 0
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case StateHealthy:
		if b.failures >= b.threshold {
			b.transition(StateDegraded)
		}
	case StateProbing:
		b.transition(StateDegraded)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if b.onStateChange != nil {
		go b.onStateChange(b.name, from, to)
	} else {
		logger.Warnf("venue breaker %s: %s -> %s (failures=%d/%d, cooldown=%s)",
			b.name, from, to, b.failures, b.threshold, b.cooldown)
	}
}
