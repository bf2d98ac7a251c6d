// Package events carries the structured transition events the engine emits
// for reporting collaborators (messaging, journaling). The core only ever
// produces events; it never consumes them.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindSignalStage       Kind = "signal_stage"
	KindPositionLifecycle Kind = "position_lifecycle"
	KindAlert             Kind = "alert"
	KindHeartbeat         Kind = "heartbeat"
)

// Event is one transition. Prices carries whatever levels are relevant at
// this stage (entry, stop, target, sweep level...).
type Event struct {
	ID        string
	Kind      Kind
	Symbol    string
	Stage     string
	Direction string
	Reason    string
	Prices    map[string]float64
	At        time.Time
}

func New(kind Kind, symbol, stage string) Event {
	return Event{
		ID:     uuid.NewString(),
		Kind:   kind,
		Symbol: symbol,
		Stage:  stage,
		At:     time.Now().UTC(),
	}
}

// Sink accepts events. Implementations must not block the publisher.
type Sink interface {
	Publish(Event)
}

// Bus fans events out to subscribers. Handlers run on the publisher's
// goroutine and are expected to hand off anything slow themselves.
type Bus struct {
	mu   sync.RWMutex
	subs []func(Event)
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(handler func(Event)) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	b.subs = append(b.subs, handler)
	b.mu.Unlock()
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, handler := range subs {
		handler(ev)
	}
}

// Discard is a Sink that drops everything; useful in tests.
type Discard struct{}

func (Discard) Publish(Event) {}
