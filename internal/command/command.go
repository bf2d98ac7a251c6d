// Package command defines the operator command surface: typed commands,
// boundary validation, and at-most-once application.
package command

import (
	"fmt"
	"time"
)

type Kind string

const (
	KindPause             Kind = "pause"
	KindResume            Kind = "resume"
	KindSetRisk           Kind = "setRisk"
	KindSetMaxLoss        Kind = "setMaxLoss"
	KindSetTrailing       Kind = "setTrailing"
	KindForceTestEntry    Kind = "forceTestEntry"
	KindCancelTestEntry   Kind = "cancelTestEntry"
	KindEmergencyCloseAll Kind = "emergencyCloseAll"
)

// Command is one validated operator instruction. Only the fields relevant to
// the kind are populated; Decode guarantees they are present and in range.
type Command struct {
	ID         string
	Kind       Kind
	Symbol     string
	Direction  string
	Value      float64
	Enabled    bool
	Confirm    string
	ReceivedAt time.Time
}

func (c Command) String() string {
	switch c.Kind {
	case KindSetRisk, KindSetMaxLoss:
		return fmt.Sprintf("%s(%.2f)", c.Kind, c.Value)
	case KindSetTrailing:
		return fmt.Sprintf("%s(%t)", c.Kind, c.Enabled)
	case KindForceTestEntry:
		return fmt.Sprintf("%s(%s %s)", c.Kind, c.Symbol, c.Direction)
	case KindCancelTestEntry:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Symbol)
	default:
		return string(c.Kind)
	}
}

// Handler applies a command to the running engine.
type Handler interface {
	Apply(cmd Command) error
}
