package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

var (
	ErrInvalid   = errors.New("invalid command payload")
	ErrDuplicate = errors.New("command already applied")
)

// commandSchema is enforced at the boundary so the engine core never sees a
// malformed or out-of-range instruction.
const commandSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["command"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "command": {
      "enum": ["pause", "resume", "setRisk", "setMaxLoss", "setTrailing",
               "forceTestEntry", "cancelTestEntry", "emergencyCloseAll"]
    },
    "symbol": {"type": "string", "minLength": 3},
    "direction": {"enum": ["long", "short"]},
    "value": {"type": "number"},
    "enabled": {"type": "boolean"},
    "confirmationToken": {"type": "string", "minLength": 1}
  },
  "allOf": [
    {"if": {"properties": {"command": {"const": "setRisk"}}},
     "then": {"required": ["value"],
              "properties": {"value": {"exclusiveMinimum": 0, "maximum": 5}}}},
    {"if": {"properties": {"command": {"const": "setMaxLoss"}}},
     "then": {"required": ["value"],
              "properties": {"value": {"exclusiveMinimum": 0}}}},
    {"if": {"properties": {"command": {"const": "setTrailing"}}},
     "then": {"required": ["enabled"]}},
    {"if": {"properties": {"command": {"const": "forceTestEntry"}}},
     "then": {"required": ["symbol", "direction"]}},
    {"if": {"properties": {"command": {"const": "cancelTestEntry"}}},
     "then": {"required": ["symbol"]}},
    {"if": {"properties": {"command": {"const": "emergencyCloseAll"}}},
     "then": {"required": ["confirmationToken"]}}
  ]
}`

var schema = jsonschema.MustCompileString("command.json", commandSchema)

// Decode validates raw JSON against the command schema and extracts a typed
// Command. It never partially applies anything; callers get a command that is
// safe to hand to a Handler, or an error.
func Decode(raw []byte) (Command, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := schema.Validate(doc); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	body := gjson.ParseBytes(raw)
	cmd := Command{
		ID:         body.Get("id").String(),
		Kind:       Kind(body.Get("command").String()),
		Symbol:     strings.ToUpper(body.Get("symbol").String()),
		Direction:  body.Get("direction").String(),
		Value:      body.Get("value").Float(),
		Enabled:    body.Get("enabled").Bool(),
		Confirm:    body.Get("confirmationToken").String(),
		ReceivedAt: time.Now().UTC(),
	}
	return cmd, nil
}

// Intake decodes, deduplicates, and applies commands. A command carrying an id
// the intake has already applied is rejected, so operator retries over a flaky
// link cannot double-fire.
type Intake struct {
	handler Handler

	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

func NewIntake(handler Handler) *Intake {
	return &Intake{
		handler: handler,
		seen:    make(map[string]time.Time),
		ttl:     time.Hour,
	}
}

// Submit runs the full path: decode, dedupe, apply. The returned command is
// what was applied, for echoing back to the operator.
func (i *Intake) Submit(raw []byte) (Command, error) {
	cmd, err := Decode(raw)
	if err != nil {
		return Command{}, err
	}
	if cmd.ID != "" {
		if dup := i.markSeen(cmd.ID); dup {
			return Command{}, fmt.Errorf("%w: id=%s", ErrDuplicate, cmd.ID)
		}
	}
	if err := i.handler.Apply(cmd); err != nil {
		i.forget(cmd.ID)
		return Command{}, err
	}
	return cmd, nil
}

func (i *Intake) markSeen(id string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	now := time.Now()
	for k, t := range i.seen {
		if now.Sub(t) > i.ttl {
			delete(i.seen, k)
		}
	}
	if _, ok := i.seen[id]; ok {
		return true
	}
	i.seen[id] = now
	return false
}

// forget releases an id after a failed apply so a corrected retry can reuse it.
func (i *Intake) forget(id string) {
	if id == "" {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.seen, id)
}
