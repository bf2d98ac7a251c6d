package risk

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/logger"
)

// Event is one registered high-impact release (rate decision, NFP, CPI...).
// Currency matching is substring-based against the symbol: a USD event locks
// out XAUUSD, EURUSD and friends.
type Event struct {
	Name     string    `yaml:"name"`
	Currency string    `yaml:"currency"`
	Time     time.Time `yaml:"time"`
	Impact   string    `yaml:"impact"`
}

type calendarFile struct {
	Events []Event `yaml:"events"`
}

// Calendar holds the registered events and hot-reloads its backing file.
type Calendar struct {
	path string

	mu     sync.RWMutex
	events []Event

	watcher *fsnotify.Watcher
}

// NewCalendar loads path and watches it for changes. A missing file is an
// empty calendar, not an error: the lockout is an optional guardrail.
func NewCalendar(path string) (*Calendar, error) {
	c := &Calendar{path: strings.TrimSpace(path)}
	if c.path == "" {
		return c, nil
	}
	if err := c.reload(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("calendar watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("calendar watch %s: %w", c.path, err)
	}
	c.watcher = watcher
	go c.watch()
	return c, nil
}

func (c *Calendar) reload() error {
	raw, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			c.mu.Lock()
			c.events = nil
			c.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read calendar %s: %w", c.path, err)
	}
	var file calendarFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse calendar %s: %w", c.path, err)
	}
	c.mu.Lock()
	c.events = file.Events
	c.mu.Unlock()
	logger.Infof("event calendar loaded: %d events from %s", len(file.Events), c.path)
	return nil
}

func (c *Calendar) watch() {
	for {
		select {
		case ev, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(c.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := c.reload(); err != nil {
				logger.Errorf("calendar reload failed: %v", err)
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("calendar watcher error: %v", err)
		}
	}
}

func (c *Calendar) Close() error {
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Close()
}

// Events returns a copy of the registered events.
func (c *Calendar) Events() []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// EventWithin returns the first event touching symbol whose time lies within
// [now-window, now+window].
func (c *Calendar) EventWithin(symbol string, now time.Time, window time.Duration) (Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sym := strings.ToUpper(symbol)
	for _, ev := range c.events {
		cur := strings.ToUpper(strings.TrimSpace(ev.Currency))
		if cur == "" || !strings.Contains(sym, cur) {
			continue
		}
		diff := now.Sub(ev.Time)
		if diff < 0 {
			diff = -diff
		}
		if diff <= window {
			return ev, true
		}
	}
	return Event{}, false
}

// EventAhead returns the first event touching symbol that starts within
// (0, lead] from now. Used to protect open positions shortly before a release.
func (c *Calendar) EventAhead(symbol string, now time.Time, lead time.Duration) (Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sym := strings.ToUpper(symbol)
	for _, ev := range c.events {
		cur := strings.ToUpper(strings.TrimSpace(ev.Currency))
		if cur == "" || !strings.Contains(sym, cur) {
			continue
		}
		until := ev.Time.Sub(now)
		if until > 0 && until <= lead {
			return ev, true
		}
	}
	return Event{}, false
}
