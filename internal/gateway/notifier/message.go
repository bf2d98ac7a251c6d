package notifier

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/events"
	"github.com/ekbottlebeer-genesis/Ekbottlebeer-Crypto-Forex/internal/logger"
)

const maxMessageLen = 3800

// Message is a uniformly formatted operator notification.
type Message struct {
	Icon      string
	Title     string
	Lines     []string
	Timestamp time.Time
}

func (m Message) Render() string {
	var b strings.Builder
	header := strings.TrimSpace(m.Icon + " " + m.Title)
	if header != "" {
		b.WriteString(header + "\n")
	}
	for _, line := range m.Lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		b.WriteString(line + "\n")
	}
	if !m.Timestamp.IsZero() {
		b.WriteString("time: " + m.Timestamp.Format("2006-01-02 15:04:05 MST"))
	}
	body := strings.TrimSpace(b.String())
	if len(body) > maxMessageLen {
		body = body[:maxMessageLen] + "..."
	}
	return body
}

// EventSink adapts a TextNotifier into an events.Sink. Sends happen on a
// separate goroutine so a slow chat API never stalls a pipeline.
type EventSink struct {
	notifier TextNotifier
	queue    chan events.Event
}

func NewEventSink(n TextNotifier) *EventSink {
	s := &EventSink{notifier: n, queue: make(chan events.Event, 64)}
	go s.drain()
	return s
}

func (s *EventSink) Publish(ev events.Event) {
	select {
	case s.queue <- ev:
	default:
		logger.Warnf("notifier queue full, dropping %s event for %s", ev.Kind, ev.Symbol)
	}
}

func (s *EventSink) drain() {
	for ev := range s.queue {
		if err := s.notifier.SendText(formatEvent(ev)); err != nil {
			logger.Errorf("notify %s/%s failed: %v", ev.Kind, ev.Symbol, err)
		}
	}
}

func formatEvent(ev events.Event) string {
	msg := Message{Timestamp: ev.At}
	switch ev.Kind {
	case events.KindSignalStage:
		msg.Icon = "💎"
		msg.Title = fmt.Sprintf("Signal %s: %s", ev.Symbol, ev.Stage)
	case events.KindPositionLifecycle:
		msg.Icon = "📦"
		msg.Title = fmt.Sprintf("Position %s: %s", ev.Symbol, ev.Stage)
	case events.KindAlert:
		msg.Icon = "🚨"
		msg.Title = fmt.Sprintf("Alert %s", ev.Symbol)
	default:
		msg.Icon = "💓"
		msg.Title = string(ev.Kind)
	}
	if ev.Direction != "" {
		msg.Lines = append(msg.Lines, "side: "+strings.ToUpper(ev.Direction))
	}
	if ev.Reason != "" {
		msg.Lines = append(msg.Lines, "reason: "+ev.Reason)
	}
	msg.Lines = append(msg.Lines, priceLines(ev.Prices)...)
	return msg.Render()
}

func priceLines(prices map[string]float64) []string {
	if len(prices) == 0 {
		return nil
	}
	keys := make([]string, 0, len(prices))
	for k := range prices {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s: `%.5f`", k, prices[k]))
	}
	return out
}
