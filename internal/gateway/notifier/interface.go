package notifier

// TextNotifier defines a minimal text notification interface so components
// can depend on it without importing concrete implementations (e.g. Telegram).
type TextNotifier interface {
	SendText(text string) error
}

// Nop drops all messages. Used when notifications are disabled.
type Nop struct{}

func (Nop) SendText(string) error { return nil }
