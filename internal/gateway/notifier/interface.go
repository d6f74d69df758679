package notifier

// TextNotifier is the minimal delivery interface. Components depend on it
// instead of a concrete transport so Telegram stays swappable.
type TextNotifier interface {
	SendText(text string) error
}
