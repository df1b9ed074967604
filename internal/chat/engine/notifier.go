package engine

import "log"

// Notifier surfaces inbound activity to the user interface, e.g. a toast or
// an OS notification for a counterpart message that arrived while the
// conversation is in the background.
type Notifier interface {
	Notify(title, body string, data map[string]string)
}

// LogNotifier writes notifications to the process log. It is the default
// when no interface-specific notifier is wired.
type LogNotifier struct{}

func (LogNotifier) Notify(title, body string, data map[string]string) {
	log.Printf("notify: %s: %s %v", title, body, data)
}
