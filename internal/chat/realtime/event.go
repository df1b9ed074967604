// Package realtime provides the pub/sub plumbing for chat sync: change
// events, bus implementations, the subscription adapter, and the connection
// health monitor.
package realtime

import (
	"encoding/json"
	"strings"
)

// EventType identifies the kind of row change carried by a ChangeEvent.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
)

// ChangeEvent is one row change published on a channel. New holds the full
// row after the change, encoded as JSON.
type ChangeEvent struct {
	Table string          `json:"table"`
	Event EventType       `json:"event"`
	New   json.RawMessage `json:"new"`
}

// EventSpec narrows a subscription to the changes a handler cares about.
// Empty fields match everything. Filter has the form "column=value" and is
// matched against the event's new row.
type EventSpec struct {
	Table  string
	Event  EventType
	Filter string
}

// Matches reports whether the event passes the spec.
func (s EventSpec) Matches(event ChangeEvent) bool {
	if s.Table != "" && s.Table != event.Table {
		return false
	}
	if s.Event != "" && s.Event != event.Event {
		return false
	}
	if s.Filter == "" {
		return true
	}

	column, want, ok := parseFilter(s.Filter)
	if !ok {
		return false
	}
	var row map[string]any
	if err := json.Unmarshal(event.New, &row); err != nil {
		return false
	}
	got, ok := row[column].(string)
	return ok && got == want
}

func parseFilter(filter string) (column, value string, ok bool) {
	column, value, ok = strings.Cut(filter, "=")
	if !ok {
		return "", "", false
	}
	column = strings.TrimSpace(column)
	value = strings.TrimSpace(value)
	if column == "" {
		return "", "", false
	}
	return column, value, true
}
