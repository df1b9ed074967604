package domain

import "time"

// ActiveSessionRecord tracks which browsing context currently owns a user's
// signed-in session. Exactly one record exists per user; registering from a
// new context overwrites it (last writer wins), and stale contexts discover
// the takeover by polling and comparing tokens.
type ActiveSessionRecord struct {
	UserID       string
	SessionToken string
	DeviceInfo   string
	UpdatedAt    time.Time
}
