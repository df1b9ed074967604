// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// HTTPRequest caps the time allowed for a single atomic-operation call
// from a sync client to the backend.
const HTTPRequest = 10 * time.Second

// WSHandshake caps the wait time when dialing the realtime WebSocket
// endpoint or waiting for a subscribe acknowledgement.
const WSHandshake = 5 * time.Second
