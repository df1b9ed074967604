// Package domain defines the chat synchronization entities and the pure
// lifecycle rules applied consistently by both the backend operations and
// the client-side sync engine: session staleness, phone-call expiry, and
// the optimistic/confirmed message distinction.
package domain
