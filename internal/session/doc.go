// Package session manages conversation sessions.
//
// A session owns one conversation.State and moves through a small state
// machine:
//
//	ACTIVE -> IDLE -> EXPIRED      (time based, swept)
//	ACTIVE -> TERMINATED           (explicit End)
//
// IDLE sessions return to ACTIVE on the next turn. EXPIRED and TERMINATED
// are terminal; such sessions are evicted from the store and handed to an
// optional archive hook.
//
// Turns within a session are serialized. Each turn is bounded by a timeout
// and always produces a response, possibly a fallback.
package session
