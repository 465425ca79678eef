package session

import "errors"

// Sentinel errors a session's operations can return, mirroring the error
// kinds of spec §7 that are scoped to a single session's state machine.
var (
	// ErrPacketIdentifiersExhausted means all 65535 ids are in flight; the
	// caller should requeue the publication at the head of the outbound
	// queue and retry once an ack frees an id.
	ErrPacketIdentifiersExhausted = errExhausted

	// ErrDuplicateQoS2NotMarkedDuplicate means a QoS 2 PUBLISH arrived with
	// a packet id already waiting to be released, but DUP was not set —
	// a protocol violation that must close the connection.
	ErrDuplicateQoS2NotMarkedDuplicate = errors.New("duplicate QoS 2 publish packet not marked duplicate")

	// ErrMalformedFilter means a SUBSCRIBE topic filter violates wildcard
	// placement rules ('#' not terminal, '+' not alone in its level, empty).
	ErrMalformedFilter = errors.New("malformed topic filter")

	// ErrSessionOffline means an operation was attempted against a session
	// with no live connection; callers should log and continue, not fail
	// the caller's own operation.
	ErrSessionOffline = errors.New("session is offline")

	// ErrQueueFull means the outbound queue rejected a publication under
	// the DropNew overflow policy.
	ErrQueueFull = errors.New("outbound queue is full")
)
