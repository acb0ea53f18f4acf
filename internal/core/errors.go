package core

import "errors"

var (
	// ErrNotFound marks lookups of absent connections or rooms.
	// Absence is a normal state, callers treat it as "nothing to do".
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized rejects a connection at handshake time.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidMessage marks a malformed or out-of-context message.
	// The message is dropped, the connection stays open.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrNotMember rejects a message from a sender outside the room.
	ErrNotMember = errors.New("sender is not a room member")
	// ErrPeerUnreachable means the forwarding target has disconnected.
	// Forwarders drop the message silently.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrBackpressure reports a full outbound queue.
	ErrBackpressure = errors.New("backpressure")
)
