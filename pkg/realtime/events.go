// Package realtime fans resolved positions out to WebSocket subscribers.
// Clients authenticate with a JWT, then manage a subscription set of tracker
// IDs; each position event goes only to the sockets subscribed to its tracker.
package realtime

import "encoding/json"

// Client-to-server event types.
const (
	EventAuth                   = "auth"
	EventChangeTrackersToListen = "change_trackers_to_listen"
)

// Server-to-client event types.
const (
	EventPosition = "position"
	EventError    = "error"
)

// ClientMessage is the envelope for events received from a socket.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ServerMessage is the envelope for events sent to a socket.
type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// AuthPayload carries the handshake token.
type AuthPayload struct {
	Token string `json:"token"`
}

// SubscriptionPayload carries the full replacement subscription set.
type SubscriptionPayload struct {
	TrackerIDs []int64 `json:"tracker_ids"`
}

// ErrorPayload describes a rejected client request.
type ErrorPayload struct {
	Message string `json:"message"`
	// TrackerIDs lists the IDs that caused the rejection, when relevant.
	TrackerIDs []int64 `json:"tracker_ids,omitempty"`
}
