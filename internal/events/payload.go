package events

import "github.com/mbellotti/notiq/internal/envelope"

// EnvelopePayload is the standard payload for per-message lifecycle events:
// the message content, the target user, and the error text when there is one.
type EnvelopePayload struct {
	Message *envelope.Payload `json:"message,omitempty"`
	User    *envelope.User    `json:"user,omitempty"`
	Error   string            `json:"error,omitempty"`
}
