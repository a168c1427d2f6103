package events

import (
	"time"

	"github.com/google/uuid"
)

// Event types understood by the broker's events queue.
const (
	TypeOK            = "OK"
	TypeClientRequest = "CLIENT_REQUEST"
	TypeClientError   = "CLIENT_ERROR"
	TypeDBError       = "DB_ERROR"
	TypeSystemError   = "SYSTEM_ERROR"
	TypeExternalError = "EXTERNAL_ERROR"
	TypeRetry         = "RETRY"
	TypeSecurityError = "SECURITY_ERROR"
	TypeInfo          = "INFO"
)

// Event is an immutable lifecycle record published for observability.
// CreatedAt is milliseconds since the Unix epoch.
type Event struct {
	UUID        string `json:"uuid"`
	Source      string `json:"source"`
	Description string `json:"description"`
	Payload     any    `json:"payload,omitempty"`
	Type        string `json:"type"`
	CreatedAt   int64  `json:"created_at"`
}

// NewEvent builds an event with a fresh uuid and the current timestamp.
// An empty type defaults to OK.
func NewEvent(source, description, eventType string, payload any) Event {
	if eventType == "" {
		eventType = TypeOK
	}
	return Event{
		UUID:        uuid.NewString(),
		Source:      source,
		Description: description,
		Payload:     payload,
		Type:        eventType,
		CreatedAt:   time.Now().UnixMilli(),
	}
}

// Sink is the event-emission surface the consumer and the resolver depend
// on. *Emitter implements it; tests substitute a recorder.
type Sink interface {
	Emit(eventType, description string, payload any)
}
