// Package channel defines the contract a delivery channel must satisfy to
// be driven by the generic consumer: structural validation of its payload
// section, recipient extraction, and the send operation itself. Senders are
// external collaborators injected at construction.
package channel

import (
	"context"

	"github.com/mbellotti/notiq/internal/envelope"
	"github.com/mbellotti/notiq/internal/preferences"
)

// Channel is one delivery medium composed into the consumer loop.
type Channel interface {
	// Name is the payload section this channel reads (sms, email, push, ...)
	// or an aggregate kind (events, audit).
	Name() string

	// Validate returns the structural validation errors for the payload.
	// Empty strings are ignored by the consumer.
	Validate(p *envelope.Payload) []string

	// HasRecipient reports whether the payload carries an inline recipient
	// for this channel, used as a fallback when the user is unknown.
	HasRecipient(p *envelope.Payload) bool

	// Send delivers the message to the resolved recipient.
	Send(ctx context.Context, env *envelope.Envelope, prefs *preferences.Result) error
}

// SendFunc is the injected send operation of a channel.
type SendFunc func(ctx context.Context, env *envelope.Envelope, prefs *preferences.Result) error

// messageChannels are the channel-scoped message kinds: their consumers
// filter on the payload section and enforce the UUID gate on the message
// id. Aggregate kinds (events, audit) do neither.
var messageChannels = map[string]bool{
	"sms":   true,
	"push":  true,
	"email": true,
	"mex":   true,
	"io":    true,
}

// IsMessageChannel reports whether name is a channel-scoped message kind.
func IsMessageChannel(name string) bool {
	return messageChannels[name]
}

// Func adapts injected predicates into a Channel, for aggregate kinds and
// for callers that bring their own validation.
type Func struct {
	ChannelName      string
	ValidateFunc     func(p *envelope.Payload) []string
	HasRecipientFunc func(p *envelope.Payload) bool
	Sender           SendFunc
}

func (f Func) Name() string { return f.ChannelName }

func (f Func) Validate(p *envelope.Payload) []string {
	if f.ValidateFunc == nil {
		return nil
	}
	return f.ValidateFunc(p)
}

func (f Func) HasRecipient(p *envelope.Payload) bool {
	if f.HasRecipientFunc == nil {
		return false
	}
	return f.HasRecipientFunc(p)
}

func (f Func) Send(ctx context.Context, env *envelope.Envelope, prefs *preferences.Result) error {
	return f.Sender(ctx, env, prefs)
}
