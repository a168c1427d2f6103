package channel

import (
	"context"

	"github.com/mbellotti/notiq/internal/envelope"
	"github.com/mbellotti/notiq/internal/preferences"
)

// SMS is the short-message channel.
type SMS struct {
	sender SendFunc
}

func NewSMS(sender SendFunc) *SMS {
	return &SMS{sender: sender}
}

func (c *SMS) Name() string { return "sms" }

func (c *SMS) Validate(p *envelope.Payload) []string {
	if p.SMS == nil {
		return []string{"sms section is missing"}
	}
	var errs []string
	if p.SMS.Content == "" {
		errs = append(errs, "sms content is missing")
	}
	return errs
}

func (c *SMS) HasRecipient(p *envelope.Payload) bool {
	return p.SMS != nil && p.SMS.Phone != ""
}

func (c *SMS) Send(ctx context.Context, env *envelope.Envelope, prefs *preferences.Result) error {
	return c.sender(ctx, env, prefs)
}
