package channel

import (
	"context"

	"github.com/mbellotti/notiq/internal/envelope"
	"github.com/mbellotti/notiq/internal/preferences"
)

// Email is the email channel.
type Email struct {
	sender SendFunc
}

func NewEmail(sender SendFunc) *Email {
	return &Email{sender: sender}
}

func (c *Email) Name() string { return "email" }

func (c *Email) Validate(p *envelope.Payload) []string {
	if p.Email == nil {
		return []string{"email section is missing"}
	}
	var errs []string
	if p.Email.Subject == "" {
		errs = append(errs, "email subject is missing")
	}
	if p.Email.Body == "" {
		errs = append(errs, "email body is missing")
	}
	return errs
}

func (c *Email) HasRecipient(p *envelope.Payload) bool {
	return p.Email != nil && p.Email.To != ""
}

func (c *Email) Send(ctx context.Context, env *envelope.Envelope, prefs *preferences.Result) error {
	return c.sender(ctx, env, prefs)
}
