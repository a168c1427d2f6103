package channel

import (
	"context"

	"github.com/mbellotti/notiq/internal/envelope"
	"github.com/mbellotti/notiq/internal/preferences"
)

// Push is the mobile push-notification channel.
type Push struct {
	sender SendFunc
}

func NewPush(sender SendFunc) *Push {
	return &Push{sender: sender}
}

func (c *Push) Name() string { return "push" }

func (c *Push) Validate(p *envelope.Payload) []string {
	if p.Push == nil {
		return []string{"push section is missing"}
	}
	var errs []string
	if p.Push.Title == "" {
		errs = append(errs, "push title is missing")
	}
	if p.Push.Body == "" {
		errs = append(errs, "push body is missing")
	}
	return errs
}

func (c *Push) HasRecipient(p *envelope.Payload) bool {
	return p.Push != nil && p.Push.Token != ""
}

func (c *Push) Send(ctx context.Context, env *envelope.Envelope, prefs *preferences.Result) error {
	return c.sender(ctx, env, prefs)
}
