package envelope

import (
	"regexp"
	"time"
)

// Envelope is one message unit pulled from the broker. It is never mutated in
// place; a failed attempt is resubmitted to the retry queue as-is and the
// broker owns re-delivery.
type Envelope struct {
	UUID        string    `json:"uuid"`
	User        User      `json:"user"`
	Payload     Payload   `json:"payload"`
	ExpireAt    time.Time `json:"expire_at"`
	ToBeRetried *bool     `json:"to_be_retried,omitempty"`
}

// User carries the preference routing data for the target user.
type User struct {
	Preferences           map[string]bool `json:"preferences"`
	Tenant                string          `json:"tenant,omitempty"`
	PreferenceServiceName string          `json:"preference_service_name"`
}

// Payload is the channel-facing message content. Channel sections are
// pointers so that presence is distinguishable from an empty section.
type Payload struct {
	ID      string        `json:"id"`
	UserID  string        `json:"user_id,omitempty"`
	DryRun  bool          `json:"dry_run,omitempty"`
	Trusted bool          `json:"trusted,omitempty"`
	SMS     *SMSSection   `json:"sms,omitempty"`
	Push    *PushSection  `json:"push,omitempty"`
	Email   *EmailSection `json:"email,omitempty"`
	Mex     *MexSection   `json:"mex,omitempty"`
	IO      *IOSection    `json:"io,omitempty"`
}

type SMSSection struct {
	Phone   string `json:"phone,omitempty"`
	Content string `json:"content,omitempty"`
}

type PushSection struct {
	Token string `json:"token,omitempty"`
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type EmailSection struct {
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
}

type MexSection struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
}

type IOSection struct {
	Subject  string `json:"subject,omitempty"`
	Markdown string `json:"markdown,omitempty"`
}

// idPattern accepts UUID versions 1-5 with the RFC 4122 variant.
var idPattern = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// ValidID reports whether the payload id is a well-formed UUID.
func (p *Payload) ValidID() bool {
	return idPattern.MatchString(p.ID)
}

// HasSection reports whether the payload carries the named channel section.
func (p *Payload) HasSection(name string) bool {
	switch name {
	case "sms":
		return p.SMS != nil
	case "push":
		return p.Push != nil
	case "email":
		return p.Email != nil
	case "mex":
		return p.Mex != nil
	case "io":
		return p.IO != nil
	}
	return false
}

// InlineContacts collects the recipient addresses carried inline in the
// payload, keyed by channel name. Trusted messages and messages for unknown
// users are routed from these instead of the preferences service.
func (p *Payload) InlineContacts() map[string]string {
	contacts := make(map[string]string)
	if p.SMS != nil && p.SMS.Phone != "" {
		contacts["sms"] = p.SMS.Phone
	}
	if p.Push != nil && p.Push.Token != "" {
		contacts["push"] = p.Push.Token
	}
	if p.Email != nil && p.Email.To != "" {
		contacts["email"] = p.Email.To
	}
	return contacts
}

// Expired reports whether the envelope's expiry is strictly before now.
// An unset expiry never expires.
func (e *Envelope) Expired(now time.Time) bool {
	return !e.ExpireAt.IsZero() && e.ExpireAt.Before(now)
}

// RetryDisabled reports whether the envelope explicitly opts out of retry.
// An absent flag means retry is allowed.
func (e *Envelope) RetryDisabled() bool {
	return e.ToBeRetried != nil && !*e.ToBeRetried
}
