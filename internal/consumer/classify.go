package consumer

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mbellotti/notiq/internal/channel"
	"github.com/mbellotti/notiq/internal/envelope"
	"github.com/mbellotti/notiq/internal/events"
	"github.com/mbellotti/notiq/internal/logging"
)

// Outcome is the classification of a processing failure. It decides both
// the lifecycle event type and whether the envelope is re-queued.
type Outcome string

const (
	OutcomeClientError   Outcome = "client_error"
	OutcomeSystemError   Outcome = "system_error"
	OutcomeSecurityError Outcome = "security_error"
	OutcomeRetry         Outcome = "retry"
)

// EventType maps the outcome to the broker event type.
func (o Outcome) EventType() string {
	switch o {
	case OutcomeClientError:
		return events.TypeClientError
	case OutcomeSecurityError:
		return events.TypeSecurityError
	case OutcomeRetry:
		return events.TypeRetry
	default:
		return events.TypeSystemError
	}
}

// duplicateKeyCode is the Postgres unique-violation SQLSTATE. A duplicate
// insert means the message was already handled once; retrying cannot help.
const duplicateKeyCode = "23505"

// Tagged carries an explicit outcome decided at the failure site. The tag
// wins over every classification rule. Level optionally overrides the log
// severity, Description the event description.
type Tagged struct {
	Outcome     Outcome
	Level       logging.LogLevel
	Description string
	Err         error
}

func (e *Tagged) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Outcome)
}

func (e *Tagged) Unwrap() error { return e.Err }

// ClassifiedError is the classification result: the outcome plus the log
// level the failure should be reported at.
type ClassifiedError struct {
	Outcome Outcome
	Level   logging.LogLevel
}

// rule is one predicate→outcome entry of the classification chain.
type rule struct {
	name  string
	apply func(err error, env *envelope.Envelope) (Outcome, bool)
}

// classifyRules is evaluated in order; the first match wins and anything
// unmatched is a system error.
var classifyRules = []rule{
	{
		name: "explicit-tag",
		apply: func(err error, env *envelope.Envelope) (Outcome, bool) {
			var t *Tagged
			if errors.As(err, &t) {
				return t.Outcome, true
			}
			return "", false
		},
	},
	{
		name: "permanent-mail-rejection",
		apply: func(err error, env *envelope.Envelope) (Outcome, bool) {
			var me *channel.MailError
			if errors.As(err, &me) && me.Permanent() {
				return OutcomeClientError, true
			}
			return "", false
		},
	},
	{
		name: "sender-client-error",
		apply: func(err error, env *envelope.Envelope) (Outcome, bool) {
			var se *channel.SendError
			if errors.As(err, &se) && se.NonRetryable() {
				return OutcomeClientError, true
			}
			return "", false
		},
	},
	{
		name: "retryable",
		apply: func(err error, env *envelope.Envelope) (Outcome, bool) {
			if IsRetryable(err, env) {
				return OutcomeRetry, true
			}
			return "", false
		},
	},
}

// Classify maps a caught failure plus its envelope to an outcome.
func Classify(err error, env *envelope.Envelope) ClassifiedError {
	out := OutcomeSystemError
	for _, r := range classifyRules {
		if o, ok := r.apply(err, env); ok {
			out = o
			break
		}
	}

	ce := ClassifiedError{Outcome: out, Level: logging.LevelError}
	var t *Tagged
	if errors.As(err, &t) && t.Level != "" {
		ce.Level = t.Level
	}
	return ce
}

// IsRetryable reports whether resubmitting the envelope could succeed. The
// default for unknown failures is to retry.
func IsRetryable(err error, env *envelope.Envelope) bool {
	if env != nil && env.RetryDisabled() {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == duplicateKeyCode {
		return false
	}

	var me *channel.MailError
	if errors.As(err, &me) && me.Permanent() {
		return false
	}

	var se *channel.SendError
	if errors.As(err, &se) && se.NonRetryable() {
		return false
	}

	return true
}
