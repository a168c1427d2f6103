package channel

import "fmt"

// PermanentMailBoundary is the SMTP response code at or above which a mail
// rejection is permanent: retrying the same envelope cannot succeed.
const PermanentMailBoundary = 300

// MailError is a transport-layer rejection from an SMTP relay, carrying the
// server response code.
type MailError struct {
	ResponseCode int
	Err          error
}

func (e *MailError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mail rejected [%d]: %v", e.ResponseCode, e.Err)
	}
	return fmt.Sprintf("mail rejected [%d]", e.ResponseCode)
}

func (e *MailError) Unwrap() error { return e.Err }

// Permanent reports whether the rejection is at or past the permanent
// boundary.
func (e *MailError) Permanent() bool {
	return e.ResponseCode >= PermanentMailBoundary
}

// SendError is a failure the originating channel sender has already judged.
// Client marks it a non-retryable client error; the email channel declares
// every send failure non-retryable regardless of the flag.
type SendError struct {
	Source string // originating channel name
	Client bool
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s sender: %v", e.Source, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// NonRetryable reports whether the sender declared this failure permanent.
func (e *SendError) NonRetryable() bool {
	return e.Client || e.Source == "email"
}
