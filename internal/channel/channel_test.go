package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/mbellotti/notiq/internal/envelope"
	"github.com/mbellotti/notiq/internal/preferences"
)

func TestIsMessageChannel(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"sms", true},
		{"push", true},
		{"email", true},
		{"mex", true},
		{"io", true},
		{"events", false},
		{"audit", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsMessageChannel(tt.name); got != tt.want {
			t.Errorf("IsMessageChannel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestSMSValidate(t *testing.T) {
	c := NewSMS(nil)
	tests := []struct {
		name     string
		payload  envelope.Payload
		wantErrs int
	}{
		{"valid", envelope.Payload{SMS: &envelope.SMSSection{Content: "hi"}}, 0},
		{"missing section", envelope.Payload{}, 1},
		{"missing content", envelope.Payload{SMS: &envelope.SMSSection{Phone: "+39"}}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Validate(&tt.payload); len(got) != tt.wantErrs {
				t.Errorf("Validate() = %v, want %d errors", got, tt.wantErrs)
			}
		})
	}
}

func TestEmailValidate(t *testing.T) {
	c := NewEmail(nil)
	tests := []struct {
		name     string
		payload  envelope.Payload
		wantErrs int
	}{
		{"valid", envelope.Payload{Email: &envelope.EmailSection{Subject: "s", Body: "b"}}, 0},
		{"missing section", envelope.Payload{}, 1},
		{"missing subject and body", envelope.Payload{Email: &envelope.EmailSection{To: "a@b.it"}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Validate(&tt.payload); len(got) != tt.wantErrs {
				t.Errorf("Validate() = %v, want %d errors", got, tt.wantErrs)
			}
		})
	}
}

func TestPushValidate(t *testing.T) {
	c := NewPush(nil)
	if got := c.Validate(&envelope.Payload{Push: &envelope.PushSection{Title: "t", Body: "b"}}); len(got) != 0 {
		t.Errorf("Validate() = %v, want no errors", got)
	}
	if got := c.Validate(&envelope.Payload{Push: &envelope.PushSection{}}); len(got) != 2 {
		t.Errorf("Validate() = %v, want 2 errors", got)
	}
}

func TestHasRecipient(t *testing.T) {
	p := envelope.Payload{
		SMS:   &envelope.SMSSection{Phone: "+391234"},
		Push:  &envelope.PushSection{},
		Email: &envelope.EmailSection{To: "a@b.it"},
	}
	if !NewSMS(nil).HasRecipient(&p) {
		t.Error("sms recipient should be present")
	}
	if NewPush(nil).HasRecipient(&p) {
		t.Error("push recipient should be absent (empty token)")
	}
	if !NewEmail(nil).HasRecipient(&p) {
		t.Error("email recipient should be present")
	}
}

func TestSendDelegation(t *testing.T) {
	var gotAddr string
	c := NewSMS(func(ctx context.Context, env *envelope.Envelope, prefs *preferences.Result) error {
		gotAddr = prefs.Address("sms")
		return nil
	})

	prefs := &preferences.Result{Contacts: map[string]string{"sms": "+391234"}}
	if err := c.Send(context.Background(), &envelope.Envelope{}, prefs); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if gotAddr != "+391234" {
		t.Errorf("sender received address %q, want +391234", gotAddr)
	}
}

func TestFuncAdapter(t *testing.T) {
	sent := false
	f := Func{
		ChannelName:  "audit",
		ValidateFunc: func(p *envelope.Payload) []string { return []string{"", "bad thing"} },
		Sender: func(ctx context.Context, env *envelope.Envelope, prefs *preferences.Result) error {
			sent = true
			return nil
		},
	}

	if f.Name() != "audit" {
		t.Errorf("Name() = %q, want audit", f.Name())
	}
	if got := f.Validate(&envelope.Payload{}); len(got) != 2 {
		t.Errorf("Validate() = %v, want passthrough of 2 entries", got)
	}
	if f.HasRecipient(&envelope.Payload{}) {
		t.Error("HasRecipient() with nil func should be false")
	}
	if err := f.Send(context.Background(), &envelope.Envelope{}, nil); err != nil || !sent {
		t.Errorf("Send() err=%v sent=%v", err, sent)
	}

	// nil validate func means no structural checks
	empty := Func{ChannelName: "events"}
	if got := empty.Validate(&envelope.Payload{}); got != nil {
		t.Errorf("Validate() = %v, want nil", got)
	}
}

func TestMailError(t *testing.T) {
	tests := []struct {
		code      int
		permanent bool
	}{
		{250, false},
		{299, false},
		{300, true},
		{450, true},
		{550, true},
	}
	for _, tt := range tests {
		e := &MailError{ResponseCode: tt.code, Err: errors.New("rejected")}
		if got := e.Permanent(); got != tt.permanent {
			t.Errorf("MailError{%d}.Permanent() = %v, want %v", tt.code, got, tt.permanent)
		}
	}

	wrapped := errors.New("smtp says no")
	e := &MailError{ResponseCode: 550, Err: wrapped}
	if !errors.Is(e, wrapped) {
		t.Error("MailError should unwrap to its cause")
	}
}

func TestSendErrorNonRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  SendError
		want bool
	}{
		{"email always non-retryable", SendError{Source: "email", Client: false}, true},
		{"io client error", SendError{Source: "io", Client: true}, true},
		{"push client error", SendError{Source: "push", Client: true}, true},
		{"io transient", SendError{Source: "io", Client: false}, false},
		{"push transient", SendError{Source: "push", Client: false}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.err.Err = errors.New("x")
			if got := tt.err.NonRetryable(); got != tt.want {
				t.Errorf("NonRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
