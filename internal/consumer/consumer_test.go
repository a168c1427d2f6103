package consumer

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mbellotti/notiq/internal/broker"
	"github.com/mbellotti/notiq/internal/channel"
	"github.com/mbellotti/notiq/internal/config"
	"github.com/mbellotti/notiq/internal/envelope"
	"github.com/mbellotti/notiq/internal/events"
	"github.com/mbellotti/notiq/internal/logging"
	"github.com/mbellotti/notiq/internal/preferences"
)

const validUUID = "3fa85f64-5717-4562-b3fc-2c963f66afa6"

type fakeBroker struct {
	mu       sync.Mutex
	batches  [][]envelope.Envelope
	fetchErr error
	retried  []envelope.Envelope
	retryErr error
	drained  func()
}

func (b *fakeBroker) Fetch(ctx context.Context) ([]envelope.Envelope, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	if len(b.batches) == 0 {
		if b.drained != nil {
			b.drained()
		}
		return nil, nil
	}
	batch := b.batches[0]
	b.batches = b.batches[1:]
	return batch, nil
}

func (b *fakeBroker) PostRetry(ctx context.Context, env *envelope.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.retryErr != nil {
		return b.retryErr
	}
	b.retried = append(b.retried, *env)
	return nil
}

type fakeResolver struct {
	result *preferences.Result
	err    error
	calls  int
}

func (r *fakeResolver) Resolve(ctx context.Context, ch preferences.Channel, env *envelope.Envelope) (*preferences.Result, error) {
	r.calls++
	return r.result, r.err
}

type recordedEvent struct {
	Type        string
	Description string
}

type recorderSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (s *recorderSink) Emit(eventType, description string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{Type: eventType, Description: description})
}

func (s *recorderSink) ofType(eventType string) []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recordedEvent
	for _, ev := range s.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type countingSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *countingSender) send(ctx context.Context, env *envelope.Envelope, prefs *preferences.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, env.UUID)
	return nil
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter("test", io.Discard)
}

func smsEnvelope(id string) envelope.Envelope {
	return envelope.Envelope{
		UUID: validUUID,
		User: envelope.User{
			Preferences: map[string]bool{"sms": true},
			Tenant:      "acme",
		},
		Payload: envelope.Payload{
			ID:     id,
			UserID: "u-1",
			SMS:    &envelope.SMSSection{Content: "hello"},
		},
	}
}

// runBatch drives the consumer over the given batches until the broker
// drains, then waits for the graceful stop.
func runBatch(t *testing.T, c *Consumer, brk *fakeBroker) error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	brk.drained = cancel

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
		return nil
	}
}

func newTestConsumer(ch channel.Channel, brk *fakeBroker, resolver PreferenceResolver, sink events.Sink) *Consumer {
	cfg := config.Consumer{Channel: ch.Name(), TransientSleep: time.Millisecond}
	return New(cfg, ch, brk, resolver, sink, testLogger())
}

func TestRunSendsValidMessage(t *testing.T) {
	sender := &countingSender{}
	sink := &recorderSink{}
	brk := &fakeBroker{batches: [][]envelope.Envelope{{smsEnvelope(validUUID)}}}
	resolver := &fakeResolver{result: &preferences.Result{Contacts: map[string]string{"sms": "+391234"}}}

	c := newTestConsumer(channel.NewSMS(sender.send), brk, resolver, sink)
	if err := runBatch(t, c, brk); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sender.sent))
	}
	if resolver.calls != 1 {
		t.Errorf("resolver called %d times, want 1", resolver.calls)
	}
	if c.State() != StateStopped {
		t.Errorf("state = %v, want stopped", c.State())
	}
}

func TestRunSkipsMessagesForOtherChannels(t *testing.T) {
	sender := &countingSender{}
	sink := &recorderSink{}
	env := envelope.Envelope{
		UUID:    validUUID,
		Payload: envelope.Payload{ID: validUUID, Push: &envelope.PushSection{Title: "t", Body: "b"}},
	}
	brk := &fakeBroker{batches: [][]envelope.Envelope{{env}}}
	resolver := &fakeResolver{}

	c := newTestConsumer(channel.NewSMS(sender.send), brk, resolver, sink)
	if err := runBatch(t, c, brk); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(sender.sent) != 0 || resolver.calls != 0 || len(sink.events) != 0 {
		t.Errorf("message without an sms section should be ignored entirely: sent=%d resolves=%d events=%d",
			len(sender.sent), resolver.calls, len(sink.events))
	}
}

func TestRunDropsInvalidUUID(t *testing.T) {
	sender := &countingSender{}
	sink := &recorderSink{}
	env := smsEnvelope("not-a-uuid")
	brk := &fakeBroker{batches: [][]envelope.Envelope{{env}}}
	resolver := &fakeResolver{}

	c := newTestConsumer(channel.NewSMS(sender.send), brk, resolver, sink)
	if err := runBatch(t, c, brk); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(sender.sent) != 0 {
		t.Error("malformed message must not be sent")
	}
	if resolver.calls != 0 {
		t.Error("malformed message must not hit the preferences service")
	}
	got := sink.ofType(events.TypeClientError)
	if len(got) != 1 {
		t.Fatalf("CLIENT_ERROR events = %d, want 1", len(got))
	}
	if got[0].Description != "the message is malformed: id must be a valid uuid" {
		t.Errorf("description = %q", got[0].Description)
	}
}

func TestRunDropsDryRun(t *testing.T) {
	sender := &countingSender{}
	sink := &recorderSink{}
	env := smsEnvelope(validUUID)
	env.Payload.DryRun = true
	brk := &fakeBroker{batches: [][]envelope.Envelope{{env}}}

	c := newTestConsumer(channel.NewSMS(sender.send), brk, &fakeResolver{}, sink)
	if err := runBatch(t, c, brk); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(sender.sent) != 0 {
		t.Error("dry_run message must not be sent")
	}
	if got := sink.ofType(events.TypeInfo); len(got) != 1 {
		t.Fatalf("INFO events = %d, want 1", len(got))
	}
}

func TestRunDropsExpired(t *testing.T) {
	sender := &countingSender{}
	sink := &recorderSink{}
	env := smsEnvelope(validUUID)
	env.ExpireAt = time.Now().Add(-time.Hour)
	brk := &fakeBroker{batches: [][]envelope.Envelope{{env}}}

	c := newTestConsumer(channel.NewSMS(sender.send), brk, &fakeResolver{}, sink)
	if err := runBatch(t, c, brk); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(sender.sent) != 0 {
		t.Error("expired message must not be sent")
	}
	if got := sink.ofType(events.TypeInfo); len(got) != 1 {
		t.Fatalf("INFO events = %d, want 1", len(got))
	}
}

func TestRunRetriesOnResolverFailure(t *testing.T) {
	sender := &countingSender{}
	sink := &recorderSink{}
	brk := &fakeBroker{batches: [][]envelope.Envelope{{smsEnvelope(validUUID)}}}
	resolver := &fakeResolver{err: errors.New("preferences: status 502")}

	c := newTestConsumer(channel.NewSMS(sender.send), brk, resolver, sink)
	if err := runBatch(t, c, brk); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(sender.sent) != 0 {
		t.Error("message must not be sent when preferences fail")
	}
	if got := sink.ofType(events.TypeRetry); len(got) != 1 {
		t.Fatalf("RETRY events = %d, want 1", len(got))
	}
	if len(brk.retried) != 1 {
		t.Fatalf("retry queue received %d envelopes, want 1", len(brk.retried))
	}
	if brk.retried[0].UUID != validUUID {
		t.Errorf("wrong envelope re-queued: %q", brk.retried[0].UUID)
	}
}

func TestRunDropsWhenResolverSaysNo(t *testing.T) {
	sender := &countingSender{}
	sink := &recorderSink{}
	brk := &fakeBroker{batches: [][]envelope.Envelope{{smsEnvelope(validUUID)}}}
	resolver := &fakeResolver{} // nil result, nil error

	c := newTestConsumer(channel.NewSMS(sender.send), brk, resolver, sink)
	if err := runBatch(t, c, brk); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(sender.sent) != 0 {
		t.Error("message must not be sent without a resolved contact")
	}
	if len(brk.retried) != 0 {
		t.Error("a silent drop must not be re-queued")
	}
}

func TestRunSkipPreferences(t *testing.T) {
	sender := &countingSender{}
	sink := &recorderSink{}
	brk := &fakeBroker{batches: [][]envelope.Envelope{{smsEnvelope(validUUID)}}}
	resolver := &fakeResolver{}

	cfg := config.Consumer{Channel: "sms", SkipPreferences: true, TransientSleep: time.Millisecond}
	c := New(cfg, channel.NewSMS(sender.send), brk, resolver, sink, testLogger())
	if err := runBatch(t, c, brk); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if resolver.calls != 0 {
		t.Error("resolver must not be consulted when preference checks are disabled")
	}
	if len(sender.sent) != 1 {
		t.Errorf("sent %d messages, want 1", len(sender.sent))
	}
}

func TestRunClassifiesSendFailure(t *testing.T) {
	sink := &recorderSink{}
	sender := &countingSender{err: &channel.SendError{Source: "sms", Client: true, Err: errors.New("invalid number")}}
	brk := &fakeBroker{batches: [][]envelope.Envelope{{smsEnvelope(validUUID)}}}
	resolver := &fakeResolver{result: &preferences.Result{Contacts: map[string]string{"sms": "+391234"}}}

	c := newTestConsumer(channel.NewSMS(sender.send), brk, resolver, sink)
	if err := runBatch(t, c, brk); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if got := sink.ofType(events.TypeClientError); len(got) != 1 {
		t.Fatalf("CLIENT_ERROR events = %d, want 1", len(got))
	}
	if len(brk.retried) != 0 {
		t.Error("client error must not be re-queued")
	}
}

func TestRunRequeuesRetryableSendFailure(t *testing.T) {
	sink := &recorderSink{}
	sender := &countingSender{err: errors.New("gateway timeout")}
	brk := &fakeBroker{batches: [][]envelope.Envelope{{smsEnvelope(validUUID)}}}
	resolver := &fakeResolver{result: &preferences.Result{Contacts: map[string]string{"sms": "+391234"}}}

	c := newTestConsumer(channel.NewSMS(sender.send), brk, resolver, sink)
	if err := runBatch(t, c, brk); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if got := sink.ofType(events.TypeRetry); len(got) != 1 {
		t.Fatalf("RETRY events = %d, want 1", len(got))
	}
	if len(brk.retried) != 1 {
		t.Fatalf("retry queue received %d envelopes, want 1", len(brk.retried))
	}
}

func TestRunFatalOnUnauthorized(t *testing.T) {
	brk := &fakeBroker{fetchErr: broker.ErrUnauthorized}
	c := newTestConsumer(channel.NewSMS(nil), brk, &fakeResolver{}, &recorderSink{})

	err := c.Run(context.Background())
	if !errors.Is(err, broker.ErrUnauthorized) {
		t.Fatalf("Run() = %v, want ErrUnauthorized", err)
	}
}

func TestRunSurvivesTransientFetchErrors(t *testing.T) {
	brk := &fakeBroker{fetchErr: errors.New("bad gateway")}
	c := newTestConsumer(channel.NewSMS(nil), brk, &fakeResolver{}, &recorderSink{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v, want nil after graceful stop", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop on cancellation")
	}
}

func TestRunGracefulStop(t *testing.T) {
	brk := &fakeBroker{}
	c := newTestConsumer(channel.NewSMS(nil), brk, &fakeResolver{}, &recorderSink{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	if c.State() != StateStopped {
		t.Errorf("state = %v, want stopped", c.State())
	}
}
