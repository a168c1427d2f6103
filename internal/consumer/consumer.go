// Package consumer implements the generic notification-dispatch loop: it
// polls the broker for envelopes, filters and validates them, resolves the
// recipient's delivery preferences, invokes the channel send, and routes
// failures through the classifier to the retry queue or a terminal drop.
package consumer

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mbellotti/notiq/internal/broker"
	"github.com/mbellotti/notiq/internal/channel"
	"github.com/mbellotti/notiq/internal/config"
	"github.com/mbellotti/notiq/internal/envelope"
	"github.com/mbellotti/notiq/internal/events"
	"github.com/mbellotti/notiq/internal/logging"
	"github.com/mbellotti/notiq/internal/metrics"
	"github.com/mbellotti/notiq/internal/preferences"
	"github.com/mbellotti/notiq/internal/tracing"
)

// State is the consumer lifecycle: Running → Stopping → Stopped, linear.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Broker is the queue surface the consumer needs.
type Broker interface {
	Fetch(ctx context.Context) ([]envelope.Envelope, error)
	PostRetry(ctx context.Context, env *envelope.Envelope) error
}

// PreferenceResolver resolves where a user wants a message delivered. A nil
// result with a nil error means the message must be dropped silently; the
// resolver has already reported why.
type PreferenceResolver interface {
	Resolve(ctx context.Context, ch preferences.Channel, env *envelope.Envelope) (*preferences.Result, error)
}

// Consumer is the top-level polling state machine for one channel.
type Consumer struct {
	ch              channel.Channel
	broker          Broker
	resolver        PreferenceResolver
	sink            events.Sink
	log             *logging.Logger
	skipPreferences bool
	transientSleep  time.Duration
	now             func() time.Time

	state atomic.Int32
}

func New(cfg config.Consumer, ch channel.Channel, brk Broker, resolver PreferenceResolver, sink events.Sink, log *logging.Logger) *Consumer {
	return &Consumer{
		ch:              ch,
		broker:          brk,
		resolver:        resolver,
		sink:            sink,
		log:             log,
		skipPreferences: cfg.SkipPreferences,
		transientSleep:  cfg.TransientSleep,
		now:             time.Now,
	}
}

// State reports the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
}

// Run polls the broker until ctx is cancelled. The in-flight batch is
// always allowed to complete; cancellation is only observed between polls.
// It returns broker.ErrUnauthorized when the broker rejects the
// credentials, which the host should treat as fatal, and nil on a graceful
// stop.
func (c *Consumer) Run(ctx context.Context) error {
	c.setState(StateRunning)
	defer c.setState(StateStopped)

	c.log.Plain().WithChannel(c.ch.Name()).Info("consumer started")

	for {
		select {
		case <-ctx.Done():
			c.setState(StateStopping)
			c.log.Plain().WithChannel(c.ch.Name()).Info("stopped gracefully")
			return nil
		default:
		}

		batch, err := c.broker.Fetch(ctx)
		if err != nil {
			if errors.Is(err, broker.ErrUnauthorized) {
				return err
			}
			if ctx.Err() != nil {
				// cancellation surfaced through the transport; handled at
				// the top of the loop
				continue
			}
			c.log.WithContext(ctx).WithError(err).Error("error getting messages from message broker")
			c.sleep(ctx)
			continue
		}

		for i := range batch {
			c.process(ctx, &batch[i])
		}
	}
}

// process runs one envelope through the pipeline: applicability, dry_run,
// expiry, validation, preference resolution, send. Failures never escape.
func (c *Consumer) process(ctx context.Context, env *envelope.Envelope) {
	name := c.ch.Name()
	ctx, span := tracing.StartSpan(ctx, "consumer.process",
		attribute.String("msg_uuid", env.UUID),
		attribute.String("payload_id", env.Payload.ID),
		attribute.String("channel", name),
	)
	defer span.End()

	scoped := channel.IsMessageChannel(name)
	if scoped && !env.Payload.HasSection(name) {
		return
	}

	if env.Payload.DryRun {
		c.entry(ctx, env).Debug("the message has dry_run set")
		c.sink.Emit(events.TypeInfo,
			"the message "+env.Payload.ID+" has dry_run attribute set",
			events.EnvelopePayload{Message: &env.Payload, User: &env.User})
		metrics.RecordDropped("dry_run")
		return
	}

	if env.Expired(c.now()) {
		c.entry(ctx, env).Debugf("the message is expired in date %s, it will not be sent", env.ExpireAt)
		c.sink.Emit(events.TypeInfo,
			"the message "+env.Payload.ID+" is expired, it will not be sent",
			events.EnvelopePayload{Message: &env.Payload, User: &env.User})
		metrics.RecordDropped("expired")
		return
	}

	var errs []string
	for _, e := range c.ch.Validate(&env.Payload) {
		if e != "" {
			errs = append(errs, e)
		}
	}
	if scoped && !env.Payload.ValidID() {
		errs = append(errs, "id must be a valid uuid")
	}
	if len(errs) > 0 {
		for _, e := range errs {
			c.entry(ctx, env).Info(e)
		}
		desc := "the message is malformed: " + strings.Join(errs, ",")
		c.sink.Emit(events.TypeClientError, desc,
			events.EnvelopePayload{Message: &env.Payload, User: &env.User, Error: desc})
		c.entry(ctx, env).Info("the message is malformed")
		metrics.RecordDropped("malformed")
		return
	}

	var prefs *preferences.Result
	if !c.skipPreferences {
		var err error
		prefs, err = c.resolver.Resolve(ctx, c.ch, env)
		if err != nil {
			c.fail(ctx, env, err)
			return
		}
		if prefs == nil {
			// dropped or re-queued; already reported inside the resolver
			metrics.RecordDropped("no_preference")
			return
		}
	}

	start := c.now()
	if err := c.ch.Send(ctx, env, prefs); err != nil {
		c.fail(ctx, env, err)
		return
	}
	metrics.RecordSent(name, time.Since(start))
	tracing.AddSpanEvent(ctx, "channel.sent")
}

// fail classifies a processing failure, reports it, and re-queues the
// envelope when the outcome is retry. A retry downgrades the default error
// log level to warn; an explicit level tag is preserved either way.
func (c *Consumer) fail(ctx context.Context, env *envelope.Envelope, err error) {
	ce := Classify(err, env)
	metrics.RecordFailure(string(ce.Outcome))
	tracing.SetSpanError(ctx, err)

	desc := "Error"
	var tagged *Tagged
	if errors.As(err, &tagged) && tagged.Description != "" {
		desc = tagged.Description
	}
	c.sink.Emit(ce.Outcome.EventType(), desc,
		events.EnvelopePayload{Message: &env.Payload, User: &env.User, Error: err.Error()})

	level := ce.Level
	if ce.Outcome == OutcomeRetry {
		if perr := c.broker.PostRetry(ctx, env); perr != nil {
			c.entry(ctx, env).WithError(perr).Error("cannot resubmit message to retry queue")
		} else if level == logging.LevelError {
			level = logging.LevelWarn
		}
	}

	c.entry(ctx, env).WithError(err).Log(level, err.Error())
}

func (c *Consumer) entry(ctx context.Context, env *envelope.Envelope) *logging.LogEntry {
	return c.log.WithContext(ctx).
		WithMsg(env.UUID).
		WithPayloadID(env.Payload.ID).
		WithTenant(env.User.Tenant).
		WithChannel(c.ch.Name())
}

func (c *Consumer) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(c.transientSleep):
	}
}
