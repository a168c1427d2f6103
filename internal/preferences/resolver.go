package preferences

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mbellotti/notiq/internal/config"
	"github.com/mbellotti/notiq/internal/envelope"
	"github.com/mbellotti/notiq/internal/events"
	"github.com/mbellotti/notiq/internal/logging"
	"github.com/mbellotti/notiq/internal/tracing"
)

// Result maps channel names to the recipient address the user chose for
// them. Derived per envelope, never persisted.
type Result struct {
	Contacts map[string]string
}

// Address returns the recipient address for the named channel, or "".
func (r *Result) Address(channel string) string {
	if r == nil {
		return ""
	}
	return r.Contacts[channel]
}

// Channel is the slice of the channel contract the resolver needs.
type Channel interface {
	Name() string
	HasRecipient(p *envelope.Payload) bool
}

// RetryPoster resubmits an envelope to the retry queue.
type RetryPoster interface {
	PostRetry(ctx context.Context, env *envelope.Envelope) error
}

// Cache stores successful preference bodies keyed by tenant/user/service.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// Resolver decides whether and where a user wants to receive a message on a
// given channel. A nil result with a nil error means "do not send"; the
// reason has already been reported through the event sink.
type Resolver struct {
	cfg           config.Preferences
	defaultTenant string
	sleep         time.Duration

	client *http.Client
	sink   events.Sink
	retry  RetryPoster
	cache  Cache
	log    *logging.Logger
}

func NewResolver(cfg config.Preferences, defaultTenant string, sleep time.Duration, sink events.Sink, retry RetryPoster, log *logging.Logger) *Resolver {
	return &Resolver{
		cfg:           cfg,
		defaultTenant: defaultTenant,
		sleep:         sleep,
		client:        &http.Client{Timeout: 30 * time.Second},
		sink:          sink,
		retry:         retry,
		log:           log,
	}
}

// WithCache enables caching of successful preference lookups.
func (r *Resolver) WithCache(c Cache) *Resolver {
	r.cache = c
	return r
}

// Resolve applies the preference rules in order: channel availability,
// trusted bypass, then the external preferences service.
func (r *Resolver) Resolve(ctx context.Context, ch Channel, env *envelope.Envelope) (*Result, error) {
	name := ch.Name()
	log := r.log.WithContext(ctx).WithMsg(env.UUID).WithPayloadID(env.Payload.ID).WithChannel(name)

	// The service did not give availability for this channel.
	if _, ok := env.User.Preferences[name]; !ok {
		log.Debugf("the service %s doesn't have the %s channel available", env.User.PreferenceServiceName, name)
		return nil, nil
	}

	// Trusted messages carry their recipients inline and skip the lookup.
	if env.Payload.Trusted {
		contacts := env.Payload.InlineContacts()
		if contacts[name] == "" {
			desc := fmt.Sprintf("the trusted service %s didn't fill the recipient section", env.User.PreferenceServiceName)
			r.sink.Emit(events.TypeClientError, desc, events.EnvelopePayload{
				Message: &env.Payload, User: &env.User, Error: desc,
			})
			log.Debug(desc)
			return nil, nil
		}
		return &Result{Contacts: contacts}, nil
	}

	return r.lookup(ctx, ch, env, log)
}

func (r *Resolver) lookup(ctx context.Context, ch Channel, env *envelope.Envelope, log *logging.LogEntry) (*Result, error) {
	tenant := env.User.Tenant
	if tenant == "" {
		tenant = r.defaultTenant
	}
	key := fmt.Sprintf("%s/%s/%s", tenant, env.Payload.UserID, env.User.PreferenceServiceName)

	if r.cache != nil {
		if body, ok := r.cache.Get(ctx, key); ok {
			return r.interpret(body, ch, env, log)
		}
	}

	url := fmt.Sprintf("%s/tenants/%s/users/%s/contacts/%s",
		r.cfg.URL, tenant, env.Payload.UserID, env.User.PreferenceServiceName)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-authentication", r.cfg.Token)
	req.Header.Set("msg_uuid", env.Payload.ID)
	req.SetBasicAuth(r.cfg.BasicUser, r.cfg.BasicPass)
	tracing.InjectHTTP(ctx, req)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contact preferences service: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read preferences response: %w", err)
		}
		if r.cache != nil {
			r.cache.Set(ctx, key, body)
		}
		return r.interpret(body, ch, env, log)

	case http.StatusNotFound:
		// Unknown user: deliverable anyway when the message carries the
		// recipient inline.
		if !ch.HasRecipient(&env.Payload) {
			desc := fmt.Sprintf("the user %s doesn't exist and the recipient section is not set in the message", env.Payload.UserID)
			r.sink.Emit(events.TypeClientError, desc, events.EnvelopePayload{
				Message: &env.Payload, User: &env.User, Error: desc,
			})
			log.Info(desc)
			return nil, nil
		}
		return &Result{Contacts: env.Payload.InlineContacts()}, nil

	case http.StatusNoContent:
		// Known user with no preferences configured for this service.
		desc := fmt.Sprintf("the user %s has not preferences for the service: %s", env.Payload.UserID, env.User.PreferenceServiceName)
		r.sink.Emit(events.TypeClientError, desc, events.EnvelopePayload{
			Message: &env.Payload, User: &env.User, Error: desc,
		})
		log.Info(desc)
		return nil, nil

	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		desc := fmt.Sprintf("error from preferences: [%d] ", resp.StatusCode)
		r.sink.Emit(events.TypeRetry, desc, events.EnvelopePayload{
			Message: &env.Payload, User: &env.User, Error: string(body),
		})
		log.WithField("status", resp.StatusCode).Error(desc)

		// The message is not dropped: it goes back through the retry queue.
		if err := r.retry.PostRetry(ctx, env); err != nil {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.sleep):
		}
		return nil, nil
	}
}

// interpret applies the opt-out rule to a 200 body: the user exists, but an
// absent field for this channel means they do not want it.
func (r *Resolver) interpret(body []byte, ch Channel, env *envelope.Envelope, log *logging.LogEntry) (*Result, error) {
	name := ch.Name()

	var contacts map[string]string
	if err := json.Unmarshal(body, &contacts); err != nil {
		return nil, fmt.Errorf("decode preferences body: %w", err)
	}

	if contacts[name] == "" {
		desc := fmt.Sprintf("the user %s doesn't want receive %s from %s", env.Payload.UserID, name, env.User.PreferenceServiceName)
		r.sink.Emit(events.TypeClientError, desc, events.EnvelopePayload{
			Message: &env.Payload, User: &env.User, Error: desc,
		})
		log.Info(desc)
		return nil, nil
	}

	return &Result{Contacts: contacts}, nil
}
