package events

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/mbellotti/notiq/internal/config"
	"github.com/mbellotti/notiq/internal/logging"
	"github.com/mbellotti/notiq/internal/metrics"
)

// Emitter publishes lifecycle events to the broker's events queue. Emission
// is fire-and-forget: each event is sent on its own goroutine, and the
// caller never blocks on broker acceptance. Two retry policies exist:
// bounded (retry 408/5xx/transport failures up to Retries, then give up
// silently) and best-effort (a single attempt, failures only logged).
type Emitter struct {
	url        string
	token      string
	source     string
	retries    int
	delay      time.Duration
	bestEffort bool

	client *http.Client
	log    *logging.Logger
	wg     sync.WaitGroup
}

// NewEmitter builds an immutably-configured emitter. The source names the
// emitting application in every event.
func NewEmitter(cfg config.Broker, policy config.Events, source string, log *logging.Logger) *Emitter {
	retries := policy.Retries
	if policy.BestEffort {
		retries = 0
	}
	return &Emitter{
		url:        cfg.EventsURL,
		token:      cfg.Token,
		source:     source,
		retries:    retries,
		delay:      policy.Delay,
		bestEffort: policy.BestEffort,
		client:     &http.Client{Timeout: 15 * time.Second},
		log:        log,
	}
}

// Emit publishes an event without blocking the caller.
func (e *Emitter) Emit(eventType, description string, payload any) {
	ev := NewEvent(e.source, description, eventType, payload)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.send(ev)
	}()
}

// Convenience wrappers mirroring the event type set.

func (e *Emitter) OK(description string, payload any)   { e.Emit(TypeOK, description, payload) }
func (e *Emitter) Info(description string, payload any) { e.Emit(TypeInfo, description, payload) }
func (e *Emitter) ClientError(description string, payload any) {
	e.Emit(TypeClientError, description, payload)
}
func (e *Emitter) SystemError(description string, payload any) {
	e.Emit(TypeSystemError, description, payload)
}
func (e *Emitter) SecurityError(description string, payload any) {
	e.Emit(TypeSecurityError, description, payload)
}
func (e *Emitter) Retry(description string, payload any)   { e.Emit(TypeRetry, description, payload) }
func (e *Emitter) DBError(description string, payload any) { e.Emit(TypeDBError, description, payload) }
func (e *Emitter) ExternalError(description string, payload any) {
	e.Emit(TypeExternalError, description, payload)
}
func (e *Emitter) ClientRequest(description string, payload any) {
	e.Emit(TypeClientRequest, description, payload)
}

// Close waits for in-flight emissions to settle.
func (e *Emitter) Close() {
	e.wg.Wait()
}

// send posts the event, retrying transient failures per the configured
// policy. Non-transient rejections are logged and abandoned immediately.
func (e *Emitter) send(ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		e.log.Plain().WithError(err).WithField("event_uuid", ev.UUID).Error("cannot marshal event")
		return
	}

	for attempt := 0; ; attempt++ {
		status, err := e.post(body)
		switch {
		case err == nil && status == http.StatusCreated:
			metrics.RecordEvent(ev.Type)
			e.log.Plain().WithField("event_uuid", ev.UUID).WithField("type", ev.Type).Debug("event sent")
			return
		case err == nil && status != http.StatusRequestTimeout && status < 500:
			e.log.Plain().
				WithField("event_uuid", ev.UUID).
				WithField("status", status).
				Errorf("cannot send event %q to %s", ev.Description, e.url)
			return
		}

		if attempt >= e.retries {
			metrics.RecordEventAbandoned()
			if e.bestEffort {
				e.log.Plain().WithError(err).WithField("event_uuid", ev.UUID).Warn("event not sent, best effort")
			} else {
				e.log.Plain().WithError(err).WithField("event_uuid", ev.UUID).
					Warnf("event abandoned after %d attempts", attempt+1)
			}
			return
		}

		e.log.Plain().WithError(err).
			WithField("event_uuid", ev.UUID).
			WithField("status", status).
			Warnf("error sending event, retry in %s", e.delay)
		time.Sleep(e.delay)
	}
}

func (e *Emitter) post(body []byte) (int, error) {
	req, err := http.NewRequest(http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-authentication", e.token)
	req.Close = true

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
