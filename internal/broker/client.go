package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mbellotti/notiq/internal/config"
	"github.com/mbellotti/notiq/internal/envelope"
	"github.com/mbellotti/notiq/internal/logging"
	"github.com/mbellotti/notiq/internal/metrics"
	"github.com/mbellotti/notiq/internal/tracing"
)

// ErrUnauthorized is returned when the broker rejects our credentials.
// Credentials are static for the process lifetime, so the caller should
// treat this as fatal rather than retrying.
var ErrUnauthorized = errors.New("broker: not authorized")

// Client talks to the message broker's queue endpoints. It is stateless and
// safe to reuse across poll iterations.
type Client struct {
	messagesURL string
	retryURL    string
	token       string
	retryDelay  time.Duration

	http *http.Client
	log  *logging.Logger
}

func NewClient(cfg config.Broker, retryDelay time.Duration, log *logging.Logger) *Client {
	return &Client{
		messagesURL: cfg.MessagesURL,
		retryURL:    cfg.RetryURL,
		token:       cfg.Token,
		retryDelay:  retryDelay,
		http:        &http.Client{Timeout: 30 * time.Second},
		log:         log,
	}
}

// Fetch pulls the next batch of envelopes from the messages queue. A 204
// yields an empty batch and no error. A 401 yields ErrUnauthorized. Any
// other non-200 status or transport failure is a transient error the caller
// is expected to absorb by sleeping and polling again.
func (c *Client) Fetch(ctx context.Context) ([]envelope.Envelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.messagesURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-authentication", c.token)
	req.Close = true
	tracing.InjectHTTP(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch from message broker: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusNoContent:
		c.log.WithContext(ctx).Debug("no data from message broker")
		return nil, nil
	case http.StatusUnauthorized:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.WithContext(ctx).WithField("body", string(body)).Error("not authorized to contact the message broker")
		return nil, ErrUnauthorized
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("message broker returned [%d] %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read broker response: %w", err)
	}

	batch, err := decodeBatch(body)
	if err != nil {
		return nil, err
	}
	metrics.RecordFetched(len(batch))
	return batch, nil
}

// decodeBatch normalizes the broker body, which may be a JSON array or a
// single envelope object, into a slice.
func decodeBatch(body []byte) ([]envelope.Envelope, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var batch []envelope.Envelope
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, fmt.Errorf("decode broker batch: %w", err)
		}
		return batch, nil
	}

	var single envelope.Envelope
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, fmt.Errorf("decode broker envelope: %w", err)
	}
	return []envelope.Envelope{single}, nil
}

// PostRetry publishes the full envelope to the retry queue and blocks until
// the broker accepts it with a 201. Transport failures and non-creation
// statuses are retried identically with a fixed delay; the only way out
// short of acceptance is context cancellation. The blocking is deliberate
// backpressure: the consumer loop must not advance while a retry
// submission is outstanding.
func (c *Client) PostRetry(ctx context.Context, env *envelope.Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope for retry queue: %w", err)
	}

	log := c.log.WithContext(ctx).WithMsg(env.UUID).WithPayloadID(env.Payload.ID)
	log.Debugf("send message to retry queue: %s", c.retryURL)

	for {
		status, err := c.postOnce(ctx, body)
		if err == nil && status == http.StatusCreated {
			metrics.RecordRetryPost()
			return nil
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.WithContext(ctx).WithMsg(env.UUID).WithError(err).
				Error("error while putting the message in the message broker")
		} else {
			c.log.WithContext(ctx).WithMsg(env.UUID).WithField("status", status).
				Error("message not inserted in the retry queue")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.retryDelay):
		}
	}
}

func (c *Client) postOnce(ctx context.Context, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.retryURL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-authentication", c.token)
	req.Close = true

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}
