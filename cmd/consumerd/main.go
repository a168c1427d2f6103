package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mbellotti/notiq/internal/broker"
	"github.com/mbellotti/notiq/internal/channel"
	"github.com/mbellotti/notiq/internal/config"
	"github.com/mbellotti/notiq/internal/consumer"
	"github.com/mbellotti/notiq/internal/db"
	"github.com/mbellotti/notiq/internal/envelope"
	"github.com/mbellotti/notiq/internal/events"
	"github.com/mbellotti/notiq/internal/health"
	"github.com/mbellotti/notiq/internal/logging"
	"github.com/mbellotti/notiq/internal/metrics"
	"github.com/mbellotti/notiq/internal/preferences"
	"github.com/mbellotti/notiq/internal/security"
	"github.com/mbellotti/notiq/internal/tracing"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

// run holds the whole daemon lifecycle so deferred cleanup (tracing
// shutdown, store closes, emitter drain) executes on every exit path.
func run() error {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := cfg.Consumer.Channel + "consumer"
	logger := logging.New(source)

	shutdown, err := tracing.InitTracing(ctx, source)
	if err != nil {
		logger.Plain().WithError(err).Error("Failed to initialize tracing")
		return err
	}
	defer shutdown()

	// Optional stores
	var pools db.Pools
	if len(cfg.DB.DSNs) > 0 {
		pools, err = db.ConnectAll(ctx, cfg.DB.DSNs)
		if err != nil {
			logger.Plain().WithError(err).Error("db connect failed")
			return err
		}
		defer pools.Close()
	}

	var cache *db.Cache
	if cfg.DB.RedisURL != "" {
		cache, err = db.ConnectCache(ctx, cfg.DB.RedisURL, cfg.Preferences.CacheTTL)
		if err != nil {
			logger.Plain().WithError(err).Error("redis connect failed")
			return err
		}
		defer cache.Close()
	}

	var search *db.Search
	if len(cfg.DB.SearchURLs) > 0 {
		search, err = db.NewSearchClient(ctx, cfg.DB.SearchURLs, cfg.DB.SearchUser, cfg.DB.SearchPass)
		if err != nil {
			logger.Plain().WithError(err).Error("search connect failed")
			return err
		}
	}

	// Prom metrics
	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	// Emitter, broker, preferences
	emitter := events.NewEmitter(cfg.Broker, cfg.Events, source, logger)
	defer emitter.Close()

	brokerClient := broker.NewClient(cfg.Broker, cfg.Consumer.RetryPostDelay, logger)

	resolver := preferences.NewResolver(cfg.Preferences, cfg.DefaultTenant, cfg.Consumer.TransientSleep, emitter, brokerClient, logger)
	if cache != nil {
		resolver = resolver.WithCache(cache)
	}

	ch, err := buildChannel(cfg.Consumer, emitter, logger)
	if err != nil {
		logger.Plain().WithError(err).Error("channel construction failed")
		return err
	}

	cons := consumer.New(cfg.Consumer, ch, brokerClient, resolver, emitter, logger)

	// HTTP health/metrics. Only configured stores are handed to Multi; a
	// typed-nil *db.Search inside the Pinger interface would survive its
	// nil filter.
	var dbPingers []health.Pinger
	if pools != nil {
		dbPingers = append(dbPingers, pools)
	}
	if search != nil {
		dbPingers = append(dbPingers, search)
	}
	dbPinger := health.Multi(dbPingers...)
	var cachePinger health.Pinger
	if cache != nil {
		cachePinger = cache
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(dbPinger, cachePinger, func() string { return cons.State().String() }))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	var handler http.Handler = mux
	if cfg.Ops.JWTPublicKey != "" {
		validator, err := security.NewValidator(cfg.Ops.JWTPublicKey, cfg.AppName)
		if err != nil {
			logger.Plain().WithError(err).Error("ops token validator failed")
			return err
		}
		handler = validator.Middleware(handler)
	}
	handler = security.BasicAuth(cfg.Ops.BasicUser, cfg.Ops.BasicPass, handler)
	handler = security.Respond(handler)

	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: handler}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("ops HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Fatal("ops HTTP server failed")
		}
	}()

	// Graceful stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-stop
		logger.Plain().Info("termination signal received")
		cancel()
	}()

	err = cons.Run(ctx)
	_ = httpSrv.Shutdown(context.Background())
	if err != nil {
		logger.Plain().WithError(err).Error("consumer stopped with error")
		emitter.SecurityError("consumer cannot authenticate with the message broker", nil)
		return err
	}
	logger.Plain().Info("consumer service stopped")
	return nil
}

// buildChannel wires the configured channel with the reference sender.
// sms/push/email get the structural validators; other channel names run
// unvalidated through the Func adapter.
func buildChannel(cfg config.Consumer, emitter *events.Emitter, logger *logging.Logger) (channel.Channel, error) {
	sender := newSinkSender(cfg, emitter, logger)
	switch cfg.Channel {
	case "sms":
		return channel.NewSMS(sender), nil
	case "push":
		return channel.NewPush(sender), nil
	case "email":
		return channel.NewEmail(sender), nil
	case "mex", "io", "events", "audit":
		return channel.Func{ChannelName: cfg.Channel, Sender: sender}, nil
	default:
		return nil, fmt.Errorf("unknown channel %q", cfg.Channel)
	}
}

// delivery is the body posted to the sink for each accepted message.
type delivery struct {
	Message *envelope.Payload `json:"message"`
	Contact string            `json:"contact,omitempty"`
	Channel string            `json:"channel"`
}

// newSinkSender returns a sender that POSTs the message and resolved
// contact to the configured sink URL. Without a sink URL deliveries are
// only logged, which keeps a dev instance runnable end-to-end.
func newSinkSender(cfg config.Consumer, emitter *events.Emitter, logger *logging.Logger) channel.SendFunc {
	client := &http.Client{Timeout: 15 * time.Second}

	return func(ctx context.Context, env *envelope.Envelope, prefs *preferences.Result) error {
		contact := prefs.Address(cfg.Channel)
		log := logger.WithContext(ctx).WithMsg(env.UUID).WithPayloadID(env.Payload.ID).WithChannel(cfg.Channel)

		if cfg.SinkURL == "" {
			log.Info("message delivered (log sink)")
			emitter.OK("message "+env.Payload.ID+" sent", events.EnvelopePayload{Message: &env.Payload, User: &env.User})
			return nil
		}

		body, err := json.Marshal(delivery{Message: &env.Payload, Contact: contact, Channel: cfg.Channel})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.SinkURL, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		tracing.InjectHTTP(ctx, req)

		resp, err := client.Do(req)
		if err != nil {
			return &channel.SendError{Source: cfg.Channel, Err: err}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			log.Info("message delivered")
			emitter.OK("message "+env.Payload.ID+" sent", events.EnvelopePayload{Message: &env.Payload, User: &env.User})
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return &channel.SendError{Source: cfg.Channel, Client: true, Err: fmt.Errorf("sink returned %d", resp.StatusCode)}
		default:
			return &channel.SendError{Source: cfg.Channel, Err: fmt.Errorf("sink returned %d", resp.StatusCode)}
		}
	}
}
