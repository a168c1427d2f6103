package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Broker holds the message broker queue endpoints and credentials.
type Broker struct {
	MessagesURL string // queue to poll for envelopes
	RetryURL    string // queue for failed-but-retryable envelopes
	EventsURL   string // queue for lifecycle events
	Token       string // x-authentication header value
}

// Preferences holds the preferences service endpoint and credentials.
type Preferences struct {
	URL       string
	Token     string
	BasicUser string
	BasicPass string
	CacheTTL  time.Duration // TTL of cached preference bodies, 0 disables
}

// Events configures the event emitter retry policy.
type Events struct {
	Retries    int           // bounded retry attempts on 408/5xx/transport errors
	Delay      time.Duration // delay between event retry attempts
	BestEffort bool          // single attempt, failures only logged
}

// Consumer configures the polling loop of a single channel consumer.
type Consumer struct {
	Channel         string        // sms, push, email, mex, io, events, audit
	SkipPreferences bool          // skip the preferences lookup entirely
	TransientSleep  time.Duration // sleep after a transient broker/preferences failure
	RetryPostDelay  time.Duration // delay between retry-queue publish attempts
	SinkURL         string        // reference sender target, optional
}

// DB holds the optional data-store connections pinged by the deep health
// check and available to channel senders.
type DB struct {
	DSNs       map[string]string // named postgres pools, e.g. main=postgres://...
	RedisURL   string
	SearchURLs []string
	SearchUser string
	SearchPass string
}

// Ops configures the metrics/health HTTP surface of the daemon.
type Ops struct {
	BasicUser    string
	BasicPass    string
	JWTPublicKey string // PEM, enables the token check when set
}

type Config struct {
	AppName       string
	HTTPPort      string // ops server, e.g. :8082
	DefaultTenant string
	Broker        Broker
	Preferences   Preferences
	Events        Events
	Consumer      Consumer
	DB            DB
	Ops           Ops
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parseDSNMap parses "name=dsn;name2=dsn2" into a named pool map.
func parseDSNMap(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	out := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, dsn, ok := strings.Cut(part, "=")
		if !ok || name == "" || dsn == "" {
			continue
		}
		out[strings.TrimSpace(name)] = strings.TrimSpace(dsn)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func FromEnv() Config {
	return Config{
		AppName:       getenv("APP_NAME", "notiq"),
		HTTPPort:      getenv("HTTP_PORT", ":8082"),
		DefaultTenant: getenv("DEFAULT_TENANT", "default"),
		Broker: Broker{
			MessagesURL: getenv("MB_MESSAGES_URL", "http://broker:8080/queues/messages"),
			RetryURL:    getenv("MB_RETRY_URL", "http://broker:8080/queues/retry"),
			EventsURL:   getenv("MB_EVENTS_URL", "http://broker:8080/queues/events"),
			Token:       getenv("MB_TOKEN", ""),
		},
		Preferences: Preferences{
			URL:       getenv("PREFERENCES_URL", "http://preferences:8080"),
			Token:     getenv("PREFERENCES_TOKEN", ""),
			BasicUser: getenv("PREFERENCES_BASIC_USER", ""),
			BasicPass: getenv("PREFERENCES_BASIC_PASS", ""),
			CacheTTL:  getenvDuration("PREFERENCES_CACHE_TTL", 0),
		},
		Events: Events{
			Retries:    getenvInt("EVENT_RETRIES", 5),
			Delay:      getenvDuration("EVENT_RETRY_DELAY", 3*time.Second),
			BestEffort: getenvBool("EVENT_BEST_EFFORT", false),
		},
		Consumer: Consumer{
			Channel:         getenv("CONSUMER_CHANNEL", "sms"),
			SkipPreferences: getenvBool("SKIP_PREFERENCES", false),
			TransientSleep:  getenvDuration("TRANSIENT_SLEEP", 10*time.Second),
			RetryPostDelay:  getenvDuration("RETRY_POST_DELAY", 10*time.Second),
			SinkURL:         getenv("SINK_URL", ""),
		},
		DB: DB{
			DSNs:       parseDSNMap(getenv("DB_DSNS", "")),
			RedisURL:   getenv("REDIS_URL", ""),
			SearchURLs: parseList(getenv("SEARCH_URLS", "")),
			SearchUser: getenv("SEARCH_USER", ""),
			SearchPass: getenv("SEARCH_PASS", ""),
		},
		Ops: Ops{
			BasicUser:    getenv("OPS_BASIC_USER", ""),
			BasicPass:    getenv("OPS_BASIC_PASS", ""),
			JWTPublicKey: getenv("OPS_JWT_PUBLIC_KEY", ""),
		},
	}
}
