package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is anything with a context-aware liveness probe. db.Pools and
// db.Cache both satisfy it; nil skips the check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Multi combines several pingers into one; nil interface values are
// skipped and a nil result means nothing to check. A typed nil inside a
// non-nil interface is not detected here, so pointer-backed pingers must
// tolerate a nil receiver.
func Multi(pingers ...Pinger) Pinger {
	var live []Pinger
	for _, p := range pingers {
		if p != nil {
			live = append(live, p)
		}
	}
	if len(live) == 0 {
		return nil
	}
	return multiPinger(live)
}

type multiPinger []Pinger

func (m multiPinger) Ping(ctx context.Context) error {
	for _, p := range m {
		if err := p.Ping(ctx); err != nil {
			return err
		}
	}
	return nil
}

type Status struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message,omitempty"`
	State    string `json:"state,omitempty"`
	Database bool   `json:"database,omitempty"`
	Cache    bool   `json:"cache,omitempty"`
}

// StateFunc reports the consumer lifecycle state for the health payload.
type StateFunc func() string

// HTTPHandler returns an HTTP handler that reports the health status of
// the service, pinging the configured stores with a short deadline.
func HTTPHandler(database, cache Pinger, state StateFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok", Database: true, Cache: true}
		if state != nil {
			st.State = state()
		}

		ctx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
		defer cancel()

		if database != nil {
			if err := database.Ping(ctx); err != nil {
				st.OK = false
				st.Message = "db ping failed"
				st.Database = false
			}
		}
		if cache != nil {
			if err := cache.Ping(ctx); err != nil {
				st.OK = false
				st.Message = "cache ping failed"
				st.Cache = false
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if !st.OK {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	}
}
