package security

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Respond stamps every response with a request id, echoed from the
// caller's X-Request-ID when present, and the handling time.
func Respond(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		rw := &respondWriter{ResponseWriter: w, start: start}
		next.ServeHTTP(rw, r)
	})
}

// respondWriter sets X-Response-Time just before the first byte of the
// response goes out.
type respondWriter struct {
	http.ResponseWriter
	start   time.Time
	stamped bool
}

func (w *respondWriter) stamp() {
	if !w.stamped {
		w.stamped = true
		w.Header().Set("X-Response-Time", fmt.Sprintf("%dms", time.Since(w.start).Milliseconds()))
	}
}

func (w *respondWriter) WriteHeader(code int) {
	w.stamp()
	w.ResponseWriter.WriteHeader(code)
}

func (w *respondWriter) Write(b []byte) (int, error) {
	w.stamp()
	return w.ResponseWriter.Write(b)
}
