// fake-broker is a development harness that speaks the consumer's whole
// wire surface in one process: the message, retry, and event queues, a
// static preferences endpoint, and a delivery sink. Seed messages with
// POST /queues/messages; the consumer drains them with GET.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
)

type queues struct {
	mu       sync.Mutex
	messages [][]byte
	retry    [][]byte
	events   [][]byte

	token      string
	failFirstN int
	reqCount   int
	contacts   map[string]string
}

func main() {
	q := &queues{
		token:    os.Getenv("MB_TOKEN"),
		contacts: map[string]string{"sms": "+391234567", "email": "user@example.com", "push": "tok-1"},
	}
	if v := os.Getenv("FAIL_FIRST_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			q.failFirstN = n
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/queues/messages", q.handleMessages)
	mux.HandleFunc("/queues/retry", q.handleEnqueue(&q.retry, "retry"))
	mux.HandleFunc("/queues/events", q.handleEnqueue(&q.events, "events"))
	mux.HandleFunc("/tenants/", q.handlePreferences)
	mux.HandleFunc("/sink", q.handleSink)

	addr := os.Getenv("HTTP_PORT")
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("fake-broker listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}

func (q *queues) authorized(r *http.Request) bool {
	return q.token == "" || r.Header.Get("x-authentication") == q.token
}

// handleMessages serves the messages queue: POST seeds an envelope, GET
// pops the head. Empty queue yields 204, like the real broker.
func (q *queues) handleMessages(w http.ResponseWriter, r *http.Request) {
	if !q.authorized(r) {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	switch r.Method {
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		q.messages = append(q.messages, body)
		w.WriteHeader(http.StatusCreated)
	case http.MethodGet:
		q.reqCount++
		if q.reqCount <= q.failFirstN {
			log.Printf("FAILING (%d/%d) messages fetch", q.reqCount, q.failFirstN)
			http.Error(w, "temporary failure", http.StatusBadGateway)
			return
		}
		if len(q.messages) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		head := q.messages[0]
		q.messages = q.messages[1:]
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(head)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleEnqueue accepts POSTs into the named queue with a 201.
func (q *queues) handleEnqueue(target *[][]byte, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !q.authorized(r) {
			http.Error(w, "not authorized", http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(r.Body)

		q.mu.Lock()
		*target = append(*target, body)
		depth := len(*target)
		q.mu.Unlock()

		log.Printf("fake-broker %s queue <- %s (depth %d)", name, truncate(string(body), 160), depth)
		w.WriteHeader(http.StatusCreated)
	}
}

// handlePreferences answers /tenants/<t>/users/<uid>/contacts/<svc> with
// the static contact map. User ids starting with "missing" get a 404,
// "empty" a 204.
func (q *queues) handlePreferences(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 6 || parts[0] != "tenants" || parts[2] != "users" || parts[4] != "contacts" {
		http.NotFound(w, r)
		return
	}
	userID := parts[3]

	switch {
	case strings.HasPrefix(userID, "missing"):
		w.WriteHeader(http.StatusNotFound)
	case strings.HasPrefix(userID, "empty"):
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(q.contacts)
	}
}

func (q *queues) handleSink(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	log.Printf("fake-broker sink OK body=%q", truncate(string(body), 160))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

// truncate shortens a string for log lines.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
