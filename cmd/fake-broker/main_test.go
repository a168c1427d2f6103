package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestQueues() *queues {
	return &queues{
		token:    "secret",
		contacts: map[string]string{"sms": "+391234567"},
	}
}

func TestMessagesQueue(t *testing.T) {
	q := newTestQueues()

	// empty queue
	req := httptest.NewRequest("GET", "/queues/messages", nil)
	req.Header.Set("x-authentication", "secret")
	w := httptest.NewRecorder()
	q.handleMessages(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("empty queue status = %d, want 204", w.Code)
	}

	// seed
	req = httptest.NewRequest("POST", "/queues/messages", strings.NewReader(`{"uuid":"e1"}`))
	req.Header.Set("x-authentication", "secret")
	w = httptest.NewRecorder()
	q.handleMessages(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("seed status = %d, want 201", w.Code)
	}

	// drain
	req = httptest.NewRequest("GET", "/queues/messages", nil)
	req.Header.Set("x-authentication", "secret")
	w = httptest.NewRecorder()
	q.handleMessages(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("drain status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != `{"uuid":"e1"}` {
		t.Errorf("drained body = %q", got)
	}
}

func TestMessagesQueueAuth(t *testing.T) {
	q := newTestQueues()
	req := httptest.NewRequest("GET", "/queues/messages", nil)
	req.Header.Set("x-authentication", "wrong")
	w := httptest.NewRecorder()
	q.handleMessages(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestMessagesQueueFailFirstN(t *testing.T) {
	q := newTestQueues()
	q.failFirstN = 1

	req := httptest.NewRequest("GET", "/queues/messages", nil)
	req.Header.Set("x-authentication", "secret")
	w := httptest.NewRecorder()
	q.handleMessages(w, req)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("first fetch status = %d, want 502", w.Code)
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest("GET", "/queues/messages", nil)
	req.Header.Set("x-authentication", "secret")
	q.handleMessages(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("second fetch status = %d, want 204", w.Code)
	}
}

func TestEnqueue(t *testing.T) {
	q := newTestQueues()
	handler := q.handleEnqueue(&q.retry, "retry")

	req := httptest.NewRequest("POST", "/queues/retry", strings.NewReader(`{"uuid":"e1"}`))
	req.Header.Set("x-authentication", "secret")
	w := httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if len(q.retry) != 1 {
		t.Fatalf("retry depth = %d, want 1", len(q.retry))
	}

	req = httptest.NewRequest("GET", "/queues/retry", nil)
	req.Header.Set("x-authentication", "secret")
	w = httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET status = %d, want 405", w.Code)
	}
}

func TestPreferences(t *testing.T) {
	q := newTestQueues()
	tests := []struct {
		path     string
		wantCode int
	}{
		{"/tenants/acme/users/u-1/contacts/billing", http.StatusOK},
		{"/tenants/acme/users/missing-1/contacts/billing", http.StatusNotFound},
		{"/tenants/acme/users/empty-1/contacts/billing", http.StatusNoContent},
		{"/tenants/acme/users/u-1/wrong/billing", http.StatusNotFound},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", tt.path, nil)
		w := httptest.NewRecorder()
		q.handlePreferences(w, req)
		if w.Code != tt.wantCode {
			t.Errorf("%s status = %d, want %d", tt.path, w.Code, tt.wantCode)
		}
	}
}
