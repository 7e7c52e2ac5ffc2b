package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingNotifier struct {
	mu    sync.Mutex
	count int
}

func (c *countingNotifier) Notice(context.Context, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
}

func TestMulti(t *testing.T) {
	a := &countingNotifier{}
	b := &countingNotifier{}
	m := Multi{Nop{}, a, b}

	m.Notice(context.Background(), "hello")
	m.Notice(context.Background(), "world")

	if a.count != 2 || b.count != 2 {
		t.Errorf("expected both notifiers called twice, got %d and %d", a.count, b.count)
	}
}

func TestWebhookNotice(t *testing.T) {
	var mu sync.Mutex
	var received []webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		var p webhookPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode failed: %v", err)
		}
		mu.Lock()
		received = append(received, p)
		mu.Unlock()
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, nopLogger())
	w.Notice(context.Background(), "#offline Server 2026-08-31 12:00:00")

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected one delivery, got %d", len(received))
	}
	if received[0].Text != "#offline Server 2026-08-31 12:00:00" {
		t.Errorf("unexpected text: %q", received[0].Text)
	}
	if received[0].Time == "" {
		t.Error("expected timestamp")
	}
}

func TestWebhookRetries(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, nopLogger())
	w.Notice(context.Background(), "retry me")

	mu.Lock()
	defer mu.Unlock()
	if attempts < 2 {
		t.Errorf("expected a retry after 500, got %d attempts", attempts)
	}
}
