// Package agent provides tests for the stat sampler and its HTTP endpoint.
package agent

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/QAQ5555/dstatus/internal/stats"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCounterDelta(t *testing.T) {
	tests := []struct {
		name      string
		cur, prev stats.NetIO
		want      stats.NetIO
	}{
		{
			name: "normal growth",
			cur:  stats.NetIO{In: 1500, Out: 800},
			prev: stats.NetIO{In: 1000, Out: 500},
			want: stats.NetIO{In: 500, Out: 300},
		},
		{
			name: "first sample",
			cur:  stats.NetIO{In: 1000, Out: 500},
			want: stats.NetIO{In: 1000, Out: 500},
		},
		{
			name: "counter reset restarts the delta",
			cur:  stats.NetIO{In: 200, Out: 900},
			prev: stats.NetIO{In: 1000, Out: 500},
			want: stats.NetIO{In: 200, Out: 400},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := counterDelta(tt.cur, tt.prev); got != tt.want {
				t.Errorf("counterDelta(%+v, %+v) = %+v, want %+v", tt.cur, tt.prev, got, tt.want)
			}
		})
	}
}

func TestSamplerProducesPayload(t *testing.T) {
	s := NewSampler(nopLogger())
	s.sample(context.Background())

	payload, ok := s.Snapshot()
	if !ok {
		t.Fatal("expected a payload after sampling")
	}
	if len(payload.CPU.Single) == 0 {
		t.Error("expected at least one per-core entry")
	}
	if payload.Mem.Virtual.Total == 0 {
		t.Error("virtual memory total must never be zero")
	}
	if payload.Mem.Swap.Total == 0 {
		t.Error("swap total must never be zero")
	}

	// Two samples so the deltas have a previous reading to diff against.
	s.sample(context.Background())
	payload, _ = s.Snapshot()
	if payload.Net.Delta.In > payload.Net.Total.In {
		t.Errorf("delta exceeds cumulative total: %+v", payload.Net)
	}
}

func TestHandleStat(t *testing.T) {
	sampler := NewSampler(nopLogger())
	srv := NewServer(nopLogger(), sampler, ":0", "s3cret")

	request := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/stat", nil)
		if key != "" {
			req.Header.Set("key", key)
		}
		w := httptest.NewRecorder()
		srv.httpSrv.Handler.ServeHTTP(w, req)
		return w
	}

	t.Run("missing key rejected", func(t *testing.T) {
		if w := request(""); w.Code != http.StatusUnauthorized {
			t.Errorf("status %d, want 401", w.Code)
		}
	})

	t.Run("wrong key rejected", func(t *testing.T) {
		if w := request("nope"); w.Code != http.StatusUnauthorized {
			t.Errorf("status %d, want 401", w.Code)
		}
	})

	t.Run("before first sample reports failure", func(t *testing.T) {
		w := request("s3cret")
		if w.Code != http.StatusOK {
			t.Fatalf("status %d", w.Code)
		}
		var resp struct {
			Success bool `json:"success"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if resp.Success {
			t.Error("expected success=false before the first sample")
		}
	})

	t.Run("after sampling serves the payload", func(t *testing.T) {
		sampler.sample(context.Background())
		w := request("s3cret")
		var resp struct {
			Success bool     `json:"success"`
			Data    *Payload `json:"data"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if !resp.Success || resp.Data == nil {
			t.Fatalf("unexpected envelope: %s", w.Body.String())
		}
		if resp.Data.Mem.Virtual.Total == 0 {
			t.Errorf("unexpected payload: %+v", resp.Data)
		}
	})
}
