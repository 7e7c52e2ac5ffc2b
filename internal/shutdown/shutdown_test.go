package shutdown

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestShutdownOrderIsLIFO(t *testing.T) {
	c := NewCoordinator(nopLogger())

	var order []string
	record := func(name string) ShutdownFunc {
		return func(ctx context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	// A persistence layer registered first must close last, after the
	// components that write to it have drained.
	c.Register("store", record("store"))
	c.Register("scheduler", record("scheduler"))
	c.Register("http", record("http"))

	if err := c.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown returned %v", err)
	}

	want := []string{"http", "scheduler", "store"}
	if len(order) != len(want) {
		t.Fatalf("shutdown order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("shutdown order = %v, want %v", order, want)
		}
	}
}

func TestShutdownReturnsFirstError(t *testing.T) {
	c := NewCoordinator(nopLogger())

	boom := errors.New("boom")
	var storeClosed bool
	c.Register("store", ShutdownFunc(func(ctx context.Context) error {
		storeClosed = true
		return nil
	}))
	c.Register("scheduler", ShutdownFunc(func(ctx context.Context) error {
		return boom
	}))

	err := c.Shutdown(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Shutdown error = %v, want %v", err, boom)
	}
	if !storeClosed {
		t.Error("store was not shut down after an earlier component failed")
	}
}
