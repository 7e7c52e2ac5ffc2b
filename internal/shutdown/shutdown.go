// Package shutdown provides coordinated shutdown for the daemon's components.
// Components register in startup order and are stopped in reverse order, so
// the HTTP surface and scheduler stop emitting before the store closes.
package shutdown

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Shutdowner is implemented by components that participate in coordinated
// shutdown. Shutdown should respect the context's deadline and return
// ctx.Err() if it cannot complete in time.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// ShutdownFunc adapts a plain function to the Shutdowner interface.
type ShutdownFunc func(ctx context.Context) error

// Shutdown calls f.
func (f ShutdownFunc) Shutdown(ctx context.Context) error { return f(ctx) }

type component struct {
	name       string
	shutdowner Shutdowner
}

// Coordinator manages ordered shutdown of multiple components.
// Components are shut down in reverse order of registration (LIFO).
type Coordinator struct {
	components []component
	logger     *slog.Logger
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(logger *slog.Logger) *Coordinator {
	return &Coordinator{
		logger: logger.With(slog.String("component", "shutdown")),
	}
}

// Register adds a component to be shut down. Later registrations stop first,
// which lets dependents drain before their dependencies go away.
func (c *Coordinator) Register(name string, s Shutdowner) {
	c.components = append(c.components, component{name: name, shutdowner: s})
	c.logger.Debug("registered shutdown handler", slog.String("handler", name))
}

// Shutdown stops all registered components in reverse order. The context's
// deadline applies to the whole sequence. Returns the first error seen.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.logger.Info("starting coordinated shutdown",
		slog.Int("components", len(c.components)),
	)

	var firstErr error
	for i := len(c.components) - 1; i >= 0; i-- {
		comp := c.components[i]

		select {
		case <-ctx.Done():
			c.logger.Error("shutdown deadline exceeded",
				slog.String("remaining_component", comp.name),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("shutdown deadline exceeded before %s: %w", comp.name, ctx.Err())
			}
			return firstErr
		default:
		}

		start := time.Now()
		if err := comp.shutdowner.Shutdown(ctx); err != nil {
			c.logger.Error("component shutdown failed",
				slog.String("handler", comp.name),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("shutdown %s: %w", comp.name, err)
			}
			continue
		}
		c.logger.Debug("component shut down",
			slog.String("handler", comp.name),
			slog.Duration("took", time.Since(start)),
		)
	}

	c.logger.Info("coordinated shutdown complete")
	return firstErr
}
