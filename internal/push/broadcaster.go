package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/QAQ5555/dstatus/internal/stats"
)

// SnapshotPublisher mirrors the snapshot map to a pub/sub transport.
// Implemented by the NATS notifier when configured.
type SnapshotPublisher interface {
	PublishSnapshot(data []byte)
}

// Broadcaster pushes the filtered snapshot map to the hub (and an optional
// pub/sub publisher) at a fixed cadence, matching the dashboard's refresh
// rate. It only serializes when someone is listening.
type Broadcaster struct {
	engine    *stats.Engine
	hub       *Hub
	publisher SnapshotPublisher
	interval  time.Duration
	logger    *slog.Logger
}

// NewBroadcaster creates a broadcaster; publisher may be nil.
func NewBroadcaster(engine *stats.Engine, hub *Hub, publisher SnapshotPublisher, interval time.Duration, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		engine:    engine,
		hub:       hub,
		publisher: publisher,
		interval:  interval,
		logger:    logger.With(slog.String("component", "broadcaster")),
	}
}

// Run ticks until the context is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *Broadcaster) tick() {
	if b.hub.ClientCount() == 0 && b.publisher == nil {
		return
	}

	// Viewers get the public view: no admin-only servers, sensitive
	// connection blobs stripped.
	views, err := b.engine.GetStatsData(false, true)
	if err != nil {
		b.logger.Error("snapshot read failed", slog.String("error", err.Error()))
		return
	}
	data, err := json.Marshal(views)
	if err != nil {
		b.logger.Error("snapshot marshal failed", slog.String("error", err.Error()))
		return
	}

	if b.hub.ClientCount() > 0 {
		b.hub.Broadcast(data)
	}
	if b.publisher != nil {
		b.publisher.PublishSnapshot(data)
	}
}
