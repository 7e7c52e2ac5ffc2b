package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/QAQ5555/dstatus/internal/store"
)

// Notifier delivers offline/recovery notices. Implementations live in the
// notify package; the poller only needs this single call.
type Notifier interface {
	Notice(ctx context.Context, msg string)
}

// agentResponse is the wire envelope of the agent protocol.
type agentResponse struct {
	Success bool     `json:"success"`
	Data    *RawStat `json:"data"`
	Msg     string   `json:"msg"`
}

// Poller drives the per-server poll cycle: it scans the registry, launches
// one poll goroutine per active server not already in flight, and feeds
// results through the normalizer into the engine's cache.
//
// A single failed poll never marks a server offline; only when the
// consecutive-failure count exceeds the threshold does the snapshot flip to
// the offline state, firing a notice exactly once per transition. The first
// success afterwards fires a recovery notice, again exactly once.
type Poller struct {
	engine    *Engine
	client    *http.Client
	notifier  Notifier
	threshold int
	logger    *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
	fails    map[string]int

	wg sync.WaitGroup
}

// NewPoller creates a poller with the given per-request timeout and
// consecutive-failure threshold.
//
// The HTTP client is built from go-retryablehttp with in-request retries
// disabled: the 1.5s poll cadence is the retry loop, and stacking backoff
// retries inside a cycle would overlap the next one. The wrapper still
// provides its connection pooling and error normalization.
func NewPoller(engine *Engine, notifier Notifier, timeout time.Duration, threshold int, logger *slog.Logger) *Poller {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.Logger = nil
	rc.HTTPClient.Timeout = timeout
	rc.HTTPClient.Transport = &http.Transport{
		MaxIdleConns:        64,
		IdleConnTimeout:     60 * time.Second,
		MaxIdleConnsPerHost: 2,
	}

	return &Poller{
		engine:    engine,
		client:    rc.StandardClient(),
		notifier:  notifier,
		threshold: threshold,
		logger:    logger.With(slog.String("component", "poller")),
		inflight:  make(map[string]struct{}),
		fails:     make(map[string]int),
	}
}

// Cycle runs one poll pass: it launches missing polls for every active
// server and prunes cache entries for servers that are gone or disabled.
// Servers whose previous poll is still in flight are left alone, so a slow
// agent never accumulates overlapping requests.
func (p *Poller) Cycle(ctx context.Context) {
	servers, err := p.engine.Store().Servers.All()
	if err != nil {
		p.logger.Error("registry scan failed", slog.String("error", err.Error()))
		return
	}

	active := make(map[string]struct{})
	for _, server := range servers {
		if server.Status <= store.StatusDisabled {
			continue
		}
		active[server.SID] = struct{}{}
		if !p.begin(server.SID) {
			continue
		}
		p.wg.Add(1)
		go func(server *store.ServerRecord) {
			defer p.wg.Done()
			defer p.end(server.SID)
			p.update(ctx, server)
		}(server)
	}

	p.engine.Prune(active)
}

// update polls one server and applies the result to the cache.
func (p *Poller) update(ctx context.Context, server *store.ServerRecord) {
	if server.Status <= store.StatusDisabled {
		p.engine.Remove(server.SID)
		p.resetFails(server.SID)
		return
	}

	raw, ok := p.poll(ctx, server)
	if ok {
		recovered := p.engine.SetLive(server, Normalize(raw, server.Data.Device))
		p.resetFails(server.SID)
		if recovered {
			p.logger.Info("server recovered", slog.String("sid", server.SID), slog.String("name", server.Name))
			p.notify(ctx, fmt.Sprintf("#recovery %s %s", server.Name, time.Now().Format("2006-01-02 15:04:05")))
		}
		return
	}

	n := p.incrFails(server.SID)
	if n <= p.threshold {
		// Transient blip: keep showing the last known stat.
		p.logger.Debug("poll failed",
			slog.String("sid", server.SID),
			slog.Int("consecutive_failures", n),
		)
		return
	}
	if wentOffline := p.engine.MarkOffline(server); wentOffline {
		p.logger.Warn("server went offline",
			slog.String("sid", server.SID),
			slog.String("name", server.Name),
			slog.Int("consecutive_failures", n),
		)
		p.notify(ctx, fmt.Sprintf("#offline %s %s", server.Name, time.Now().Format("2006-01-02 15:04:05")))
	}
}

// poll fetches /stat from the server's agent. Any transport error, non-2xx
// status, decode failure or success=false envelope counts as a failed poll;
// errors never propagate to the caller.
func (p *Poller) poll(ctx context.Context, server *store.ServerRecord) (*RawStat, bool) {
	url := fmt.Sprintf("http://%s:%d/stat", server.Data.Host, server.Data.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		p.logger.Debug("building poll request failed", slog.String("sid", server.SID), slog.String("error", err.Error()))
		return nil, false
	}
	req.Header.Set("key", server.Data.Key)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false
	}

	var envelope agentResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, false
	}
	if !envelope.Success {
		return nil, false
	}
	return envelope.Data, true
}

func (p *Poller) notify(ctx context.Context, msg string) {
	if p.notifier != nil {
		p.notifier.Notice(ctx, msg)
	}
}

// begin marks sid as in flight; returns false when a poll is already
// outstanding for it.
func (p *Poller) begin(sid string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[sid]; busy {
		return false
	}
	p.inflight[sid] = struct{}{}
	return true
}

func (p *Poller) end(sid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, sid)
}

func (p *Poller) incrFails(sid string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fails[sid]++
	return p.fails[sid]
}

func (p *Poller) resetFails(sid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.fails, sid)
}

// Shutdown waits for in-flight polls to finish or the context to expire.
func (p *Poller) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
