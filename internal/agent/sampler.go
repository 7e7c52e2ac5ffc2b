// Package agent implements the node side of the stat protocol: a sampler
// that reads CPU/memory/network figures from the host once per second, and
// the HTTP endpoint the monitoring server polls.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	gopsnet "github.com/shirou/gopsutil/v4/net"

	"github.com/QAQ5555/dstatus/internal/stats"
)

// Payload is the stat document served to the monitoring server. Delta
// fields hold bytes transferred during the last sample interval; the
// Devices map carries per-NIC breakdowns so the server can bill a single
// interface on multi-NIC hosts.
type Payload struct {
	CPU stats.CPUStat `json:"cpu"`
	Mem stats.MemStat `json:"mem"`
	Net NetPayload    `json:"net"`
}

// NetPayload is the network section of the payload.
type NetPayload struct {
	Delta   stats.NetIO              `json:"delta"`
	Total   stats.NetIO              `json:"total"`
	Devices map[string]stats.NetStat `json:"devices,omitempty"`
}

// Sampler keeps a continuously refreshed stat payload. It tracks previous
// network counters per interface so each sample carries interval deltas.
type Sampler struct {
	logger *slog.Logger

	mu      sync.RWMutex
	current Payload
	ready   bool

	prevTotals map[string]stats.NetIO
}

// NewSampler creates a sampler. Call Run to start it.
func NewSampler(logger *slog.Logger) *Sampler {
	return &Sampler{
		logger:     logger.With(slog.String("component", "sampler")),
		prevTotals: make(map[string]stats.NetIO),
	}
}

// Run samples once per second until the context is cancelled.
func (s *Sampler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	s.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

// Snapshot returns the latest payload and whether one exists yet.
func (s *Sampler) Snapshot() (Payload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.ready
}

// sample refreshes the payload. Individual metric failures are logged and
// leave that section zeroed; the poll protocol tolerates partial payloads.
func (s *Sampler) sample(ctx context.Context) {
	var p Payload

	// Per-call CPU percentages measure usage since the previous call,
	// which matches the 1s sample cadence.
	if multi, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		s.logger.Warn("cpu sample failed", slog.String("error", err.Error()))
	} else if len(multi) > 0 {
		p.CPU.Multi = multi[0] / 100
	}
	if single, err := cpu.PercentWithContext(ctx, 0, true); err == nil {
		for _, v := range single {
			p.CPU.Single = append(p.CPU.Single, v/100)
		}
	}
	if len(p.CPU.Single) == 0 {
		p.CPU.Single = []float64{0}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		s.logger.Warn("memory sample failed", slog.String("error", err.Error()))
		p.Mem.Virtual = stats.MemInfo{Total: 1}
	} else {
		p.Mem.Virtual = stats.MemInfo{Used: vm.Used, Total: vm.Total, UsedPercent: vm.UsedPercent}
	}
	if sw, err := mem.SwapMemoryWithContext(ctx); err != nil {
		p.Mem.Swap = stats.MemInfo{Total: 1}
	} else {
		p.Mem.Swap = stats.MemInfo{Used: sw.Used, Total: max(sw.Total, 1), UsedPercent: sw.UsedPercent}
	}

	p.Net = s.sampleNet(ctx)

	s.mu.Lock()
	s.current = p
	s.ready = true
	s.mu.Unlock()
}

// sampleNet reads per-interface counters, computes interval deltas against
// the previous sample, and aggregates everything but loopback.
func (s *Sampler) sampleNet(ctx context.Context) NetPayload {
	counters, err := gopsnet.IOCountersWithContext(ctx, true)
	if err != nil {
		s.logger.Warn("network sample failed", slog.String("error", err.Error()))
		return NetPayload{}
	}

	out := NetPayload{Devices: make(map[string]stats.NetStat, len(counters))}
	for _, nic := range counters {
		total := stats.NetIO{In: nic.BytesRecv, Out: nic.BytesSent}
		delta := counterDelta(total, s.prevTotals[nic.Name])
		s.prevTotals[nic.Name] = total

		out.Devices[nic.Name] = stats.NetStat{Delta: delta, Total: total}
		if nic.Name == "lo" {
			continue
		}
		out.Total.In += total.In
		out.Total.Out += total.Out
		out.Delta.In += delta.In
		out.Delta.Out += delta.Out
	}
	return out
}

// counterDelta handles counter resets the same way the server-side
// accumulator does: a regressed counter restarts the delta from the new
// value.
func counterDelta(cur, prev stats.NetIO) stats.NetIO {
	d := stats.NetIO{}
	if cur.In >= prev.In {
		d.In = cur.In - prev.In
	} else {
		d.In = cur.In
	}
	if cur.Out >= prev.Out {
		d.Out = cur.Out - prev.Out
	} else {
		d.Out = cur.Out
	}
	return d
}
