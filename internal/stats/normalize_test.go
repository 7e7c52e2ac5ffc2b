package stats

import "testing"

func TestNormalize(t *testing.T) {
	t.Run("nil payload yields safe zeros", func(t *testing.T) {
		cs := Normalize(nil, "")
		if len(cs.CPU.Single) != 1 || cs.CPU.Single[0] != 0 {
			t.Errorf("unexpected cpu: %+v", cs.CPU)
		}
		if cs.Mem.Virtual.Total != 1 || cs.Mem.Swap.Total != 1 {
			t.Errorf("memory totals must never be zero: %+v", cs.Mem)
		}
		if cs.Net.Total.In != 0 || cs.Net.Delta.Out != 0 {
			t.Errorf("unexpected net: %+v", cs.Net)
		}
	})

	t.Run("negative values clamp to zero", func(t *testing.T) {
		raw := &RawStat{
			CPU: &RawCPU{Multi: -0.3, Single: []float64{-1, 0.5}},
			Net: &RawNet{Total: &RawNetIO{In: -100, Out: 200}},
		}
		cs := Normalize(raw, "")
		if cs.CPU.Multi != 0 {
			t.Errorf("multi not clamped: %v", cs.CPU.Multi)
		}
		if cs.CPU.Single[0] != 0 || cs.CPU.Single[1] != 0.5 {
			t.Errorf("single not clamped: %v", cs.CPU.Single)
		}
		if cs.Net.Total.In != 0 || cs.Net.Total.Out != 200 {
			t.Errorf("net not clamped: %+v", cs.Net.Total)
		}
	})

	t.Run("zero memory total coerced to one", func(t *testing.T) {
		raw := &RawStat{Mem: &RawMem{Virtual: &RawMemInfo{Used: 0, Total: 0}}}
		cs := Normalize(raw, "")
		if cs.Mem.Virtual.Total != 1 {
			t.Errorf("expected total 1, got %d", cs.Mem.Virtual.Total)
		}
	})

	t.Run("missing percent is derived", func(t *testing.T) {
		raw := &RawStat{Mem: &RawMem{Virtual: &RawMemInfo{Used: 50, Total: 200}}}
		cs := Normalize(raw, "")
		if cs.Mem.Virtual.UsedPercent != 25 {
			t.Errorf("expected derived 25%%, got %v", cs.Mem.Virtual.UsedPercent)
		}
	})

	t.Run("device override picks the named breakdown", func(t *testing.T) {
		raw := &RawStat{Net: &RawNet{
			Total: &RawNetIO{In: 1000, Out: 2000},
			Devices: map[string]RawNetDevice{
				"eth1": {
					Delta: &RawNetIO{In: 5, Out: 6},
					Total: &RawNetIO{In: 50, Out: 60},
				},
			},
		}}
		cs := Normalize(raw, "eth1")
		if cs.Net.Total.In != 50 || cs.Net.Delta.Out != 6 {
			t.Errorf("device counters not used: %+v", cs.Net)
		}
	})

	t.Run("unknown device falls back to aggregate", func(t *testing.T) {
		raw := &RawStat{Net: &RawNet{Total: &RawNetIO{In: 1000, Out: 2000}}}
		cs := Normalize(raw, "eth9")
		if cs.Net.Total.In != 1000 {
			t.Errorf("expected aggregate fallback: %+v", cs.Net.Total)
		}
	})
}
