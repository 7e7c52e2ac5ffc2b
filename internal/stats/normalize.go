package stats

// RawStat mirrors the agent wire payload leniently: every section is
// optional and numeric leaves are decoded as float64 so malformed or
// partial payloads survive unmarshalling and can be repaired here instead
// of failing the poll.
type RawStat struct {
	CPU *RawCPU `json:"cpu"`
	Mem *RawMem `json:"mem"`
	Net *RawNet `json:"net"`
}

type RawCPU struct {
	Multi  float64   `json:"multi"`
	Single []float64 `json:"single"`
}

type RawMem struct {
	Virtual *RawMemInfo `json:"virtual"`
	Swap    *RawMemInfo `json:"swap"`
}

type RawMemInfo struct {
	Used        float64 `json:"used"`
	Total       float64 `json:"total"`
	UsedPercent float64 `json:"usedPercent"`
}

type RawNet struct {
	Delta   *RawNetIO               `json:"delta"`
	Total   *RawNetIO               `json:"total"`
	Devices map[string]RawNetDevice `json:"devices"`
}

type RawNetIO struct {
	In  float64 `json:"in"`
	Out float64 `json:"out"`
}

type RawNetDevice struct {
	Delta *RawNetIO `json:"delta"`
	Total *RawNetIO `json:"total"`
}

// Normalize transforms a raw agent payload into a CanonicalStat. Missing
// sections become zeroed structures, negative values are clamped to zero,
// and a zero memory total is coerced to one so percentage math never
// divides by zero. When device names a per-NIC breakdown present in the
// payload, that device's counters replace the agent's aggregate; this is
// how multi-NIC hosts bill a single interface.
func Normalize(raw *RawStat, device string) *CanonicalStat {
	cs := &CanonicalStat{}
	if raw == nil {
		raw = &RawStat{}
	}

	if raw.CPU != nil {
		cs.CPU.Multi = clamp(raw.CPU.Multi)
		for _, v := range raw.CPU.Single {
			cs.CPU.Single = append(cs.CPU.Single, clamp(v))
		}
	}
	if len(cs.CPU.Single) == 0 {
		cs.CPU.Single = []float64{0}
	}

	var virtual, swap *RawMemInfo
	if raw.Mem != nil {
		virtual = raw.Mem.Virtual
		swap = raw.Mem.Swap
	}
	cs.Mem.Virtual = normalizeMem(virtual)
	cs.Mem.Swap = normalizeMem(swap)

	delta, total := pickNet(raw.Net, device)
	cs.Net.Delta = normalizeNetIO(delta)
	cs.Net.Total = normalizeNetIO(total)

	return cs
}

// pickNet selects the billed counters: the named device's breakdown when
// available, the aggregate otherwise.
func pickNet(net *RawNet, device string) (delta, total *RawNetIO) {
	if net == nil {
		return nil, nil
	}
	if device != "" {
		if dev, ok := net.Devices[device]; ok {
			return dev.Delta, dev.Total
		}
	}
	return net.Delta, net.Total
}

func normalizeMem(m *RawMemInfo) MemInfo {
	if m == nil {
		return MemInfo{Total: 1}
	}
	out := MemInfo{
		Used:  uint64(clamp(m.Used)),
		Total: uint64(clamp(m.Total)),
	}
	if out.Total == 0 {
		out.Total = 1
	}
	out.UsedPercent = clamp(m.UsedPercent)
	if out.UsedPercent == 0 && out.Used > 0 {
		out.UsedPercent = float64(out.Used) / float64(out.Total) * 100
	}
	return out
}

func normalizeNetIO(n *RawNetIO) NetIO {
	if n == nil {
		return NetIO{}
	}
	return NetIO{
		In:  uint64(clamp(n.In)),
		Out: uint64(clamp(n.Out)),
	}
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
