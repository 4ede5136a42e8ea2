package analysis

import (
	"sort"

	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/sim"
)

// Kinds of traffic that a PortAnalyzer reports.
const (
	TrafficTiming     = "Timing"
	TrafficRefused    = "Refused"
	TrafficAtomic     = "Atomic"
	TrafficFunctional = "Functional"
)

type trafficKey struct {
	remote string
	what   string
}

type trafficCount struct {
	pkts  int64
	bytes int64
}

// PortAnalyzer is a hook for the amount of traffic that a Port sends. A
// refused timing packet counts as Refused and is counted again as Timing once
// it is accepted.
type PortAnalyzer struct {
	PerfLogger

	port      *mem.Port
	usePeriod bool
	period    sim.Tick

	lastTime sim.Tick
	traffic  map[trafficKey]trafficCount
}

// Func counts the packet that the port sent.
func (a *PortAnalyzer) Func(ctx sim.HookCtx) {
	pkt, ok := ctx.Item.(*mem.Packet)
	if !ok {
		return
	}

	var what string

	switch ctx.Pos {
	case mem.HookPosPortSendTiming:
		what = TrafficTiming
		if accepted, _ := ctx.Detail.(bool); !accepted {
			what = TrafficRefused
		}
	case mem.HookPosPortSendAtomic:
		what = TrafficAtomic
	case mem.HookPosPortSendFunctional:
		what = TrafficFunctional
	default:
		return
	}

	if a.usePeriod && ctx.Now >= periodEndTime(a.lastTime, a.period) {
		a.summarize(ctx.Now)
	}

	key := trafficKey{remote: a.remoteName(), what: what}
	count := a.traffic[key]
	count.pkts++
	count.bytes += int64(pkt.Size())
	a.traffic[key] = count

	a.lastTime = ctx.Now
}

func (a *PortAnalyzer) remoteName() string {
	if peer := a.port.Peer(); peer != nil {
		return peer.Name()
	}

	return ""
}

func (a *PortAnalyzer) summarize(now sim.Tick) {
	start := sim.Tick(0)
	end := now

	if a.usePeriod {
		start = periodStartTime(a.lastTime, a.period)
		end = min(start+a.period, now)
	}

	keys := make([]trafficKey, 0, len(a.traffic))
	for k := range a.traffic {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].remote != keys[j].remote {
			return keys[i].remote < keys[j].remote
		}

		return keys[i].what < keys[j].what
	})

	for _, k := range keys {
		count := a.traffic[k]
		entry := Entry{
			Start:       int64(start),
			End:         int64(end),
			Where:       a.port.Name(),
			WhereRemote: k.remote,
			What:        k.what,
			EntryType:   "Traffic",
		}

		entry.Value = float64(count.bytes)
		entry.Unit = "Byte"
		a.PerfLogger.AddDataEntry(entry)

		entry.Value = float64(count.pkts)
		entry.Unit = "Pkt"
		a.PerfLogger.AddDataEntry(entry)
	}

	a.traffic = make(map[trafficKey]trafficCount)
}

func (a *PortAnalyzer) finish(now sim.Tick) {
	a.summarize(now)
}
