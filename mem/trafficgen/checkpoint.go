package trafficgen

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/sim/checkpoint"
)

func counters(s *Stats) map[string]*uint64 {
	return map[string]*uint64{
		"issued":       &s.Issued,
		"completed":    &s.Completed,
		"reads":        &s.Reads,
		"writes":       &s.Writes,
		"refusals":     &s.Refusals,
		"retries":      &s.Retries,
		"mismatches":   &s.Mismatches,
		"badAddresses": &s.BadAddresses,
	}
}

// Serialize saves the counters and the bytes that the generator wrote. The
// generator must be drained.
func (g *TrafficGen) Serialize(cp *checkpoint.Checkpoint, section string) {
	if g.pending != nil || len(g.inflight) > 0 {
		logrus.Panicf("%s: saving with accesses in flight", g.Name())
	}

	for key, counter := range counters(&g.stats) {
		cp.Set(section, key, strconv.FormatUint(*counter, 10))
	}

	cp.SetTick(section, "totalLatency", g.stats.TotalLatency)

	addrs := make([]int, 0, len(g.shadow))
	for a := range g.shadow {
		addrs = append(addrs, int(a))
	}

	sort.Ints(addrs)

	data := make([]byte, len(addrs))
	for i, a := range addrs {
		data[i] = g.shadow[mem.Addr(a)]
	}

	cp.SetInts(section, "shadowAddrs", addrs)
	cp.Set(section, "shadowData", hex.EncodeToString(data))
}

// Unserialize restores the counters and the bytes that the generator wrote,
// so that it continues with the accesses that were not issued and checks
// reads against what was written before.
func (g *TrafficGen) Unserialize(
	cp *checkpoint.Checkpoint,
	section string,
) error {
	stats := Stats{}

	for key, counter := range counters(&stats) {
		str, err := cp.Get(section, key)
		if err != nil {
			return err
		}

		*counter, err = strconv.ParseUint(str, 10, 64)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", section, key, err)
		}
	}

	totalLatency, err := cp.GetTick(section, "totalLatency")
	if err != nil {
		return err
	}

	stats.TotalLatency = totalLatency

	addrs, err := cp.GetInts(section, "shadowAddrs")
	if err != nil {
		return err
	}

	str, err := cp.Get(section, "shadowData")
	if err != nil {
		return err
	}

	data, err := hex.DecodeString(str)
	if err != nil {
		return fmt.Errorf("%s.shadowData: %w", section, err)
	}

	if len(data) != len(addrs) {
		return fmt.Errorf("%s: %d shadow bytes for %d addresses",
			section, len(data), len(addrs))
	}

	shadow := make(map[mem.Addr]byte, len(addrs))
	for i, a := range addrs {
		shadow[mem.Addr(a)] = data[i]
	}

	g.stats = stats
	g.shadow = shadow

	return nil
}

var _ checkpoint.Serializable = (*TrafficGen)(nil)
