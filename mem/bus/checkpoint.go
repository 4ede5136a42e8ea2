package bus

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/sim"
	"github.com/sarchlab/membus/sim/checkpoint"
)

// Serialize saves the occupancy and the retry list of the bus. It cannot be
// called while the bus is granting a retry.
func (b *Bus) Serialize(cp *checkpoint.Checkpoint, section string) {
	if b.inRetry {
		logrus.Panicf("%s: saving the bus in the middle of a retry", b.Name())
	}

	cp.SetTick(section, "tickNextIdle", b.tickNextIdle)

	ids := make([]int, len(b.retryList))
	for i, p := range b.retryList {
		ids[i] = int(p.id)
	}

	cp.SetInts(section, "retryList", ids)
}

// Unserialize restores the occupancy and the retry list of the bus. The
// ports must be created before.
func (b *Bus) Unserialize(cp *checkpoint.Checkpoint, section string) error {
	tickNextIdle, err := cp.GetTick(section, "tickNextIdle")
	if err != nil {
		return err
	}

	ids, err := cp.GetInts(section, "retryList")
	if err != nil {
		return err
	}

	retryList := make([]*BusPort, 0, len(ids))
	for _, id := range ids {
		p := b.lookupPort(mem.PortID(id))
		if p == nil {
			return fmt.Errorf("%s: retry list refers to unknown port %d",
				section, id)
		}

		retryList = append(retryList, p)
	}

	for _, p := range b.retryList {
		p.onRetryList = false
	}

	for _, p := range retryList {
		p.onRetryList = true
	}

	b.tickNextIdle = tickNextIdle
	b.inRetry = false
	b.retryList = retryList

	if len(b.retryList) > 0 {
		b.queue.Reschedule(b.busIdle,
			max(b.tickNextIdle, b.queue.Now()), true)
	}

	return nil
}

var _ checkpoint.Serializable = (*Bus)(nil)
var _ sim.Drainable = (*Bus)(nil)
var _ mem.MemObject = (*Bus)(nil)
