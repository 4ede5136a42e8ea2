package sim

import (
	"math"

	"github.com/sirupsen/logrus"
)

// Tick is the unit of simulated time. Tick zero is the start of the
// simulation.
type Tick int64

// MaxTick is the tick that never comes.
const MaxTick Tick = math.MaxInt64

// Resolution is the number of ticks in one simulated second.
type Resolution Tick

// DefaultResolution makes one tick equal to one picosecond.
const DefaultResolution Resolution = 1_000_000_000_000

// S returns the number of ticks in a second.
func (r Resolution) S() Tick { return Tick(r) }

// Ms returns the number of ticks in a millisecond.
func (r Resolution) Ms() Tick { return Tick(r) / 1_000 }

// Us returns the number of ticks in a microsecond.
func (r Resolution) Us() Tick { return Tick(r) / 1_000_000 }

// Ns returns the number of ticks in a nanosecond.
func (r Resolution) Ns() Tick { return Tick(r) / 1_000_000_000 }

// Ps returns the number of ticks in a picosecond. It is zero if the
// resolution is coarser than a picosecond.
func (r Resolution) Ps() Tick { return Tick(r) / 1_000_000_000_000 }

// Seconds converts a tick count to simulated seconds.
func (r Resolution) Seconds(t Tick) float64 {
	return float64(t) / float64(r)
}

// Ticks converts simulated seconds to the closest tick count.
func (r Resolution) Ticks(seconds float64) Tick {
	return Tick(math.Round(seconds * float64(r)))
}

// Period returns the number of ticks in one cycle of the given frequency.
func (r Resolution) Period(f Freq) Tick {
	if f <= 0 {
		logrus.Panicf("frequency %v must be positive", f)
	}

	p := Tick(math.Round(float64(r) / float64(f)))
	if p < 1 {
		logrus.Panicf("frequency %v is too high for resolution %d", f, r)
	}

	return p
}

// Freq defines the type of frequency
type Freq float64

// Defines the unit of frequency
const (
	Hz  Freq = 1
	KHz Freq = 1e3
	MHz Freq = 1e6
	GHz Freq = 1e9
)

// Clock describes a clock domain by its period in ticks.
type Clock struct {
	period Tick
}

// NewClock creates a clock with the given period.
func NewClock(period Tick) Clock {
	if period <= 0 {
		logrus.Panicf("clock period %d must be positive", period)
	}

	return Clock{period: period}
}

// Period returns the number of ticks per cycle.
func (c Clock) Period() Tick {
	return c.period
}

// Cycle converts a tick to the number of cycles passed since tick 0.
func (c Clock) Cycle(t Tick) int64 {
	return int64(t / c.period)
}

// Cycles returns the ticks that n cycles take.
func (c Clock) Cycles(n int) Tick {
	return Tick(n) * c.period
}

// ThisEdge returns the clock edge at or right after now.
//
//	           Input
//	           (          ]
//	|----------|----------|----------|----->
//	                      |
//	                      Output
func (c Clock) ThisEdge(now Tick) Tick {
	if now%c.period == 0 {
		return now
	}

	return (now/c.period + 1) * c.period
}

// NextEdge returns the clock edge strictly after now.
//
//	           Input
//	           [          )
//	|----------|----------|----------|----->
//	                      |
//	                      Output
func (c Clock) NextEdge(now Tick) Tick {
	return (now/c.period + 1) * c.period
}

// NCyclesLater returns the edge n cycles after the current edge.
func (c Clock) NCyclesLater(n int, now Tick) Tick {
	return c.ThisEdge(now) + c.Cycles(n)
}
