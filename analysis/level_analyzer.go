package analysis

import (
	"github.com/sarchlab/membus/sim"
)

// LevelAnalyzer records the time-weighted average of a level, such as the
// length of the retry list of a bus. It samples the level every time the
// domain it is attached to invokes its hooks.
type LevelAnalyzer struct {
	PerfLogger

	name      string
	level     func() int
	usePeriod bool
	period    sim.Tick

	lastTime        sim.Tick
	lastLevel       int
	levelToDuration map[int]sim.Tick
}

// Func samples the level.
func (a *LevelAnalyzer) Func(ctx sim.HookCtx) {
	now := ctx.Now

	if a.usePeriod && now >= periodEndTime(a.lastTime, a.period) {
		a.summarize(now)
		a.resetPeriod(now)
	}

	a.levelToDuration[a.lastLevel] += now - a.lastTime
	a.lastLevel = a.level()
	a.lastTime = now
}

func (a *LevelAnalyzer) summarize(now sim.Tick) {
	if !a.usePeriod {
		a.summarizePeriod(now, 0, now)
		return
	}

	start := periodStartTime(a.lastTime, a.period)
	end := start + a.period

	for end <= now {
		a.summarizePeriod(now, start, end)

		a.levelToDuration = make(map[int]sim.Tick)
		a.lastTime = end
		start = end
		end = start + a.period
	}
}

func (a *LevelAnalyzer) finish(now sim.Tick) {
	a.summarize(now)

	if !a.usePeriod {
		return
	}

	start := periodStartTime(a.lastTime, a.period)
	if now > start {
		a.summarizePeriod(now, start, now)
	}
}

func (a *LevelAnalyzer) summarizePeriod(now, start, end sim.Tick) {
	sumLevel := 0.0
	sumDuration := 0.0

	for level, duration := range a.levelToDuration {
		sumLevel += float64(level) * float64(duration)
		sumDuration += float64(duration)
	}

	summarizeEnd := min(end, now)
	if summarizeEnd > a.lastTime {
		remaining := summarizeEnd - a.lastTime
		sumLevel += float64(a.lastLevel) * float64(remaining)
		sumDuration += float64(remaining)
	}

	if sumDuration == 0 {
		return
	}

	avgLevel := sumLevel / sumDuration
	if avgLevel == 0 {
		return
	}

	a.PerfLogger.AddDataEntry(Entry{
		Start:     int64(start),
		End:       int64(summarizeEnd),
		Where:     a.name,
		What:      "Level",
		EntryType: "Occupancy",
		Value:     avgLevel,
	})
}

func (a *LevelAnalyzer) resetPeriod(now sim.Tick) {
	a.levelToDuration = make(map[int]sim.Tick)
	a.lastTime = periodStartTime(now, a.period)
}
