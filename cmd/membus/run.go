package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/pkg/browser"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sarchlab/membus/config"
	"github.com/sarchlab/membus/mem"
	"github.com/sarchlab/membus/mem/trafficgen"
	"github.com/sarchlab/membus/monitoring"
	"github.com/sarchlab/membus/sim"
	"github.com/sarchlab/membus/sim/checkpoint"
)

type runOptions struct {
	mode        string
	record      string
	limit       int64
	monitor     bool
	monitorPort int
	openMonitor bool
	checkpoint  string
	restore     string
	analyze     string
	period      int64
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build the system given by --config and simulate it.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := loadSystem()
		if err != nil {
			return err
		}

		opts := runOpts
		if !cmd.Flags().Changed("limit") {
			opts.limit = -1
		}

		return runSystem(cmd.OutOrStdout(), s, opts)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runOpts.mode, "mode", "",
		"Access mode of all the generators (timing, atomic, functional)")
	runCmd.Flags().StringVar(&runOpts.record, "record", "",
		"Record the transfers into a SQLite file with this name, "+
			"or into the ClickHouse server of the description with clickhouse")
	runCmd.Flags().Int64Var(&runOpts.limit, "limit", 0,
		"Stop at this tick, 0 runs until no event is left")
	runCmd.Flags().BoolVar(&runOpts.monitor, "monitor", false,
		"Serve the monitor while simulating")
	runCmd.Flags().IntVar(&runOpts.monitorPort, "monitor-port", 0,
		"Port of the monitor, a random one if 0")
	runCmd.Flags().BoolVar(&runOpts.openMonitor, "open-monitor", false,
		"Open the monitor in the browser")
	runCmd.Flags().StringVar(&runOpts.checkpoint, "checkpoint", "",
		"Drain the system after the run and save it into this YAML file")
	runCmd.Flags().StringVar(&runOpts.restore, "restore", "",
		"Start from a checkpoint saved with --checkpoint by the same system")
	runCmd.Flags().StringVar(&runOpts.analyze, "analyze", "",
		"Write the traffic of every port into this CSV file, "+
			"or into the recorder with recorder")
	runCmd.Flags().Int64Var(&runOpts.period, "analysis-period", 0,
		"Report the analysis once per this many ticks, 0 reports at the end")
}

func applyOptions(s *config.System, opts runOptions) error {
	if opts.mode != "" {
		mode, err := trafficgen.ParseMode(opts.mode)
		if err != nil {
			return err
		}

		s.SetMode(mode)
	}

	switch opts.record {
	case "":
	case config.RecorderClickHouse:
		s.Recorder.Kind = config.RecorderClickHouse
	default:
		s.Recorder.Kind = config.RecorderSQLite
		s.Recorder.Path = opts.record
	}

	if opts.limit >= 0 {
		s.Limit = sim.Tick(opts.limit)
	}

	if opts.monitor || opts.openMonitor {
		s.Monitor.Enabled = true
	}

	if opts.monitorPort != 0 {
		s.Monitor.Port = opts.monitorPort
	}

	switch opts.analyze {
	case "":
	case "recorder":
		s.Analysis.Enabled = true
		s.Analysis.CSV = ""
	default:
		s.Analysis.Enabled = true
		s.Analysis.CSV = opts.analyze
	}

	if opts.period > 0 {
		s.Analysis.Period = sim.Tick(opts.period)
	}

	return s.Validate()
}

// progressHook moves a progress bar forward as the memory system takes and
// completes the accesses of a generator.
type progressHook struct {
	bar *monitoring.ProgressBar
}

func (h progressHook) Func(ctx sim.HookCtx) {
	switch ctx.Pos {
	case trafficgen.HookPosReqAccept:
		h.bar.IncrementInProgress(1)
	case trafficgen.HookPosReqComplete:
		h.bar.MoveInProgressToFinished(1)
	}
}

func runSystem(out io.Writer, s *config.System, opts runOptions) error {
	if err := applyOptions(s, opts); err != nil {
		return err
	}

	p, err := s.Build()
	if err != nil {
		return err
	}

	attachLoggers(p)

	if opts.restore != "" {
		if err := restoreCheckpoint(p, opts.restore, s.Limit); err != nil {
			_ = p.Terminate()
			return err
		}
	}

	monitor := p.Simulation.GetMonitor()
	if monitor != nil {
		bars := trackProgress(p, monitor)
		defer func() {
			for _, bar := range bars {
				monitor.CompleteProgressBar(bar)
			}
		}()

		if opts.openMonitor {
			url := fmt.Sprintf("http://localhost:%d", monitor.Port())
			if err := browser.OpenURL(url); err != nil {
				logrus.WithError(err).Warn("cannot open the monitor")
			}
		}
	}

	info, err := p.Simulation.Run(s.Limit)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"cause": info.Cause,
		"tick":  info.Tick,
	}).Info("simulation stopped")

	if opts.checkpoint != "" {
		if err := saveCheckpoint(p, opts.checkpoint); err != nil {
			return err
		}
	}

	printStats(out, s, p, info)

	return p.Terminate()
}

func attachLoggers(p *config.Platform) {
	if !logrus.IsLevelEnabled(logrus.DebugLevel) {
		return
	}

	logger := logrus.StandardLogger()

	p.Simulation.GetEventQueue().AcceptHook(sim.NewEventLogger(logger))

	portLogger := mem.NewPortLogger(logger)
	for _, port := range p.Simulation.GetPortRegistry().Ports() {
		port.AcceptHook(portLogger)
	}
}

func trackProgress(
	p *config.Platform,
	monitor *monitoring.Monitor,
) []*monitoring.ProgressBar {
	bars := make([]*monitoring.ProgressBar, 0, len(p.Generators))

	for _, g := range p.Generators {
		bar := monitor.CreateProgressBar(g.Name(),
			uint64(g.Params().NumRequests))
		g.AcceptHook(progressHook{bar: bar})
		bars = append(bars, bar)
	}

	return bars
}

func saveCheckpoint(p *config.Platform, path string) error {
	if _, err := p.Simulation.Drain(); err != nil {
		return fmt.Errorf("draining before the checkpoint: %w", err)
	}

	cp := checkpoint.New()
	p.Simulation.Serialize(cp)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating checkpoint: %w", err)
	}
	defer f.Close()

	if err := checkpoint.NewYAMLCodec().Encode(cp, f); err != nil {
		return err
	}

	logrus.WithField("path", path).Info("checkpoint saved")

	return nil
}

func restoreCheckpoint(p *config.Platform, path string, limit sim.Tick) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening checkpoint: %w", err)
	}
	defer f.Close()

	cp, err := checkpoint.NewYAMLCodec().Decode(f)
	if err != nil {
		return err
	}

	if err := p.Simulation.Unserialize(cp); err != nil {
		return fmt.Errorf("restoring %s: %w", path, err)
	}

	now := p.Simulation.GetEventQueue().Now()
	if limit > 0 && limit <= now {
		return fmt.Errorf("limit %d is not after the restored tick %d",
			limit, now)
	}

	logrus.WithFields(logrus.Fields{
		"path": path,
		"tick": now,
	}).Info("checkpoint restored")

	return nil
}

func printStats(
	out io.Writer,
	s *config.System,
	p *config.Platform,
	info sim.ExitInfo,
) {
	fmt.Fprintf(out, "stopped at tick %d (%.9fs): %s\n\n",
		info.Tick, s.Resolution.Seconds(info.Tick), info.Cause)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "generator\tmode\tissued\tcompleted\treads\twrites\t"+
		"refusals\tavg latency\tmismatches")

	for _, g := range p.Generators {
		st := g.Stats()
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%.1f\t%d\n",
			g.Name(), g.Params().Mode, st.Issued, st.Completed, st.Reads,
			st.Writes, st.Refusals, st.AvgLatency(), st.Mismatches)
	}

	w.Flush()

	bs := p.Bus.Stats()
	fmt.Fprintf(out, "\nbus %s: %d transfers, %d refusals, %d retries, "+
		"%d busy ticks, %d atomic, %d functional\n",
		p.Bus.Name(), bs.Transfers, bs.Refusals, bs.Retries, bs.BusyTicks,
		bs.AtomicAccesses, bs.FunctionalAccesses)
}
