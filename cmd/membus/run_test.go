package main

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/membus/config"
	"github.com/sarchlab/membus/mem/trafficgen"
	"github.com/sarchlab/membus/sim"
	"github.com/sarchlab/membus/sim/checkpoint"
)

const system = `
bus:
  name: bus0
  clock: 1
memories:
  - name: dram
    size: 0x2000
    latency: 10
generators:
  - name: cpu0
    ranges: [{start: 0x0, size: 0x1000}]
    requests: 20
    interval: 2
  - name: cpu1
    ranges: [{start: 0x1000, size: 0x1000}]
    requests: 20
    interval: 2
`

var _ = Describe("Run", func() {
	var (
		dir  string
		path string
		out  *bytes.Buffer
	)

	load := func() *config.System {
		s, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())

		return s
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		path = filepath.Join(dir, "system.yaml")
		Expect(os.WriteFile(path, []byte(system), 0o600)).To(Succeed())
		out = new(bytes.Buffer)
	})

	It("should override the description with the options", func() {
		s := load()

		err := applyOptions(s, runOptions{
			mode:   "functional",
			record: filepath.Join(dir, "trace"),
			limit:  500,
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(s.Generators[1].Mode).To(Equal("functional"))
		Expect(s.Recorder.Kind).To(Equal(config.RecorderSQLite))
		Expect(s.Limit).To(Equal(sim.Tick(500)))
		Expect(s.Monitor.Enabled).To(BeFalse())
	})

	It("should keep the limit of the description when not given", func() {
		s := load()
		s.Limit = 42

		Expect(applyOptions(s, runOptions{limit: -1})).To(Succeed())
		Expect(s.Limit).To(Equal(sim.Tick(42)))
	})

	It("should reject an unknown mode", func() {
		err := applyOptions(load(), runOptions{mode: "warp", limit: -1})

		Expect(err).To(MatchError(trafficgen.ErrUnknownMode))
	})

	It("should need a server to record into ClickHouse", func() {
		err := applyOptions(load(), runOptions{record: "clickhouse", limit: -1})

		Expect(err).To(MatchError(config.ErrInvalid))
	})

	It("should need an output for the analysis", func() {
		err := applyOptions(load(), runOptions{analyze: "recorder", limit: -1})

		Expect(err).To(MatchError(config.ErrInvalid))
	})

	It("should write the analysis into a CSV file", func() {
		name := filepath.Join(dir, "perf")

		err := runSystem(out, load(), runOptions{
			limit:   -1,
			analyze: name,
			period:  100,
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = os.Stat(name + ".csv")
		Expect(err).NotTo(HaveOccurred())
	})

	It("should simulate and print the statistics", func() {
		Expect(runSystem(out, load(), runOptions{limit: -1})).To(Succeed())

		Expect(out.String()).To(ContainSubstring(sim.CauseQueueEmpty))
		Expect(out.String()).To(ContainSubstring("cpu0"))
		Expect(out.String()).To(ContainSubstring("cpu1"))
		Expect(out.String()).To(ContainSubstring("bus bus0:"))
	})

	It("should save a checkpoint", func() {
		cpPath := filepath.Join(dir, "cp.yaml")

		err := runSystem(out, load(), runOptions{
			mode:       "atomic",
			limit:      -1,
			checkpoint: cpPath,
		})
		Expect(err).NotTo(HaveOccurred())

		f, err := os.Open(cpPath)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()

		cp, err := checkpoint.NewYAMLCodec().Decode(f)
		Expect(err).NotTo(HaveOccurred())
		Expect(cp.Sections()).To(ContainElements("bus0", "dram", "simulation"))
	})

	It("should continue from a checkpoint", func() {
		cpPath := filepath.Join(dir, "cp.yaml")

		err := runSystem(out, load(), runOptions{
			limit:      15,
			checkpoint: cpPath,
		})
		Expect(err).NotTo(HaveOccurred())

		out.Reset()
		err = runSystem(out, load(), runOptions{
			limit:   -1,
			restore: cpPath,
		})
		Expect(err).NotTo(HaveOccurred())

		Expect(out.String()).To(ContainSubstring(sim.CauseQueueEmpty))
		Expect(out.String()).To(MatchRegexp(`cpu0\s+\S+\s+20\s+20\s`))
		Expect(out.String()).To(MatchRegexp(`cpu1\s+\S+\s+20\s+20\s`))
	})

	It("should need a limit after the restored tick", func() {
		cpPath := filepath.Join(dir, "cp.yaml")

		err := runSystem(out, load(), runOptions{
			limit:      15,
			checkpoint: cpPath,
		})
		Expect(err).NotTo(HaveOccurred())

		err = runSystem(out, load(), runOptions{
			limit:   5,
			restore: cpPath,
		})
		Expect(err).To(MatchError(ContainSubstring("not after the restored tick")))
	})
})

var _ = Describe("Validate", func() {
	It("should summarize a valid description", func() {
		path := filepath.Join(GinkgoT().TempDir(), "system.yaml")
		Expect(os.WriteFile(path, []byte(system), 0o600)).To(Succeed())

		out := new(bytes.Buffer)
		rootCmd.SetOut(out)
		rootCmd.SetArgs([]string{"validate", "--config", path})
		DeferCleanup(func() {
			rootCmd.SetOut(nil)
			rootCmd.SetArgs(nil)
			configPath = ""
		})

		Expect(rootCmd.Execute()).To(Succeed())
		Expect(out.String()).
			To(ContainSubstring("1 memories, 2 generators on bus bus0"))
	})

	It("should fail without a description", func() {
		configPath = ""

		_, err := loadSystem()

		Expect(err).To(MatchError(errNoConfig))
	})
})
