package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Resolution", func() {
	r := DefaultResolution

	It("should give unit tick counts", func() {
		Expect(r.S()).To(Equal(Tick(1e12)))
		Expect(r.Ms()).To(Equal(Tick(1e9)))
		Expect(r.Us()).To(Equal(Tick(1e6)))
		Expect(r.Ns()).To(Equal(Tick(1000)))
		Expect(r.Ps()).To(Equal(Tick(1)))
	})

	It("should convert between ticks and seconds", func() {
		Expect(r.Seconds(r.Ms())).To(BeNumerically("~", 1e-3, 1e-15))
		Expect(r.Ticks(2e-9)).To(Equal(Tick(2000)))
	})

	It("should compute the period of a frequency", func() {
		Expect(r.Period(1 * GHz)).To(Equal(Tick(1000)))
		Expect(r.Period(3 * GHz)).To(Equal(Tick(333)))
	})

	It("should panic on invalid frequency", func() {
		Expect(func() { r.Period(0) }).To(Panic())
		Expect(func() { Resolution(1000).Period(1 * MHz) }).To(Panic())
	})
})

var _ = Describe("Clock", func() {
	c := NewClock(10)

	It("should find this edge", func() {
		Expect(c.ThisEdge(0)).To(Equal(Tick(0)))
		Expect(c.ThisEdge(10)).To(Equal(Tick(10)))
		Expect(c.ThisEdge(11)).To(Equal(Tick(20)))
	})

	It("should find the next edge", func() {
		Expect(c.NextEdge(0)).To(Equal(Tick(10)))
		Expect(c.NextEdge(10)).To(Equal(Tick(20)))
		Expect(c.NextEdge(19)).To(Equal(Tick(20)))
	})

	It("should count cycles", func() {
		Expect(c.Cycles(3)).To(Equal(Tick(30)))
		Expect(c.Cycle(35)).To(Equal(int64(3)))
		Expect(c.NCyclesLater(2, 11)).To(Equal(Tick(40)))
	})

	It("should panic on invalid period", func() {
		Expect(func() { NewClock(0) }).To(Panic())
	})
})
