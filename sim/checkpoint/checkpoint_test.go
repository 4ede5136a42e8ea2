package checkpoint_test

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/membus/sim"
	"github.com/sarchlab/membus/sim/checkpoint"
)

type counter struct {
	next    sim.Tick
	pending []int
	busy    bool
}

func (c *counter) Serialize(cp *checkpoint.Checkpoint, section string) {
	cp.SetTick(section, "next", c.next)
	cp.SetInts(section, "pending", c.pending)
	cp.SetBool(section, "busy", c.busy)
}

func (c *counter) Unserialize(cp *checkpoint.Checkpoint, section string) error {
	var err error

	if c.next, err = cp.GetTick(section, "next"); err != nil {
		return err
	}

	if c.pending, err = cp.GetInts(section, "pending"); err != nil {
		return err
	}

	c.busy, err = cp.GetBool(section, "busy")

	return err
}

var _ = Describe("Checkpoint", func() {
	It("should restore an object through the YAML codec", func() {
		var obj checkpoint.Serializable = &counter{
			next: 1234, pending: []int{3, -3, 7}, busy: true,
		}
		cp := checkpoint.New()
		obj.Serialize(cp, "system.bus")

		buf := new(bytes.Buffer)
		Expect(checkpoint.NewYAMLCodec().Encode(cp, buf)).To(Succeed())
		restored, err := checkpoint.NewYAMLCodec().Decode(buf)
		Expect(err).NotTo(HaveOccurred())

		got := &counter{}
		Expect(got.Unserialize(restored, "system.bus")).To(Succeed())
		Expect(got).To(Equal(obj))
		Expect(restored.Sections()).To(Equal([]string{"system.bus"}))
	})

	It("should keep empty lists empty", func() {
		cp := checkpoint.New()
		cp.SetInts("s", "list", nil)

		values, err := cp.GetInts("s", "list")

		Expect(err).NotTo(HaveOccurred())
		Expect(values).To(BeEmpty())
	})

	It("should report missing keys", func() {
		cp := checkpoint.New()
		cp.SetBool("s", "a", true)

		_, err := cp.GetTick("s", "b")
		Expect(err).To(MatchError(checkpoint.ErrMissingKey))

		_, err = cp.GetBool("other", "a")
		Expect(err).To(MatchError(checkpoint.ErrMissingKey))
	})

	It("should reject malformed values", func() {
		cp := checkpoint.New()
		cp.Set("s", "t", "soon")

		_, err := cp.GetTick("s", "t")

		Expect(err).To(HaveOccurred())
	})

	It("should reject malformed documents", func() {
		_, err := checkpoint.NewYAMLCodec().Decode(
			strings.NewReader("- not\n- a mapping\n"))

		Expect(err).To(HaveOccurred())
	})
})
