package physmem

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/sarchlab/membus/sim/checkpoint"
)

func unitKey(base uint64) string {
	return fmt.Sprintf("unit%x", base)
}

// Serialize saves the units of the storage that were written.
func (m *PhysicalMemory) Serialize(cp *checkpoint.Checkpoint, section string) {
	cp.Set(section, "size", strconv.FormatUint(m.Size(), 10))

	bases := m.storage.Units()
	offsets := make([]int, len(bases))

	for i, base := range bases {
		offsets[i] = int(base)

		buf := make([]byte, min(m.storage.UnitSize(), m.Size()-base))
		if err := m.storage.Read(base, buf); err != nil {
			panic(err)
		}

		cp.Set(section, unitKey(base), hex.EncodeToString(buf))
	}

	cp.SetInts(section, "units", offsets)
}

// Unserialize replaces the content of the storage. The memory must have the
// size that it had when it was saved.
func (m *PhysicalMemory) Unserialize(
	cp *checkpoint.Checkpoint,
	section string,
) error {
	sizeStr, err := cp.Get(section, "size")
	if err != nil {
		return err
	}

	size, err := strconv.ParseUint(sizeStr, 10, 64)
	if err != nil {
		return fmt.Errorf("%s.size: %w", section, err)
	}

	if size != m.Size() {
		return fmt.Errorf("%s: saved memory has %d bytes, expecting %d",
			section, size, m.Size())
	}

	offsets, err := cp.GetInts(section, "units")
	if err != nil {
		return err
	}

	units := make(map[uint64][]byte, len(offsets))

	for _, offset := range offsets {
		base := uint64(offset)

		str, err := cp.Get(section, unitKey(base))
		if err != nil {
			return err
		}

		data, err := hex.DecodeString(str)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", section, unitKey(base), err)
		}

		units[base] = data
	}

	m.storage.Reset()
	m.lockedAddrs = nil

	for base, data := range units {
		if err := m.storage.Write(base, data); err != nil {
			return fmt.Errorf("%s.%s: %w", section, unitKey(base), err)
		}
	}

	return nil
}

var _ checkpoint.Serializable = (*PhysicalMemory)(nil)
