package physmem

import (
	"errors"
	"sort"
)

// ErrOutOfRange is returned when an access falls outside of the storage.
var ErrOutOfRange = errors.New("accessing beyond the storage capacity")

// A Storage keeps the bytes of a memory.
//
// The storage manages the bytes in units, similar to pages. A unit that is
// never written is not allocated and reads as zeros.
type Storage struct {
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage with the given capacity in bytes.
func NewStorage(capacity uint64) *Storage {
	return &Storage{
		unitSize: 4096,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

// Capacity returns the number of bytes in the storage.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

// UnitSize returns the allocation granularity.
func (s *Storage) UnitSize() uint64 {
	return s.unitSize
}

func (s *Storage) mustFit(offset, length uint64) error {
	if offset >= s.capacity || length > s.capacity-offset {
		return ErrOutOfRange
	}

	return nil
}

func (s *Storage) parseAddress(offset uint64) (base, inUnit uint64) {
	inUnit = offset % s.unitSize
	base = offset - inUnit

	return
}

func (s *Storage) createOrGetUnit(base uint64) []byte {
	unit, ok := s.data[base]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[base] = unit
	}

	return unit
}

// Read copies len(buf) bytes starting at offset into buf.
func (s *Storage) Read(offset uint64, buf []byte) error {
	if err := s.mustFit(offset, uint64(len(buf))); err != nil {
		return err
	}

	done := uint64(0)
	for done < uint64(len(buf)) {
		base, inUnit := s.parseAddress(offset + done)
		n := min(s.unitSize-inUnit, uint64(len(buf))-done)

		unit, ok := s.data[base]
		if ok {
			copy(buf[done:done+n], unit[inUnit:inUnit+n])
		} else {
			clear(buf[done : done+n])
		}

		done += n
	}

	return nil
}

// Write copies data into the storage starting at offset.
func (s *Storage) Write(offset uint64, data []byte) error {
	if err := s.mustFit(offset, uint64(len(data))); err != nil {
		return err
	}

	done := uint64(0)
	for done < uint64(len(data)) {
		base, inUnit := s.parseAddress(offset + done)
		n := min(s.unitSize-inUnit, uint64(len(data))-done)

		unit := s.createOrGetUnit(base)
		copy(unit[inUnit:inUnit+n], data[done:done+n])

		done += n
	}

	return nil
}

// Units returns the offsets of the allocated units in ascending order.
func (s *Storage) Units() []uint64 {
	bases := make([]uint64, 0, len(s.data))
	for base := range s.data {
		bases = append(bases, base)
	}

	sort.Slice(bases, func(i, j int) bool { return bases[i] < bases[j] })

	return bases
}

// Reset drops all the units.
func (s *Storage) Reset() {
	s.data = make(map[uint64][]byte)
}
