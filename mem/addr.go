// Package mem defines the memory transaction protocol: requests, packets and
// the ports that components use to exchange them.
package mem

import (
	"fmt"
	"strings"
)

// Addr is a physical or virtual address.
type Addr uint64

// AddrRange is the half-open address range [Start, End).
type AddrRange struct {
	Start Addr
	End   Addr
}

// RangeSize returns the range of size bytes starting at start.
func RangeSize(start Addr, size uint64) AddrRange {
	return AddrRange{Start: start, End: start + Addr(size)}
}

// Size returns the number of bytes in the range.
func (r AddrRange) Size() uint64 {
	return uint64(r.End - r.Start)
}

// Valid tells if the range holds at least one byte.
func (r AddrRange) Valid() bool {
	return r.Start < r.End
}

// Contains tells if the address is in the range.
func (r AddrRange) Contains(a Addr) bool {
	return a >= r.Start && a < r.End
}

// Intersects tells if two ranges share at least one address.
func (r AddrRange) Intersects(o AddrRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// IsSubsetOf tells if every address of r is in o.
func (r AddrRange) IsSubsetOf(o AddrRange) bool {
	return r.Start >= o.Start && r.End <= o.End
}

func (r AddrRange) String() string {
	return fmt.Sprintf("[%#x:%#x)", uint64(r.Start), uint64(r.End))
}

// AddrRangeList is a list of address ranges.
type AddrRangeList []AddrRange

// Contains tells if any range of the list contains the address.
func (l AddrRangeList) Contains(a Addr) bool {
	for _, r := range l {
		if r.Contains(a) {
			return true
		}
	}

	return false
}

func (l AddrRangeList) String() string {
	strs := make([]string, len(l))
	for i, r := range l {
		strs[i] = r.String()
	}

	return strings.Join(strs, " ")
}
