package mem

import "github.com/sirupsen/logrus"

// ChunkGenerator splits an access into chunks that do not cross chunk
// boundaries. A chunk size of 0 means the access is not split.
type ChunkGenerator struct {
	curAddr   Addr
	nextAddr  Addr
	sizeLeft  int
	curSize   int
	chunkSize int
}

// NewChunkGenerator creates a generator for the access of size bytes at
// addr. The chunk size must be 0 or a power of 2.
func NewChunkGenerator(addr Addr, size int, chunkSize int) *ChunkGenerator {
	if chunkSize < 0 || chunkSize&(chunkSize-1) != 0 {
		logrus.Panicf("chunk size %d is not a power of 2", chunkSize)
	}

	g := &ChunkGenerator{
		curAddr:   addr,
		sizeLeft:  size,
		chunkSize: chunkSize,
	}

	if chunkSize == 0 {
		g.nextAddr = addr + Addr(size)
	} else {
		g.nextAddr = (addr &^ Addr(chunkSize-1)) + Addr(chunkSize)
		if g.nextAddr > addr+Addr(size) {
			g.nextAddr = addr + Addr(size)
		}
	}

	g.curSize = int(g.nextAddr - g.curAddr)

	return g
}

// Addr returns the address of the current chunk.
func (g *ChunkGenerator) Addr() Addr { return g.curAddr }

// Size returns the size of the current chunk.
func (g *ChunkGenerator) Size() int { return g.curSize }

// Done tells if all the chunks are generated.
func (g *ChunkGenerator) Done() bool { return g.sizeLeft <= 0 }

// Next moves to the next chunk. It returns false when there is no more.
func (g *ChunkGenerator) Next() bool {
	g.sizeLeft -= g.curSize
	if g.sizeLeft <= 0 {
		g.curSize = 0
		return false
	}

	g.curAddr = g.nextAddr
	g.curSize = g.sizeLeft

	if g.chunkSize > 0 && g.curSize > g.chunkSize {
		g.curSize = g.chunkSize
	}

	g.nextAddr = g.curAddr + Addr(g.curSize)

	return true
}
