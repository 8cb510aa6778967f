package session

import "github.com/muurk/rkflash/internal/protocol"

// Chunk is one LBA transfer of a larger range
type Chunk struct {
	Index int
	LBA   uint32
	Count uint32
}

// Bytes returns the chunk size in bytes
func (c Chunk) Bytes() int {
	return int(c.Count) * protocol.SectorSize
}

// Split cuts count sectors starting at lba into chunks of at most size
// sectors. The chunks are contiguous and their counts sum to count.
// size <= 0 selects protocol.DefaultChunkSectors.
func Split(lba, count uint32, size int) []Chunk {
	if size <= 0 {
		size = protocol.DefaultChunkSectors
	}
	n := (uint64(count) + uint64(size) - 1) / uint64(size)
	chunks := make([]Chunk, 0, n)
	for done := uint32(0); done < count; {
		c := uint32(size)
		if rem := count - done; rem < c {
			c = rem
		}
		chunks = append(chunks, Chunk{Index: len(chunks), LBA: lba + done, Count: c})
		done += c
	}
	return chunks
}
