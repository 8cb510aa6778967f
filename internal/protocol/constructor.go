package protocol

import (
	"sync/atomic"

	"github.com/muurk/rkflash/internal/flasherr"
)

const (
	// DefaultChunkSectors is the sector count of one LBA transfer (16 KiB)
	DefaultChunkSectors = 32
	// MaxChunkSectors is the largest sector count the bootloader accepts per command
	MaxChunkSectors = 128
)

// TagGenerator hands out request tags. Tags count up from 0 and wrap after
// 0xff, matching the single tag byte older bootloaders echo back.
type TagGenerator struct {
	next atomic.Uint32
}

// Next returns the tag for the next request (thread-safe)
func (g *TagGenerator) Next() uint32 {
	return (g.next.Add(1) - 1) & 0xff
}

// NewTestUnitReady builds the first half of the handshake
func NewTestUnitReady(tag uint32) Command {
	return Command{Tag: tag, Flags: FlagDataIn, Opcode: OpTestUnitReady}
}

// NewReadFlashInfo builds a flash geometry query
func NewReadFlashInfo(tag uint32) Command {
	return Command{Tag: tag, Flags: FlagDataIn, Opcode: OpReadFlashInfo}
}

// NewReadChipInfo builds a chip identification query
func NewReadChipInfo(tag uint32) Command {
	return Command{Tag: tag, Flags: FlagDataIn, Opcode: OpReadChipInfo}
}

// NewReset builds the reboot command. The bootloader resets without
// answering it.
func NewReset(tag uint32) Command {
	return Command{Tag: tag, Flags: FlagDataOut, Opcode: OpReset}
}

// NewReadLBA builds a sector read of count sectors starting at lba
func NewReadLBA(tag, lba uint32, count int) (Command, error) {
	if err := checkCount("read lba", count); err != nil {
		return Command{}, err
	}
	return Command{Tag: tag, Flags: FlagDataIn, Opcode: OpReadLBA, LBA: lba, Count: uint16(count)}, nil
}

// NewWriteLBA builds a sector write for payload starting at lba. The
// payload must be a whole number of sectors.
func NewWriteLBA(tag, lba uint32, payload []byte) (Command, error) {
	if len(payload) == 0 || len(payload)%SectorSize != 0 {
		return Command{}, flasherr.Newf(flasherr.ErrTypeInvalidPayloadSize, "write lba",
			"payload is %d bytes, want a non-zero multiple of %d", len(payload), SectorSize)
	}
	count := len(payload) / SectorSize
	if err := checkCount("write lba", count); err != nil {
		return Command{}, err
	}
	return Command{Tag: tag, Flags: FlagDataIn, Opcode: OpWriteLBA, LBA: lba, Count: uint16(count)}, nil
}

func checkCount(op string, count int) error {
	if count < 1 || count > MaxChunkSectors {
		return flasherr.Newf(flasherr.ErrTypeInvalidPayloadSize, op,
			"sector count %d outside 1..%d", count, MaxChunkSectors)
	}
	return nil
}
