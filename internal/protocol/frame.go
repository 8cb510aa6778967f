package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/muurk/rkflash/internal/flasherr"
)

// Frame geometry
const (
	// CommandSize is the size of a Command Block Wrapper
	CommandSize = 31
	// StatusSize is the size of a Command Status Wrapper
	StatusSize = 13
	// SectorSize is the addressing unit of every LBA command
	SectorSize = 512
	// FlashInfoSize is the data phase length of OpReadFlashInfo
	FlashInfoSize = 512
	// ChipInfoSize is the data phase length of OpReadChipInfo
	ChipInfoSize = 16
)

// Flags byte values
const (
	FlagDataIn  = 0x80
	FlagDataOut = 0x00
)

var (
	commandSignature = [4]byte{'U', 'S', 'B', 'C'}
	statusSignature  = [4]byte{'U', 'S', 'B', 'S'}
)

// Opcode identifies a bootloader command
type Opcode byte

// Bootloader opcodes
const (
	OpTestUnitReady Opcode = 0x00
	OpReadLBA       Opcode = 0x14
	OpWriteLBA      Opcode = 0x15
	OpReadFlashInfo Opcode = 0x1a
	OpReadChipInfo  Opcode = 0x1b
	OpReset         Opcode = 0xff
)

// String returns a human-readable opcode name
func (o Opcode) String() string {
	switch o {
	case OpTestUnitReady:
		return "test-unit-ready"
	case OpReadLBA:
		return "read-lba"
	case OpWriteLBA:
		return "write-lba"
	case OpReadFlashInfo:
		return "read-flash-info"
	case OpReadChipInfo:
		return "read-chip-info"
	case OpReset:
		return "reset"
	default:
		return fmt.Sprintf("opcode(0x%02x)", byte(o))
	}
}

// blockLength returns the command block length the bootloader expects for o
func (o Opcode) blockLength() byte {
	if o == OpReadLBA || o == OpWriteLBA {
		return 0x0a
	}
	return 0x06
}

// Command is a Command Block Wrapper
//
// Wire layout (31 bytes):
//
//	[0-3]   "USBC"     Signature
//	[4-7]   tag        Request tag (little-endian uint32)
//	[8-11]  0          Data transfer length (unused by the bootloader)
//	[12]    flags      0x80, or 0x00 for reset
//	[13]    0          LUN
//	[14]    cb length  0x06 or 0x0a
//	[15]    opcode
//	[16]    0          Subcode
//	[17-20] lba        Start sector (big-endian uint32)
//	[21]    0          Reserved
//	[22-23] count      Sector count (big-endian uint16)
//	[24-30] 0          Reserved
type Command struct {
	Tag    uint32
	Flags  byte
	Opcode Opcode
	LBA    uint32
	Count  uint16
}

// Marshal encodes the command as a 31-byte wrapper
func (c Command) Marshal() []byte {
	frame := make([]byte, CommandSize)
	copy(frame[0:4], commandSignature[:])
	binary.LittleEndian.PutUint32(frame[4:8], c.Tag)
	frame[12] = c.Flags
	frame[14] = c.Opcode.blockLength()
	frame[15] = byte(c.Opcode)
	binary.BigEndian.PutUint32(frame[17:21], c.LBA)
	binary.BigEndian.PutUint16(frame[22:24], c.Count)
	return frame
}

// DataLength returns the size of the data phase that follows the command:
// bytes read back for reads, bytes sent for writes, zero otherwise.
func (c Command) DataLength() int {
	switch c.Opcode {
	case OpReadLBA, OpWriteLBA:
		return int(c.Count) * SectorSize
	case OpReadFlashInfo:
		return FlashInfoSize
	case OpReadChipInfo:
		return ChipInfoSize
	default:
		return 0
	}
}

// ExpectsStatus reports whether the device answers the command with a
// status wrapper. Reset drops off the bus instead.
func (c Command) ExpectsStatus() bool {
	return c.Opcode != OpReset
}

// String returns a human-readable representation of the command
func (c Command) String() string {
	switch c.Opcode {
	case OpReadLBA, OpWriteLBA:
		return fmt.Sprintf("%s tag=%d lba=0x%08x count=%d", c.Opcode, c.Tag, c.LBA, c.Count)
	default:
		return fmt.Sprintf("%s tag=%d", c.Opcode, c.Tag)
	}
}

// DecodeCommand parses a 31-byte Command Block Wrapper
func DecodeCommand(data []byte) (Command, error) {
	if len(data) != CommandSize {
		return Command{}, flasherr.Newf(flasherr.ErrTypeMalformedFrame, "decode command",
			"command is %d bytes, want %d", len(data), CommandSize)
	}
	if [4]byte(data[0:4]) != commandSignature {
		return Command{}, flasherr.Newf(flasherr.ErrTypeMalformedFrame, "decode command",
			"bad signature %q", data[0:4])
	}

	return Command{
		Tag:    binary.LittleEndian.Uint32(data[4:8]),
		Flags:  data[12],
		Opcode: Opcode(data[15]),
		LBA:    binary.BigEndian.Uint32(data[17:21]),
		Count:  binary.BigEndian.Uint16(data[22:24]),
	}, nil
}

// Status is a Command Status Wrapper
//
// Wire layout (13 bytes):
//
//	[0-3]  "USBS"   Signature
//	[4-7]  tag      Echo of the command tag (little-endian uint32)
//	[8-11] residue  Bytes not transferred (little-endian uint32)
//	[12]   status   0 on success
type Status struct {
	Tag     uint32
	Residue uint32
	Status  byte
}

// Marshal encodes the status as a 13-byte wrapper
func (s Status) Marshal() []byte {
	frame := make([]byte, StatusSize)
	copy(frame[0:4], statusSignature[:])
	binary.LittleEndian.PutUint32(frame[4:8], s.Tag)
	binary.LittleEndian.PutUint32(frame[8:12], s.Residue)
	frame[12] = s.Status
	return frame
}

// Err returns ErrTypeCommandFailed when the device reported a failure
func (s Status) Err() error {
	if s.Status == 0 {
		return nil
	}
	return flasherr.Newf(flasherr.ErrTypeCommandFailed, "status",
		"device returned status 0x%02x (tag %d, residue %d)", s.Status, s.Tag, s.Residue)
}

// DecodeStatus parses a 13-byte Command Status Wrapper. Any other length or
// signature is ErrTypeMalformedFrame.
func DecodeStatus(data []byte) (Status, error) {
	if len(data) != StatusSize {
		return Status{}, flasherr.Newf(flasherr.ErrTypeMalformedFrame, "decode status",
			"status is %d bytes, want %d", len(data), StatusSize)
	}
	if [4]byte(data[0:4]) != statusSignature {
		return Status{}, flasherr.Newf(flasherr.ErrTypeMalformedFrame, "decode status",
			"bad signature %q", data[0:4])
	}

	return Status{
		Tag:     binary.LittleEndian.Uint32(data[4:8]),
		Residue: binary.LittleEndian.Uint32(data[8:12]),
		Status:  data[12],
	}, nil
}
