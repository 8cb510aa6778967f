package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/muurk/rkflash/internal/flasherr"
)

// FlashInfo is the geometry block returned by OpReadFlashInfo
//
// Layout (first 11 bytes of the 512-byte data phase):
//
//	[0-3] flash size in sectors (little-endian uint32)
//	[4-5] block size (little-endian uint16)
//	[6]   page size
//	[7]   ECC bits
//	[8]   access time
//	[9]   manufacturer id
//	[10]  chip select mask
type FlashInfo struct {
	Sectors        uint32
	BlockSize      uint16
	PageSize       uint8
	ECCBits        uint8
	AccessTime     uint8
	ManufacturerID uint8
	ChipSelect     uint8
}

var manufacturers = []string{
	"SAMSUNG", "TOSHIBA", "HYNIX", "INFINEON", "MICRON", "RENESAS", "ST", "INTEL",
}

// ParseFlashInfo decodes the flash info data phase
func ParseFlashInfo(data []byte) (FlashInfo, error) {
	if len(data) < 11 {
		return FlashInfo{}, flasherr.Newf(flasherr.ErrTypeShortTransfer, "parse flash info",
			"flash info is %d bytes, want at least 11", len(data))
	}
	return FlashInfo{
		Sectors:        binary.LittleEndian.Uint32(data[0:4]),
		BlockSize:      binary.LittleEndian.Uint16(data[4:6]),
		PageSize:       data[6],
		ECCBits:        data[7],
		AccessTime:     data[8],
		ManufacturerID: data[9],
		ChipSelect:     data[10],
	}, nil
}

// Bytes returns the flash capacity in bytes
func (f FlashInfo) Bytes() int64 {
	return int64(f.Sectors) * SectorSize
}

// Manufacturer returns the NAND vendor name, or "UNKNOWN"
func (f FlashInfo) Manufacturer() string {
	if int(f.ManufacturerID) < len(manufacturers) {
		return manufacturers[f.ManufacturerID]
	}
	return "UNKNOWN"
}

// String returns a human-readable representation of the flash info
func (f FlashInfo) String() string {
	return fmt.Sprintf("%s flash, %.2f GiB (%d sectors), block %d, page %d, ecc %d bits",
		f.Manufacturer(), float64(f.Bytes())/(1<<30), f.Sectors, f.BlockSize, f.PageSize, f.ECCBits)
}

// Marshal encodes the flash info as a 512-byte data phase
func (f FlashInfo) Marshal() []byte {
	data := make([]byte, FlashInfoSize)
	binary.LittleEndian.PutUint32(data[0:4], f.Sectors)
	binary.LittleEndian.PutUint16(data[4:6], f.BlockSize)
	data[6] = f.PageSize
	data[7] = f.ECCBits
	data[8] = f.AccessTime
	data[9] = f.ManufacturerID
	data[10] = f.ChipSelect
	return data
}

// CheckTransfer verifies that a read data phase for count sectors delivered
// exactly count*512 bytes.
func CheckTransfer(count int, data []byte) error {
	want := count * SectorSize
	if len(data) != want {
		return flasherr.Newf(flasherr.ErrTypeShortTransfer, "read lba",
			"received %d bytes, want %d", len(data), want)
	}
	return nil
}

// CheckStatus decodes a status wrapper and matches it against the command
// it answers.
func CheckStatus(cmd Command, data []byte) (Status, error) {
	st, err := DecodeStatus(data)
	if err != nil {
		return st, err
	}
	if st.Tag != cmd.Tag {
		return st, flasherr.Newf(flasherr.ErrTypeMalformedFrame, "decode status",
			"status tag %d does not match command tag %d", st.Tag, cmd.Tag)
	}
	return st, st.Err()
}
