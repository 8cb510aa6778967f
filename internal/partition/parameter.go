package partition

import (
	"bytes"
	"encoding/binary"

	"github.com/muurk/rkflash/internal/flasherr"
)

// Parameter block location on the flash
const (
	// ParameterLBA is the first sector of the parameter block
	ParameterLBA = 0
	// ParameterSectors is the number of sectors read to load the table
	ParameterSectors = 4
	// ParameterSize is the parameter block size in bytes
	ParameterSize = ParameterSectors * 512
)

var parameterMagic = []byte("PARM")

// EncodeParameter wraps parameter text into a parameter image
//
// Image layout:
//
//	[0-3]     "PARM"  Magic
//	[4-7]     length  Text length (little-endian uint32)
//	[8-8+L]   text    Parameter text
//	[8+L-12+L] crc    Rockchip CRC32 of the text (little-endian uint32)
func EncodeParameter(text []byte) ([]byte, error) {
	size := len(text) + 12
	if size > ParameterSize {
		return nil, flasherr.Newf(flasherr.ErrTypeImageTooLarge, "encode parameter",
			"parameter image is %d bytes, the parameter block holds %d", size, ParameterSize)
	}

	img := make([]byte, size)
	copy(img[0:4], parameterMagic)
	binary.LittleEndian.PutUint32(img[4:8], uint32(len(text)))
	copy(img[8:], text)
	binary.LittleEndian.PutUint32(img[8+len(text):], ChecksumRK(text))
	return img, nil
}

// DecodeParameter validates a parameter image and returns its text. Trailing
// bytes after the checksum (sector padding) are ignored.
func DecodeParameter(img []byte) ([]byte, error) {
	if len(img) < 12 || !bytes.Equal(img[0:4], parameterMagic) {
		return nil, flasherr.New(flasherr.ErrTypeInvalidPartitionTable, "decode parameter",
			"missing PARM header")
	}

	n := binary.LittleEndian.Uint32(img[4:8])
	if uint64(n)+12 > uint64(len(img)) {
		return nil, flasherr.Newf(flasherr.ErrTypeInvalidPartitionTable, "decode parameter",
			"text length %d exceeds image size %d", n, len(img))
	}

	text := img[8 : 8+n]
	want := binary.LittleEndian.Uint32(img[8+n : 12+n])
	if got := ChecksumRK(text); got != want {
		return nil, flasherr.Newf(flasherr.ErrTypeInvalidPartitionTable, "decode parameter",
			"checksum 0x%08x does not match stored 0x%08x", got, want)
	}

	out := make([]byte, len(text))
	copy(out, text)
	return out, nil
}

// IsParameterImage reports whether raw starts with the parameter magic
func IsParameterImage(raw []byte) bool {
	return bytes.HasPrefix(raw, parameterMagic)
}
