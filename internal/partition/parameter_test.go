package partition

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/muurk/rkflash/internal/flasherr"
)

func TestChecksumRK(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint32
	}{
		{"empty", nil, 0},
		{"single zero byte", []byte{0x00}, 0},
		{"single one byte", []byte{0x01}, rkPoly},
	}

	for _, tt := range tests {
		if got := ChecksumRK(tt.data); got != tt.want {
			t.Errorf("%s: ChecksumRK() = 0x%08x, want 0x%08x", tt.name, got, tt.want)
		}
	}
}

func TestNewRKCRC32_MatchesChecksum(t *testing.T) {
	data := []byte(sampleParameter)

	h := NewRKCRC32()
	h.Write(data[:100])
	h.Write(data[100:])

	if h.Sum32() != ChecksumRK(data) {
		t.Errorf("streaming Sum32() = 0x%08x, one-shot = 0x%08x", h.Sum32(), ChecksumRK(data))
	}

	sum := h.Sum(nil)
	if got := binary.BigEndian.Uint32(sum); got != h.Sum32() {
		t.Errorf("Sum() = % x, want big-endian 0x%08x", sum, h.Sum32())
	}

	h.Reset()
	if h.Sum32() != 0 {
		t.Errorf("Sum32() after Reset = 0x%08x, want 0", h.Sum32())
	}
}

func TestEncodeDecodeParameter(t *testing.T) {
	text := []byte("CMDLINE:mtdparts=rk29xxnand:0x2000@0x2000(misc)\n")

	img, err := EncodeParameter(text)
	if err != nil {
		t.Fatalf("EncodeParameter() error = %v", err)
	}
	if !bytes.HasPrefix(img, []byte("PARM")) {
		t.Errorf("image does not start with PARM: % x", img[:4])
	}
	if got := binary.LittleEndian.Uint32(img[4:8]); got != uint32(len(text)) {
		t.Errorf("length field = %d, want %d", got, len(text))
	}
	if len(img) != len(text)+12 {
		t.Errorf("len(img) = %d, want %d", len(img), len(text)+12)
	}

	padded := append(img, make([]byte, 100)...)
	got, err := DecodeParameter(padded)
	if err != nil {
		t.Fatalf("DecodeParameter() error = %v", err)
	}
	if !bytes.Equal(got, text) {
		t.Errorf("DecodeParameter() = %q, want %q", got, text)
	}
}

func TestDecodeParameter_Errors(t *testing.T) {
	img, _ := EncodeParameter([]byte("CMDLINE:x\n"))

	corrupt := append([]byte{}, img...)
	corrupt[10] ^= 0xff

	truncated := append([]byte{}, img...)
	binary.LittleEndian.PutUint32(truncated[4:8], 5000)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"wrong magic", append([]byte("KRAP"), img[4:]...)},
		{"corrupt text", corrupt},
		{"length past end", truncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeParameter(tt.data)
			if !flasherr.Is(err, flasherr.ErrTypeInvalidPartitionTable) {
				t.Errorf("DecodeParameter() error = %v, want InvalidPartitionTable", err)
			}
		})
	}
}

func TestEncodeParameter_TooLarge(t *testing.T) {
	_, err := EncodeParameter(make([]byte, ParameterSize))
	if !flasherr.Is(err, flasherr.ErrTypeImageTooLarge) {
		t.Errorf("EncodeParameter() error = %v, want ImageTooLarge", err)
	}
}
