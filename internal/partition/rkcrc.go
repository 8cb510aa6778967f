package partition

import "hash"

// rkPoly is the generator of the Rockchip CRC32 variant. Unlike hash/crc32
// the register shifts MSB-first, starts at zero and is not inverted.
const rkPoly = 0x04c10db7

var rkTable = makeRKTable()

func makeRKTable() *[256]uint32 {
	var t [256]uint32
	for i := range t {
		c := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if c&0x80000000 != 0 {
				c = c<<1 ^ rkPoly
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return &t
}

// digest implements hash.Hash32 for the Rockchip CRC32
type digest struct {
	crc uint32
}

// NewRKCRC32 returns a hash.Hash32 computing the Rockchip CRC32
func NewRKCRC32() hash.Hash32 {
	return &digest{}
}

func (d *digest) Size() int      { return 4 }
func (d *digest) BlockSize() int { return 1 }
func (d *digest) Reset()         { d.crc = 0 }
func (d *digest) Sum32() uint32  { return d.crc }

func (d *digest) Write(p []byte) (int, error) {
	d.crc = updateRK(d.crc, p)
	return len(p), nil
}

func (d *digest) Sum(in []byte) []byte {
	s := d.crc
	return append(in, byte(s>>24), byte(s>>16), byte(s>>8), byte(s))
}

// ChecksumRK returns the Rockchip CRC32 of data
func ChecksumRK(data []byte) uint32 {
	return updateRK(0, data)
}

func updateRK(crc uint32, p []byte) uint32 {
	for _, b := range p {
		crc = crc<<8 ^ rkTable[byte(crc>>24)^b]
	}
	return crc
}
