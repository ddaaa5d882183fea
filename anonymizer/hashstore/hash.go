package hashstore

import "encoding/binary"

// Hasher computes the checksum a key is bucketed by.
type Hasher interface {
	Sum(key []byte) uint32
}

// Width is the accumulator width of a Checksum in bytes.
type Width int

const (
	Width8  Width = 1
	Width16 Width = 2
	Width32 Width = 4
)

// WidthFor picks the accumulator width for a table of the given size, so
// that small tables sum bytes and large tables sum 32 bit words.
func WidthFor(size int) Width {
	switch {
	case size <= 0x100:
		return Width8
	case size <= 0x10000:
		return Width16
	default:
		return Width32
	}
}

// Checksum is the additive hash used by legacy anonymization tables. For
// the wider accumulators the key is copied to offset Width-1 of a zeroed
// buffer and len(key)/Width+2 little endian words are summed, which keeps
// bucket placement identical to datasets produced by older tooling.
type Checksum struct {
	Width Width
}

func (c Checksum) Sum(key []byte) uint32 {
	switch c.Width {
	case Width16:
		nitems := len(key)/2 + 2
		buf := make([]byte, nitems*2)
		copy(buf[1:], key)
		var hash uint16
		for i := 0; i < nitems; i++ {
			hash += binary.LittleEndian.Uint16(buf[i*2:])
		}
		return uint32(hash)
	case Width32:
		nitems := len(key)/4 + 2
		buf := make([]byte, nitems*4)
		copy(buf[3:], key)
		var hash uint32
		for i := 0; i < nitems; i++ {
			hash += binary.LittleEndian.Uint32(buf[i*4:])
		}
		return hash
	default:
		var hash uint8
		for _, b := range key {
			hash += b
		}
		return uint32(hash)
	}
}
