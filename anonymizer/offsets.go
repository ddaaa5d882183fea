package anonymizer

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"strconv"
	"time"
)

// Offsets are drawn once per run and added to (or, for timestamps,
// subtracted from) numeric record fields.
type Offsets struct {
	TransRef uint32
	Seq      uint32
	Asn      uint32
	TimeSec  uint32
	TimeUsec uint32
	IpId     uint16
}

func newRand(seed string) (*rand.Rand, error) {
	var value int64
	switch seed {
	case "", "time":
		value = time.Now().UnixNano()
	case "crypto":
		if err := binary.Read(crand.Reader, binary.BigEndian, &value); err != nil {
			return nil, err
		}
	default:
		var err error
		if value, err = strconv.ParseInt(seed, 10, 64); err != nil {
			return nil, syntaxError("seed", seed)
		}
	}
	return rand.New(rand.NewSource(value)), nil
}

func draw(spec OffsetSpec, rng *rand.Rand, modulo int32) uint32 {
	if !spec.Random {
		return spec.Value
	}
	if modulo == 0 {
		return uint32(rng.Int31())
	}
	return uint32(rng.Int31() % modulo)
}

// newOffsets draws in a fixed order so that a numeric seed always yields
// the same offsets.
func newOffsets(o *Options, rng *rand.Rand) Offsets {
	offsets := Offsets{
		TransRef: draw(o.TransRefOffset, rng, 100000),
		Asn:      draw(o.AsnOffset, rng, 1000000),
		Seq:      draw(o.SeqOffset, rng, 1000000),
		TimeSec:  draw(o.TimeSecOffset, rng, 0),
		TimeUsec: draw(o.TimeUsecOffset, rng, 500000),
	}
	if !o.PreserveIpId {
		offsets.IpId = uint16(rng.Int31() % 0x10000)
	}
	return offsets
}

// ShiftTime moves a timestamp back by the time offsets, borrowing a second
// when the microseconds underflow.
func (o Offsets) ShiftTime(sec int64, usec int64) (int64, int64) {
	sec -= int64(o.TimeSec)
	usec -= int64(o.TimeUsec)
	for usec < 0 {
		sec--
		usec += 1000000
	}
	return sec, usec
}

// Sequence applies the sequence number offset.
func (o Offsets) Sequence(seq uint32) uint32 {
	return seq + o.Seq
}

// TransactionRef applies the transaction reference number offset.
func (o Offsets) TransactionRef(ref uint32) uint32 {
	return ref + o.TransRef
}

// IPID applies the IP identification offset, the result stays 16 bit wide.
func (o Offsets) IPID(id uint32) uint32 {
	return (id + uint32(o.IpId)) & 0xffff
}
