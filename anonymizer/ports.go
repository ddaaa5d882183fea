package anonymizer

import "math/rand"

const maxPort = 65535

// PortTable maps real to anonymized port numbers. Ports below the floor are
// preserved, the range from the floor up to 65535 is permuted.
type PortTable struct {
	ports  [maxPort + 1]uint16
	floor  int
	offset uint32
}

func newPortTable(floor int, method PortMethod, rng *rand.Rand) *PortTable {
	t := &PortTable{floor: floor}
	for p := range t.ports {
		t.ports[p] = uint16(p)
	}
	if floor > maxPort {
		return t
	}
	if method.Random {
		t.shuffle(rng)
		return t
	}
	t.offset = method.Offset.Value
	if method.Offset.Random {
		t.offset = uint32(rng.Intn(maxPort))
	}
	t.rotate()
	return t
}

// rotate maps p to floor + (p - floor + offset) mod the size of the range.
func (t *PortTable) rotate() {
	n := uint32(maxPort + 1 - t.floor)
	for p := t.floor; p <= maxPort; p++ {
		t.ports[p] = uint16(uint32(t.floor) + (uint32(p-t.floor)+t.offset)%n)
	}
}

// shuffle builds a random permutation of the mutable range. Every port
// draws a slot from the pool of unused targets and probes up or down from
// it, depending on the parity of the draw, until it hits an unused one.
// After more than five reversals at the pool edges the unused targets are
// compacted so probing stays short.
func (t *PortTable) shuffle(rng *rand.Rand) {
	var pool [maxPort + 1]uint16 // 0 marks a used target, port 0 is never mutable
	for p := t.floor; p <= maxPort; p++ {
		pool[p] = uint16(p)
	}
	start, shifts := t.floor, 0
	for i := t.floor; i <= maxPort; i++ {
		if shifts > 5 {
			compact(&pool, start, i)
			start, shifts = i, 0
		}
		draw := i + rng.Intn(maxPort-i+1)
		up := draw&1 == 0
		ind := draw
		for pool[ind] == 0 {
			if up {
				if ind < maxPort {
					ind++
				} else {
					up = false
					shifts++
				}
			} else {
				if ind > start {
					ind--
				} else {
					up = true
					shifts++
				}
			}
		}
		t.ports[i] = pool[ind]
		pool[ind] = 0
	}
}

// compact moves the unused targets found in pool[from:] to pool[to:].
func compact(pool *[maxPort + 1]uint16, from int, to int) {
	var free []uint16
	for x := from; x <= maxPort; x++ {
		if pool[x] != 0 {
			free = append(free, pool[x])
			pool[x] = 0
		}
	}
	copy(pool[to:], free)
}

// Map returns the anonymized port.
func (t *PortTable) Map(port uint16) uint16 {
	return t.ports[port]
}

// Floor returns the lowest anonymized port, 65536 if all are preserved.
func (t *PortTable) Floor() int {
	return t.floor
}

// Offset returns the rotation of the range, zero in random mode.
func (t *PortTable) Offset() uint32 {
	return t.offset
}

// ProtoTable maps IP protocol numbers. It is the identity, remapping
// protocols would break every consumer relying on them.
type ProtoTable [256]uint8

func newProtoTable() *ProtoTable {
	var t ProtoTable
	for i := range t {
		t[i] = uint8(i)
	}
	return &t
}

// Map returns the anonymized protocol number.
func (t *ProtoTable) Map(proto uint8) uint8 {
	return t[proto]
}
