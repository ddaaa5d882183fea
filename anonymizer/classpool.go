package anonymizer

import (
	"log"

	"github.com/pkg/errors"
)

// Class is the address class of an IPv4 address, it selects the pool its
// anonymized network is drawn from.
type Class int

const (
	ClassA Class = iota
	ClassB
	ClassC
	ClassM // multicast
	classLegacy
)

func (c Class) String() string {
	return [...]string{"A", "B", "C", "M", "legacy"}[c]
}

// ClassOf applies the classful address predicates. Class E addresses are
// treated as class C.
func ClassOf(addr uint32) Class {
	switch {
	case addr&0x80000000 == 0:
		return ClassA
	case addr&0xc0000000 == 0x80000000:
		return ClassB
	case addr&0xe0000000 == 0xc0000000:
		return ClassC
	case addr&0xf0000000 == 0xe0000000:
		return ClassM
	}
	return ClassC
}

// first octets handed out as anonymized networks
var (
	classAOctets = []uint8{
		1, 2, 5, 10, 23, 27, 31, 36, 37, 39,
		41, 42, 58, 59, 60, 69, 70, 71, 72, 73,
		74, 75, 76, 77, 78, 79, 82, 83, 84, 85,
		86, 87, 88, 89, 90, 91, 92, 93, 94, 95,
		96, 97, 98, 99,
	}
	classBOctets = []uint8{
		100, 101, 102, 103, 104, 105, 106, 107, 108, 109,
		110, 111, 112, 113, 114, 115, 116, 117, 118, 119,
		120, 121, 122, 123, 124, 125, 126, 127,
	}
	classCOctets = []uint8{
		197, 220, 221, 222, 223, 240, 241, 242, 243, 244,
		245, 246, 247, 248, 249, 250, 251, 252, 253, 254,
		255,
	}
	classMOctets = []uint8{
		224, 225, 226, 227, 228, 229, 230, 231, 232, 233,
		234, 235, 236, 237, 238, 239,
	}
	legacyOctets = func() []uint8 {
		octets := append([]uint8{}, classAOctets...)
		octets = append(octets, classBOctets...)
		octets = append(octets, 197)
		for i := 220; i <= 255; i++ {
			octets = append(octets, uint8(i))
		}
		return octets
	}()
)

type classPool struct {
	octets []uint8
	cursor int
}

// classPools holds one cursor per class. Each octet is handed out once.
type classPools [classLegacy + 1]classPool

func newClassPools() classPools {
	return classPools{
		ClassA:      {octets: classAOctets},
		ClassB:      {octets: classBOctets},
		ClassC:      {octets: classCOctets},
		ClassM:      {octets: classMOctets},
		classLegacy: {octets: legacyOctets},
	}
}

// advance returns the class to fall over to once c is exhausted.
func advance(c Class) (Class, error) {
	switch c {
	case ClassA:
		return ClassB, nil
	case ClassB:
		return ClassC, nil
	case ClassM:
		return c, errors.Wrap(ErrPoolExhausted, "no multicast addresses left")
	}
	return c, errors.Wrapf(ErrPoolExhausted, "no addresses left in class %s", c)
}

// draw takes the next unused octet for class c, falling over from A to B
// to C.
func (p *classPools) draw(c Class) (uint8, Class, error) {
	for {
		pool := &p[c]
		if pool.cursor < len(pool.octets) {
			octet := pool.octets[pool.cursor]
			pool.cursor++
			return octet, c, nil
		}
		next, err := advance(c)
		if err != nil {
			return 0, c, err
		}
		log.Printf("[warning] Anonymizer: class %s pool exhausted, falling over to class %s", c, next)
		c = next
	}
}

// reserve takes octet out of every pool that has not handed it out yet and
// reports whether any pool held it. The shared octet tables stay untouched.
func (p *classPools) reserve(octet uint8) bool {
	var found bool
	for c := range p {
		pool := &p[c]
		for i := pool.cursor; i < len(pool.octets); i++ {
			if pool.octets[i] == octet {
				octets := make([]uint8, 0, len(pool.octets)-1)
				octets = append(octets, pool.octets[:i]...)
				pool.octets = append(octets, pool.octets[i+1:]...)
				found = true
				break
			}
		}
	}
	return found
}

// remaining returns the number of unused octets of class c.
func (p *classPools) remaining(c Class) int {
	return len(p[c].octets) - p[c].cursor
}
