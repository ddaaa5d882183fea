// Package anonymizer implements the mapping engine that replaces network
// identifiers in flow records by consistent, structure preserving
// substitutes. One Engine keeps every mapping of a run: the same input is
// always mapped to the same output and distinct inputs never share one.
package anonymizer

import (
	"encoding/binary"
	"log"
	"sync"

	cryptopan "github.com/Yawning/cryptopan"
	"github.com/bwNetFlow/flowanon/anonymizer/hashstore"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Kind is the type of an identifier.
type Kind = hashstore.Kind

const (
	KindMac      Kind = 0x01
	KindIPv4Host Kind = 0x10
	KindIPv6Host Kind = 0x11
	KindAsNumber Kind = 0x20

	kindNetwork Kind = 0x30
	kindVendor  Kind = 0x31
)

var kindLength = map[Kind]int{
	KindMac:      6,
	KindIPv4Host: 4,
	KindIPv6Host: 16,
	KindAsNumber: 4,
}

// Stats counts the distinct identifiers anonymized so far.
type Stats struct {
	Macs         int
	MacMulticast int
	Hosts        int
	Multicast    int
	IPv6Hosts    int
	AsNumbers    int
	Networks     int
}

// Engine owns all mapping tables of a run. It is safe for concurrent use,
// all calls are serialized by one mutex.
type Engine struct {
	mu sync.Mutex

	opts      Options
	resolver  Resolver
	offsets   Offsets
	ports     *PortTable
	protos    *ProtoTable
	cryptopan *cryptopan.Cryptopan

	hosts   *hashstore.Store // macs, hosts and AS numbers
	nets    *hashstore.Store // real networks
	vendors *hashstore.Store

	networks []NetworkEntry
	pools    classPools
	poolNets [classLegacy + 1]int

	etherHost   uint32
	etherVendor uint32

	stats Stats
}

// New creates an Engine, resolving through a caching DNS resolver.
func New(opts Options) (*Engine, error) {
	return NewWithResolver(opts, newResolver())
}

// NewWithResolver creates an Engine. All random values of the run are
// drawn here, so two engines with the same numeric seed agree.
func NewWithResolver(opts Options, resolver Resolver) (*Engine, error) {
	rng, err := newRand(opts.Seed)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		opts:        opts,
		resolver:    resolver,
		hosts:       hashstore.New(opts.HashSize),
		nets:        hashstore.New(opts.HashSize),
		vendors:     hashstore.New(opts.HashSize),
		pools:       newClassPools(),
		protos:      newProtoTable(),
		etherHost:   etherHostStart,
		etherVendor: 1,
	}
	for i := range e.poolNets {
		e.poolNets[i] = noNetwork
	}
	e.offsets = newOffsets(&opts, rng)
	e.ports = newPortTable(opts.PortFloor(), opts.PortMethod, rng)

	key := opts.IPv6Key
	if key == nil {
		key = make([]byte, cryptopan.Size)
		rng.Read(key)
	}
	if e.cryptopan, err = cryptopan.New(key); err != nil {
		return nil, errors.Wrap(err, "ipv6_key")
	}

	for _, t := range opts.HostTranslations {
		if err := e.addHostTranslation(t); err != nil {
			return nil, err
		}
	}
	for _, t := range opts.NetTranslations {
		if err := e.addNetworkTranslation(t); err != nil {
			return nil, err
		}
	}
	for _, t := range opts.AsnTranslations {
		if err := e.addAsnTranslation(t); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Anonymize returns the substitute of an identifier, allocating one when
// it is seen for the first time. The returned slice is owned by the caller.
func (e *Engine) Anonymize(kind Kind, b []byte) ([]byte, error) {
	length, ok := kindLength[kind]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownKind, "%#x", kind)
	}
	if len(b) != length {
		return nil, errors.Wrapf(ErrLength, "kind %#x needs %d bytes, got %d", kind, length, len(b))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entry := e.hosts.Find(kind, b)
	if entry == nil {
		var err error
		switch kind {
		case KindMac:
			entry, err = e.allocateMAC(b)
		case KindIPv4Host:
			entry, err = e.allocateIPv4(b)
		case KindIPv6Host:
			entry, err = e.allocateIPv6(b)
		case KindAsNumber:
			entry, err = e.allocateASN(b)
		}
		if err != nil {
			return nil, err
		}
	}
	return append([]byte(nil), entry.Sub...), nil
}

// AnonymizeIP anonymizes a 4 or 16 byte address. IPv4 mapped IPv6
// addresses are treated as IPv4 and returned in their 16 byte form.
func (e *Engine) AnonymizeIP(addr []byte) ([]byte, error) {
	switch len(addr) {
	case 4:
		return e.Anonymize(KindIPv4Host, addr)
	case 16:
		if v4 := ipv4Mapped(addr); v4 != nil {
			sub, err := e.Anonymize(KindIPv4Host, v4)
			if err != nil {
				return nil, err
			}
			return append(append([]byte(nil), addr[:12]...), sub...), nil
		}
		return e.Anonymize(KindIPv6Host, addr)
	}
	return nil, errors.Wrapf(ErrLength, "address of %d bytes", len(addr))
}

func ipv4Mapped(addr []byte) []byte {
	for _, b := range addr[:10] {
		if b != 0 {
			return nil
		}
	}
	if addr[10] != 0xff || addr[11] != 0xff {
		return nil
	}
	return addr[12:]
}

// AnonymizeMAC anonymizes a MAC address held in the lower 48 bits of mac.
func (e *Engine) AnonymizeMAC(mac uint64) (uint64, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, mac)
	sub, err := e.Anonymize(KindMac, buf[2:])
	if err != nil {
		return 0, err
	}
	copy(buf[2:], sub)
	return binary.BigEndian.Uint64(buf), nil
}

// AnonymizeASN anonymizes an AS number.
func (e *Engine) AnonymizeASN(asn uint32) (uint32, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, asn)
	sub, err := e.Anonymize(KindAsNumber, buf)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(sub), nil
}

// Port returns the anonymized port number.
func (e *Engine) Port(port uint16) uint16 {
	return e.ports.Map(port)
}

// Proto returns the anonymized IP protocol number.
func (e *Engine) Proto(proto uint8) uint8 {
	return e.protos.Map(proto)
}

// Ports returns the port table of the run.
func (e *Engine) Ports() *PortTable {
	return e.ports
}

// Offsets returns the offsets drawn for the run.
func (e *Engine) Offsets() Offsets {
	return e.offsets
}

// Options returns the options the Engine was created with.
func (e *Engine) Options() Options {
	return e.opts
}

// Stats returns the current counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// LogStats writes the counters to the log.
func (e *Engine) LogStats(prefix string) {
	s := e.Stats()
	log.Printf("[info] %sanonymized %s hosts, %s multicast addresses, %s IPv6 hosts, %s macs (%s multicast), %s AS numbers in %s networks",
		prefix,
		humanize.Comma(int64(s.Hosts)),
		humanize.Comma(int64(s.Multicast)),
		humanize.Comma(int64(s.IPv6Hosts)),
		humanize.Comma(int64(s.Macs)),
		humanize.Comma(int64(s.MacMulticast)),
		humanize.Comma(int64(s.AsNumbers)),
		humanize.Comma(int64(s.Networks)))
}
