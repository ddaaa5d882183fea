package anonymizer

import (
	"encoding/binary"
	"log"
	"net"

	"github.com/bwNetFlow/flowanon/anonymizer/hashstore"
	"github.com/pkg/errors"
)

// boundaries are only kept on networks that stand for one real network
func (e *Engine) preserveBoundary() bool {
	return e.opts.PreserveBroadcast && e.opts.Hierarchy != HierarchyNone
}

// allocateIPv4 creates the host entry for an IPv4 address that has not been
// seen before.
func (e *Engine) allocateIPv4(key []byte) (*hashstore.Entry, error) {
	addr := binary.BigEndian.Uint32(key)
	multicast := ClassOf(addr) == ClassM

	var sub uint32
	ref := noNetwork
	if multicast && e.opts.PreserveMulticast {
		sub = addr
	} else {
		idx, err := e.hostNetwork(addr)
		if err != nil {
			return nil, err
		}
		switch octet := addr & 0xff; {
		case octet == 0xff && e.preserveBoundary():
			sub = e.networks[idx].Base | 0xff
		case octet == 0x00 && e.preserveBoundary():
			sub = e.networks[idx].Base
		default:
			idx, err = e.writable(idx)
			if err != nil {
				return nil, err
			}
			n := &e.networks[idx]
			sub = n.Base + n.NextHost
			n.NextHost++
		}
		ref = idx
	}

	entry, err := e.hosts.Insert(KindIPv4Host, key)
	if err != nil {
		return nil, err
	}
	entry.Ref = ref
	entry.Sub = make([]byte, 4)
	binary.BigEndian.PutUint32(entry.Sub, sub)

	if multicast {
		e.stats.Multicast++
	} else {
		e.stats.Hosts++
	}
	if e.opts.Verbose {
		log.Printf("[info] Anonymizer: host %s maps to %s", net.IP(key), net.IP(entry.Sub))
	}
	return entry, nil
}

// allocateIPv6 creates the host entry for an IPv6 address. IPv6 addresses
// are not drawn from the class pools, they are mapped by prefix preserving
// CryptoPAn.
func (e *Engine) allocateIPv6(key []byte) (*hashstore.Entry, error) {
	sub := e.cryptopan.Anonymize(net.IP(key)).To16()
	if sub == nil {
		return nil, errors.Errorf("anonymizing %s failed", net.IP(key))
	}
	entry, err := e.hosts.Insert(KindIPv6Host, key)
	if err != nil {
		return nil, err
	}
	entry.Sub = []byte(sub)
	e.stats.IPv6Hosts++
	return entry, nil
}

// addHostTranslation installs a static host override.
func (e *Engine) addHostTranslation(t Translation) error {
	orig, err := e.resolveIPv4(t.From)
	if err != nil {
		return err
	}
	anon, err := e.resolveIPv4(t.To)
	if err != nil {
		return err
	}
	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, orig)
	entry, err := e.hosts.Insert(KindIPv4Host, key)
	if err != nil {
		return errors.Wrapf(err, "specify_host_translation: address %s already allocated", t.From)
	}
	entry.Sub = make([]byte, 4)
	binary.BigEndian.PutUint32(entry.Sub, anon)
	e.reserve(anon, "specify_host_translation "+t.From)
	return nil
}

// reserve keeps the pools from handing out the /8 of an override target.
func (e *Engine) reserve(anon uint32, source string) {
	if e.pools.reserve(uint8(anon >> 24)) {
		log.Printf("[warning] Anonymizer: %s targets %s, network %s/8 is no longer drawn from the pools", source, uint32ToIP(anon), uint32ToIP(anon&prefixMask(8)))
	}
}
