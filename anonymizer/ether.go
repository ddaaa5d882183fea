package anonymizer

import (
	"bytes"
	"log"
	"net"

	"github.com/bwNetFlow/flowanon/anonymizer/hashstore"
	"github.com/google/gopacket/layers"
)

const (
	etherHostStart = 2
	etherHostStep  = 2
	etherIDLimit   = 0xffffff
	groupBit       = 0x01
)

// OUI of IPv4 multicast MAC addresses, always kept.
var ipv4MulticastOUI = []byte{0x01, 0x00, 0x5e}

// vendorFor returns the synthetic OUI standing in for a real one. Ids whose
// first byte has the group bit set are skipped, as that bit is copied from
// the real address.
func (e *Engine) vendorFor(oui []byte) ([]byte, error) {
	if entry := e.vendors.Find(kindVendor, oui); entry != nil {
		return entry.Sub, nil
	}
	for e.etherVendor&(groupBit<<16) != 0 {
		e.etherVendor += 1 << 16
	}
	if e.etherVendor > etherIDLimit {
		return nil, ErrVendorExhausted
	}
	entry, err := e.vendors.Insert(kindVendor, oui)
	if err != nil {
		return nil, err
	}
	entry.Sub = []byte{byte(e.etherVendor >> 16), byte(e.etherVendor >> 8), byte(e.etherVendor)}
	e.etherVendor++
	return entry.Sub, nil
}

// allocateMAC creates the entry for a MAC address that has not been seen
// before. The host half comes from one counter shared by all vendors, so
// substitutes are unique even when vendors are kept.
func (e *Engine) allocateMAC(key []byte) (*hashstore.Entry, error) {
	sub := make([]byte, 6)
	if bytes.Equal(key, layers.EthernetBroadcast) {
		copy(sub, key)
	} else {
		if e.opts.PreserveVendor || bytes.Equal(key[:3], ipv4MulticastOUI) {
			copy(sub, key[:3])
		} else {
			vendor, err := e.vendorFor(key[:3])
			if err != nil {
				return nil, err
			}
			copy(sub, vendor)
			sub[0] = sub[0]&^groupBit | key[0]&groupBit
		}
		if e.etherHost > etherIDLimit {
			return nil, ErrHostExhausted
		}
		sub[3], sub[4], sub[5] = byte(e.etherHost>>16), byte(e.etherHost>>8), byte(e.etherHost)
		e.etherHost += etherHostStep
	}

	entry, err := e.hosts.Insert(KindMac, key)
	if err != nil {
		return nil, err
	}
	entry.Sub = sub
	if key[0]&groupBit != 0 {
		e.stats.MacMulticast++
	} else {
		e.stats.Macs++
	}
	if e.opts.Verbose {
		log.Printf("[info] Anonymizer: mac %s maps to %s", net.HardwareAddr(key), net.HardwareAddr(sub))
	}
	return entry, nil
}
