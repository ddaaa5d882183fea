package anonymizer

import (
	"context"
	"encoding/binary"
	"log"
	"net"

	"github.com/bwNetFlow/flowanon/anonymizer/hashstore"
	"github.com/pkg/errors"
)

const (
	noNetwork       = hashstore.NoRef
	hostsPerNetwork = 254   // host indices of a /24, .0 and .255 are never handed out
	maxClassValue   = 65535 // /24s carved from one class pool network
	maxSubnets      = 255   // /16s of a /8 or /24s of a /16 in cidr mode
)

// NetworkEntry is one anonymized network. Networks with a Shift hand out
// child networks Base|NextHost<<Shift, host networks (Shift 0) hand out
// addresses Base+NextHost. Once NextHost passes Limit the network is
// exhausted and further allocations continue in its Sibling.
type NetworkEntry struct {
	Supernet int // arena index of the parent, noNetwork for top level networks
	Base     uint32
	NextHost uint32
	Limit    uint32
	Shift    uint
	Sibling  int
	Class    Class // pool refills are drawn from
}

func (n *NetworkEntry) full() bool {
	return n.NextHost > n.Limit
}

// Networks returns a copy of the network arena.
func (e *Engine) Networks() []NetworkEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]NetworkEntry(nil), e.networks...)
}

func netKey(addr uint32, bits int) []byte {
	key := make([]byte, 5)
	binary.BigEndian.PutUint32(key, addr&prefixMask(bits))
	key[4] = uint8(bits)
	return key
}

func prefixMask(bits int) uint32 {
	if bits <= 0 {
		return 0
	}
	return ^uint32(0) << (32 - bits)
}

func (e *Engine) newNetwork(n NetworkEntry) int {
	e.networks = append(e.networks, n)
	e.stats.Networks++
	return len(e.networks) - 1
}

// resolveBase resolves the literal "<octet>.0.0.0" to the base address of a
// new pool network.
func (e *Engine) resolveBase(octet uint8) (uint32, error) {
	return e.resolveIPv4(net.IPv4(octet, 0, 0, 0).String())
}

func (e *Engine) resolveIPv4(host string) (uint32, error) {
	addrs, err := e.resolver.LookupHost(context.Background(), host)
	if err != nil {
		return 0, errors.Wrapf(err, "resolving %s", host)
	}
	for _, addr := range addrs {
		if ip := net.ParseIP(addr).To4(); ip != nil {
			return binary.BigEndian.Uint32(ip), nil
		}
	}
	return 0, errors.Errorf("resolving %s: no IPv4 address", host)
}

// drawNetwork creates a top level network on the next unused octet of the
// pool of class c.
func (e *Engine) drawNetwork(c Class, shift uint, limit uint32) (int, error) {
	octet, got, err := e.pools.draw(c)
	if err != nil {
		return noNetwork, err
	}
	base, err := e.resolveBase(octet)
	if err != nil {
		return noNetwork, err
	}
	if e.opts.Verbose {
		log.Printf("[info] Anonymizer: drawing network %s/8 from class %s pool", net.IPv4(octet, 0, 0, 0), got)
	}
	return e.newNetwork(NetworkEntry{
		Supernet: noNetwork,
		Base:     base,
		NextHost: 1,
		Limit:    limit,
		Shift:    shift,
		Sibling:  noNetwork,
		Class:    got,
	}), nil
}

// writable follows the sibling chain of idx to a network with room left,
// extending the chain if the last network is exhausted.
func (e *Engine) writable(idx int) (int, error) {
	for e.networks[idx].Sibling != noNetwork {
		idx = e.networks[idx].Sibling
	}
	if !e.networks[idx].full() {
		return idx, nil
	}
	sibling, err := e.sibling(idx)
	if err != nil {
		return noNetwork, err
	}
	e.networks[idx].Sibling = sibling
	return sibling, nil
}

// sibling allocates a network shaped like the exhausted network idx. Host
// networks are replaced by a fresh top level /24 from the class pool, which
// leaves the hierarchy of that real network behind.
func (e *Engine) sibling(idx int) (int, error) {
	n := e.networks[idx]
	switch {
	case n.Shift == 0:
		child, err := e.carveFromPool(n.Class)
		if err != nil {
			return noNetwork, err
		}
		e.networks[child].Supernet = noNetwork
		return child, nil
	case n.Supernet == noNetwork:
		return e.drawNetwork(n.Class, n.Shift, n.Limit)
	default:
		return e.carve(n.Supernet)
	}
}

// carve hands out the next child network of parent.
func (e *Engine) carve(parent int) (int, error) {
	parent, err := e.writable(parent)
	if err != nil {
		return noNetwork, err
	}
	p := &e.networks[parent]
	base := p.Base | p.NextHost<<p.Shift
	p.NextHost++
	child := NetworkEntry{
		Supernet: parent,
		Base:     base,
		NextHost: 1,
		Limit:    maxSubnets,
		Shift:    p.Shift - 8,
		Sibling:  noNetwork,
		Class:    p.Class,
	}
	if child.Shift == 0 {
		child.Limit = hostsPerNetwork
	}
	return e.newNetwork(child), nil
}

// carveFromPool hands out a /24 from the current pool network of class c.
func (e *Engine) carveFromPool(c Class) (int, error) {
	if e.poolNets[c] == noNetwork {
		idx, err := e.drawNetwork(c, 8, maxClassValue)
		if err != nil {
			return noNetwork, err
		}
		e.poolNets[c] = idx
	}
	child, err := e.carve(e.poolNets[c])
	if err != nil {
		return noNetwork, err
	}
	e.poolNets[c] = e.networks[child].Supernet
	return child, nil
}

func (e *Engine) poolClass(addr uint32) Class {
	if e.opts.Hierarchy == HierarchyClass || e.opts.Hierarchy == HierarchyCIDR {
		return ClassOf(addr)
	}
	return classLegacy
}

// hostNetwork returns the anonymized network owning the real host addr. The
// returned network may be exhausted, use writable before allocating.
func (e *Engine) hostNetwork(addr uint32) (int, error) {
	if e.opts.Hierarchy == HierarchyNone {
		return e.realNetwork(0, 0)
	}
	return e.realNetwork(addr, 24)
}

// realNetwork returns the anonymized network of the real prefix addr/bits,
// allocating it on first use.
func (e *Engine) realNetwork(addr uint32, bits int) (int, error) {
	key := netKey(addr, bits)
	if entry := e.nets.Find(kindNetwork, key); entry != nil {
		return entry.Ref, nil
	}

	var idx int
	var err error
	switch {
	case e.opts.Hierarchy == HierarchyCIDR && bits == 8:
		idx, err = e.drawNetwork(ClassOf(addr), 16, maxSubnets)
	case e.opts.Hierarchy == HierarchyCIDR && bits > 8:
		var parent int
		parent, err = e.realNetwork(addr, bits-8)
		if err == nil {
			idx, err = e.carve(parent)
		}
	default:
		idx, err = e.carveFromPool(e.poolClass(addr))
	}
	if err != nil {
		return noNetwork, err
	}

	entry, err := e.nets.Insert(kindNetwork, key)
	if err != nil {
		return noNetwork, err
	}
	entry.Ref = idx
	entry.Sub = netKey(e.networks[idx].Base, bits)
	if e.opts.Verbose {
		log.Printf("[info] Anonymizer: network %s/%d maps to %s/%d", uint32ToIP(addr&prefixMask(bits)), bits, uint32ToIP(e.networks[idx].Base), bits)
	}
	return idx, nil
}

// addNetworkTranslation installs a static network override. The prefix
// length of the real network defaults to 24. Only cidr mode looks up /8 and
// /16 networks, the other modes allocate by /24 and no mode does not look up
// real networks at all.
func (e *Engine) addNetworkTranslation(t Translation) error {
	bits := 24
	from := t.From
	if _, ipnet, err := net.ParseCIDR(from); err == nil {
		bits, _ = ipnet.Mask.Size()
		from = ipnet.IP.String()
	}
	switch {
	case e.opts.Hierarchy == HierarchyNone:
		return errors.Wrapf(ErrSyntax, "specify_net_translation %s: not possible without preserve_net_address_hierarchy", t.From)
	case e.opts.Hierarchy == HierarchyCIDR && bits != 8 && bits != 16 && bits != 24:
		return errors.Wrapf(ErrSyntax, "specify_net_translation %s: prefix length must be 8, 16 or 24", t.From)
	case e.opts.Hierarchy != HierarchyCIDR && bits != 24:
		return errors.Wrapf(ErrSyntax, "specify_net_translation %s: prefix length must be 24 unless preserve_net_address_hierarchy is cidr", t.From)
	}
	orig, err := e.resolveIPv4(from)
	if err != nil {
		return err
	}
	anon, err := e.resolveIPv4(t.To)
	if err != nil {
		return err
	}
	shift := uint(24 - bits)
	limit := uint32(maxSubnets)
	if shift == 0 {
		limit = hostsPerNetwork
	}
	idx := e.newNetwork(NetworkEntry{
		Supernet: noNetwork,
		Base:     anon & prefixMask(bits),
		NextHost: 1,
		Limit:    limit,
		Shift:    shift,
		Sibling:  noNetwork,
		Class:    e.poolClass(anon),
	})
	entry, err := e.nets.Insert(kindNetwork, netKey(orig, bits))
	if err != nil {
		return errors.Wrapf(err, "specify_net_translation %s", t.From)
	}
	entry.Ref = idx
	entry.Sub = netKey(anon, bits)
	e.reserve(anon, "specify_net_translation "+t.From)
	return nil
}

func uint32ToIP(addr uint32) net.IP {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, addr)
	return ip
}
