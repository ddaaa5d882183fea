package anonymizer

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// literalResolver resolves address literals and a fixed set of names
// without touching the network.
type literalResolver map[string]string

func (r literalResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if addr, ok := r[host]; ok {
		return []string{addr}, nil
	}
	if net.ParseIP(host) != nil {
		return []string{host}, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Seed = "42"
	opts.AsnOffset = OffsetSpec{Value: 1000}
	opts.PortMethod = PortMethod{Offset: OffsetSpec{Value: 5000}}
	return opts
}

func newTestEngine(t testing.TB, mutate func(o *Options)) *Engine {
	opts := testOptions()
	if mutate != nil {
		mutate(&opts)
	}
	e, err := NewWithResolver(opts, literalResolver{"router.example": "192.0.2.77"})
	require.NoError(t, err)
	return e
}

func anonIPv4(t testing.TB, e *Engine, addr string) net.IP {
	sub, err := e.Anonymize(KindIPv4Host, net.ParseIP(addr).To4())
	require.NoError(t, err)
	require.Len(t, sub, 4)
	return net.IP(sub)
}

func TestEngine_ClassModeSharesNetwork(t *testing.T) {
	// Prepare
	e := newTestEngine(t, nil)

	// Execute
	a := anonIPv4(t, e, "10.0.0.5")
	b := anonIPv4(t, e, "10.0.0.6")

	// Check
	assert.Equal(t, "1.0.1.1", a.String())
	assert.Equal(t, "1.0.1.2", b.String())
	assert.Equal(t, a.Mask(net.CIDRMask(24, 32)), b.Mask(net.CIDRMask(24, 32)))
	assert.Equal(t, 2, e.Stats().Hosts)
}

func TestEngine_Deterministic(t *testing.T) {
	e := newTestEngine(t, nil)
	first := anonIPv4(t, e, "172.16.4.2")
	anonIPv4(t, e, "172.16.4.3")
	anonIPv4(t, e, "8.8.8.8")
	assert.Equal(t, first, anonIPv4(t, e, "172.16.4.2"))
	assert.Equal(t, 3, e.Stats().Hosts)
}

func TestEngine_Injective(t *testing.T) {
	for _, hierarchy := range []Hierarchy{HierarchyNone, HierarchySubnet, HierarchyClass, HierarchyCIDR} {
		t.Run(hierarchy.String(), func(t *testing.T) {
			e := newTestEngine(t, func(o *Options) { o.Hierarchy = hierarchy })
			seen := map[string]string{}
			for i := 0; i < 3000; i++ {
				// spread across classes, /16s and /24s including boundaries
				addr := make(net.IP, 4)
				binary.BigEndian.PutUint32(addr, (uint32(i)*2654435761)&0x00ffffff)
				addr[0] = []byte{10, 130, 192, 224, 250}[i%5]
				sub := anonIPv4(t, e, addr.String()).String()
				if prev, ok := seen[sub]; ok && prev != addr.String() {
					t.Fatalf("%s and %s both map to %s", prev, addr, sub)
				}
				seen[sub] = addr.String()
			}
		})
	}
}

func TestEngine_CIDRHierarchy(t *testing.T) {
	e := newTestEngine(t, func(o *Options) { o.Hierarchy = HierarchyCIDR })

	a := anonIPv4(t, e, "10.1.2.3")
	b := anonIPv4(t, e, "10.1.3.4")
	c := anonIPv4(t, e, "10.2.0.1")
	d := anonIPv4(t, e, "11.0.0.1")

	assert.Equal(t, "1.1.1.1", a.String())
	assert.Equal(t, "1.1.2.1", b.String())
	assert.Equal(t, "1.2.1.1", c.String())
	assert.Equal(t, "2.1.1.1", d.String(), "a new real /8 draws the next class A octet")

	networks := e.Networks()
	for _, n := range networks {
		if n.Shift == 0 {
			require.NotEqual(t, noNetwork, n.Supernet)
			assert.Equal(t, uint(8), networks[n.Supernet].Shift, "host networks are carved from /16s")
		}
	}
}

func TestEngine_ClassHierarchyPerNetwork(t *testing.T) {
	e := newTestEngine(t, nil)
	a := anonIPv4(t, e, "130.83.1.10")
	b := anonIPv4(t, e, "130.83.1.200")
	c := anonIPv4(t, e, "130.83.2.10")
	mask := net.CIDRMask(24, 32)
	assert.Equal(t, a.Mask(mask), b.Mask(mask))
	assert.NotEqual(t, a.Mask(mask), c.Mask(mask))
	assert.Equal(t, byte(100), a[0], "class B hosts are drawn from the class B pool")
}

func TestEngine_BoundaryPreservation(t *testing.T) {
	t.Run("enabled", func(t *testing.T) {
		e := newTestEngine(t, nil)
		bcast := anonIPv4(t, e, "10.0.0.255")
		host := anonIPv4(t, e, "10.0.0.7")
		netw := anonIPv4(t, e, "10.0.0.0")

		assert.Equal(t, "1.0.1.255", bcast.String())
		assert.Equal(t, "1.0.1.1", host.String(), "boundaries do not consume host indices")
		assert.Equal(t, "1.0.1.0", netw.String())
	})

	t.Run("disabled", func(t *testing.T) {
		e := newTestEngine(t, func(o *Options) { o.PreserveBroadcast = false })
		assert.Equal(t, "1.0.1.1", anonIPv4(t, e, "10.0.0.255").String())
		assert.Equal(t, "1.0.1.2", anonIPv4(t, e, "10.0.0.0").String())
	})

	t.Run("ignored without hierarchy", func(t *testing.T) {
		e := newTestEngine(t, func(o *Options) { o.Hierarchy = HierarchyNone })
		a := anonIPv4(t, e, "10.0.0.255")
		b := anonIPv4(t, e, "10.0.1.255")
		assert.NotEqual(t, a, b)
	})
}

func TestEngine_SiblingOnExhaustion(t *testing.T) {
	// Prepare
	e := newTestEngine(t, func(o *Options) { o.PreserveBroadcast = false })
	for i := 0; i < hostsPerNetwork; i++ {
		sub := anonIPv4(t, e, net.IPv4(192, 168, 1, byte(i)).String())
		require.Equal(t, net.IPv4(197, 0, 1, byte(i+1)).To4(), sub)
	}

	// Execute
	next := anonIPv4(t, e, "192.168.1.254")
	last := anonIPv4(t, e, "192.168.1.255")

	// Check
	assert.Equal(t, "197.0.2.1", next.String())
	assert.Equal(t, "197.0.2.2", last.String())

	networks := e.Networks()
	var host []NetworkEntry
	for _, n := range networks {
		if n.Shift == 0 {
			host = append(host, n)
		}
	}
	require.Len(t, host, 2)
	assert.NotEqual(t, noNetwork, host[0].Sibling)
	assert.Equal(t, noNetwork, host[1].Supernet, "siblings are top level networks")
}

func TestEngine_NoHierarchy(t *testing.T) {
	e := newTestEngine(t, func(o *Options) { o.Hierarchy = HierarchyNone })
	assert.Equal(t, "1.0.1.1", anonIPv4(t, e, "10.0.0.1").String())
	assert.Equal(t, "1.0.1.2", anonIPv4(t, e, "192.168.5.7").String())
	assert.Equal(t, "1.0.1.3", anonIPv4(t, e, "130.83.0.1").String())
}

func TestEngine_SubnetHierarchy(t *testing.T) {
	e := newTestEngine(t, func(o *Options) { o.Hierarchy = HierarchySubnet })
	assert.Equal(t, "1.0.1.1", anonIPv4(t, e, "192.168.1.1").String())
	assert.Equal(t, "1.0.2.1", anonIPv4(t, e, "192.168.2.1").String())
	assert.Equal(t, "1.0.3.1", anonIPv4(t, e, "10.0.0.1").String())
}

func TestEngine_Multicast(t *testing.T) {
	t.Run("drawn from the multicast pool", func(t *testing.T) {
		e := newTestEngine(t, nil)
		sub := anonIPv4(t, e, "239.1.2.3")
		assert.Equal(t, "224.0.1.1", sub.String())
		assert.Equal(t, 1, e.Stats().Multicast)
		assert.Equal(t, 0, e.Stats().Hosts)
	})

	t.Run("preserved", func(t *testing.T) {
		e := newTestEngine(t, func(o *Options) { o.PreserveMulticast = true })
		assert.Equal(t, "239.1.2.3", anonIPv4(t, e, "239.1.2.3").String())
		assert.Equal(t, 1, e.Stats().Multicast)
	})
}

func TestEngine_IPv6(t *testing.T) {
	e := newTestEngine(t, nil)
	a, err := e.AnonymizeIP(net.ParseIP("2001:db8:1:2::1"))
	require.NoError(t, err)
	b, err := e.AnonymizeIP(net.ParseIP("2001:db8:1:2::2"))
	require.NoError(t, err)
	again, err := e.AnonymizeIP(net.ParseIP("2001:db8:1:2::1"))
	require.NoError(t, err)

	require.Len(t, a, 16)
	assert.Equal(t, a, again)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, []byte(net.ParseIP("2001:db8:1:2::1")), a)
	assert.Equal(t, a[:8], b[:8], "prefixes are preserved")
	assert.Equal(t, 2, e.Stats().IPv6Hosts)

	mapped, err := e.AnonymizeIP(net.ParseIP("10.0.0.5"))
	require.NoError(t, err)
	assert.Equal(t, "1.0.1.1", net.IP(mapped).String(), "mapped IPv4 addresses use the class pools")
}

func TestEngine_Ether(t *testing.T) {
	t.Run("broadcast is unchanged", func(t *testing.T) {
		e := newTestEngine(t, nil)
		bcast := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
		sub, err := e.Anonymize(KindMac, bcast)
		require.NoError(t, err)
		assert.Equal(t, bcast, sub)
	})

	t.Run("synthetic vendor and shared host counter", func(t *testing.T) {
		e := newTestEngine(t, nil)
		a, err := e.Anonymize(KindMac, []byte{0x00, 0x1b, 0x21, 0x01, 0x02, 0x03})
		require.NoError(t, err)
		b, err := e.Anonymize(KindMac, []byte{0x00, 0x1b, 0x21, 0x0a, 0x0b, 0x0c})
		require.NoError(t, err)
		c, err := e.Anonymize(KindMac, []byte{0x3c, 0x22, 0xfb, 0x01, 0x02, 0x03})
		require.NoError(t, err)

		assert.Equal(t, []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x02}, a)
		assert.Equal(t, []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x04}, b)
		assert.Equal(t, []byte{0x00, 0x00, 0x02, 0x00, 0x00, 0x06}, c)
		assert.Equal(t, 3, e.Stats().Macs)
	})

	t.Run("vendor preserved", func(t *testing.T) {
		e := newTestEngine(t, func(o *Options) { o.PreserveVendor = true })
		sub, err := e.Anonymize(KindMac, []byte{0x00, 0x1b, 0x21, 0x01, 0x02, 0x03})
		require.NoError(t, err)
		assert.Equal(t, []byte{0x00, 0x1b, 0x21}, sub[:3])
		assert.NotEqual(t, []byte{0x01, 0x02, 0x03}, sub[3:])
	})

	t.Run("multicast oui is kept", func(t *testing.T) {
		e := newTestEngine(t, nil)
		sub, err := e.Anonymize(KindMac, []byte{0x01, 0x00, 0x5e, 0x00, 0x00, 0xfb})
		require.NoError(t, err)
		assert.Equal(t, []byte{0x01, 0x00, 0x5e}, sub[:3])
		assert.Equal(t, 1, e.Stats().MacMulticast)
	})

	t.Run("group bit preserved", func(t *testing.T) {
		e := newTestEngine(t, nil)
		seen := map[string]bool{}
		for i := 0; i < 512; i++ {
			mac := []byte{byte(i), byte(i >> 3), 0x42, byte(i * 7), 0x00, byte(i)}
			sub, err := e.Anonymize(KindMac, mac)
			require.NoError(t, err)
			assert.Equal(t, mac[0]&0x01, sub[0]&0x01)
			assert.False(t, seen[string(sub)], "substitutes are unique")
			seen[string(sub)] = true
		}
	})

	t.Run("uint64 form", func(t *testing.T) {
		e := newTestEngine(t, nil)
		sub, err := e.AnonymizeMAC(0x001b21010203)
		require.NoError(t, err)
		assert.Equal(t, uint64(0x000001000002), sub)
	})
}

func TestEngine_AsNumber(t *testing.T) {
	e := newTestEngine(t, nil)
	asn, err := e.AnonymizeASN(64512)
	require.NoError(t, err)
	assert.Equal(t, uint32(65512), asn)

	asn, err = e.AnonymizeASN(0xffffffff)
	require.NoError(t, err)
	assert.Equal(t, uint32(999), asn, "offsets wrap at 2^32")

	assert.Equal(t, 2, e.Stats().AsNumbers)
}

func TestEngine_Ports(t *testing.T) {
	e := newTestEngine(t, nil)
	assert.Equal(t, uint16(80), e.Port(80))
	assert.Equal(t, uint16(7000), e.Port(2000))
	assert.Equal(t, uint8(6), e.Proto(6))
}

func TestEngine_Translations(t *testing.T) {
	t.Run("static entries", func(t *testing.T) {
		e := newTestEngine(t, func(o *Options) {
			o.Hierarchy = HierarchyCIDR
			o.HostTranslations = []Translation{{From: "10.1.1.1", To: "router.example"}}
			o.NetTranslations = []Translation{{From: "10.9.0.0/16", To: "172.16.0.0"}, {From: "10.10.10.0", To: "198.51.100.0"}}
			o.AsnTranslations = []Translation{{From: "65000", To: "1"}}
		})
		assert.Equal(t, "192.0.2.77", anonIPv4(t, e, "10.1.1.1").String())
		assert.Equal(t, "172.16.1.1", anonIPv4(t, e, "10.9.1.1").String())
		assert.Equal(t, "198.51.100.1", anonIPv4(t, e, "10.10.10.5").String())
		asn, err := e.AnonymizeASN(65000)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), asn)
	})

	t.Run("duplicate host", func(t *testing.T) {
		opts := testOptions()
		opts.HostTranslations = []Translation{{From: "10.1.1.1", To: "10.2.2.2"}, {From: "10.1.1.1", To: "10.3.3.3"}}
		_, err := NewWithResolver(opts, literalResolver{})
		assert.True(t, errors.Is(err, ErrDuplicateKey))
	})

	t.Run("bad prefix", func(t *testing.T) {
		opts := testOptions()
		opts.NetTranslations = []Translation{{From: "10.0.0.0/12", To: "10.2.2.0"}}
		_, err := NewWithResolver(opts, literalResolver{})
		assert.True(t, errors.Is(err, ErrSyntax))
	})

	t.Run("unresolvable", func(t *testing.T) {
		opts := testOptions()
		opts.HostTranslations = []Translation{{From: "nowhere.example", To: "10.2.2.2"}}
		_, err := NewWithResolver(opts, literalResolver{})
		assert.Error(t, err)
	})
}

func TestEngine_NetTranslationPrefixes(t *testing.T) {
	for _, hierarchy := range []Hierarchy{HierarchyNone, HierarchySubnet, HierarchyClass} {
		opts := testOptions()
		opts.Hierarchy = hierarchy
		opts.NetTranslations = []Translation{{From: "10.1.0.0/16", To: "172.16.0.0"}}
		_, err := NewWithResolver(opts, literalResolver{})
		assert.True(t, errors.Is(err, ErrSyntax), "a /16 override is never looked up in %s mode", hierarchy)
	}

	opts := testOptions()
	opts.Hierarchy = HierarchyNone
	opts.NetTranslations = []Translation{{From: "10.1.2.0/24", To: "172.16.5.0"}}
	_, err := NewWithResolver(opts, literalResolver{})
	assert.True(t, errors.Is(err, ErrSyntax), "no mode does not look up real networks")

	for _, hierarchy := range []Hierarchy{HierarchySubnet, HierarchyClass, HierarchyCIDR} {
		e := newTestEngine(t, func(o *Options) {
			o.Hierarchy = hierarchy
			o.NetTranslations = []Translation{{From: "10.1.2.0/24", To: "172.16.5.0"}}
		})
		assert.Equal(t, "172.16.5.1", anonIPv4(t, e, "10.1.2.3").String(), hierarchy.String())
	}

	e := newTestEngine(t, func(o *Options) {
		o.Hierarchy = HierarchyCIDR
		o.NetTranslations = []Translation{{From: "10.1.0.0/16", To: "172.16.0.0"}}
	})
	assert.Equal(t, "172.16.1.1", anonIPv4(t, e, "10.1.2.3").String())
}

func TestEngine_TranslationTargetReserved(t *testing.T) {
	// Prepare
	e := newTestEngine(t, func(o *Options) {
		o.HostTranslations = []Translation{{From: "192.168.9.9", To: "1.0.1.1"}}
	})

	// Execute
	override := anonIPv4(t, e, "192.168.9.9")
	pooled := anonIPv4(t, e, "10.0.0.5")

	// Check
	assert.Equal(t, "1.0.1.1", override.String())
	assert.NotEqual(t, override.String(), pooled.String())
	assert.NotEqual(t, byte(1), pooled[0], "the pools skip the /8 of an override target")
	assert.Equal(t, len(classAOctets)-2, e.pools.remaining(ClassA), "one class A network drawn, one reserved")
}

func TestEngine_FallOverClass(t *testing.T) {
	e := newTestEngine(t, func(o *Options) { o.Hierarchy = HierarchyCIDR })
	for i := 1; i <= len(classAOctets)+1; i++ {
		_, err := e.Anonymize(KindIPv4Host, []byte{byte(i), 1, 1, 1})
		require.NoError(t, err)
	}
	var found bool
	for _, n := range e.Networks() {
		if n.Supernet == noNetwork && n.Base == 100<<24 {
			assert.Equal(t, ClassB, n.Class, "networks record the class they were drawn from")
			found = true
		}
	}
	assert.True(t, found, "the class A pool falls over to class B")
}

func TestEngine_InvalidRequests(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.Anonymize(KindIPv4Host, []byte{1, 2, 3})
	assert.True(t, errors.Is(err, ErrLength))
	_, err = e.Anonymize(Kind(0x7f), []byte{1, 2, 3, 4})
	assert.True(t, errors.Is(err, ErrUnknownKind))
	_, err = e.AnonymizeIP([]byte{1, 2})
	assert.True(t, errors.Is(err, ErrLength))
}

func TestEngine_SeedReproducible(t *testing.T) {
	mutate := func(o *Options) {
		o.Seed = "7"
		o.AsnOffset = OffsetSpec{Random: true}
		o.PortMethod = PortMethod{Random: true}
	}
	a := newTestEngine(t, mutate)
	b := newTestEngine(t, mutate)
	assert.Equal(t, a.Offsets(), b.Offsets())
	for _, p := range []uint16{1, 1024, 8080, 50000, 65535} {
		assert.Equal(t, a.Port(p), b.Port(p))
	}
	v6a, err := a.AnonymizeIP(net.ParseIP("2001:db8::1"))
	require.NoError(t, err)
	v6b, err := b.AnonymizeIP(net.ParseIP("2001:db8::1"))
	require.NoError(t, err)
	assert.Equal(t, v6a, v6b, "the IPv6 key is drawn from the seed")
}

func TestEngine_Concurrent(t *testing.T) {
	e := newTestEngine(t, nil)
	addrs := make([]net.IP, 200)
	for i := range addrs {
		addrs[i] = net.IPv4(10, byte(i%7), byte(i%3), byte(i)).To4()
	}

	results := make([][]string, 4)
	wg := sync.WaitGroup{}
	for w := range results {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for _, addr := range addrs {
				sub, err := e.Anonymize(KindIPv4Host, addr)
				if err != nil {
					t.Error(err)
					return
				}
				results[w] = append(results[w], net.IP(sub).String())
			}
		}(w)
	}
	wg.Wait()
	for w := 1; w < len(results); w++ {
		assert.Equal(t, results[0], results[w])
	}
}

func BenchmarkEngine_AnonymizeIPv4(b *testing.B) {
	e := newTestEngine(b, nil)
	addr := make([]byte, 4)
	for n := 0; n < b.N; n++ {
		binary.BigEndian.PutUint32(addr, uint32(n%100000)|0x0a000000)
		if _, err := e.Anonymize(KindIPv4Host, addr); err != nil {
			b.Fatal(err)
		}
	}
}
