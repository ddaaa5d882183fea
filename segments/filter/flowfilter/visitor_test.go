package flowfilter

import (
	"net"
	"testing"

	"github.com/bwNetFlow/flowfilter/parser"
	flow "github.com/bwNetFlow/protobuf/go"
)

func TestMatcher_CheckFlow(t *testing.T) {
	msg := &flow.FlowMessage{
		SrcAddr:        net.ParseIP("10.0.0.5").To4(),
		DstAddr:        net.ParseIP("192.0.2.1").To4(),
		SamplerAddress: net.ParseIP("198.51.100.1").To4(),
		Proto:          6,
		SrcPort:        51234,
		DstPort:        443,
		SrcAS:          553,
		DstAS:          3320,
		Bytes:          1500,
		Packets:        3,
		TimeFlowStart:  100,
		TimeFlowEnd:    110,
		FlowDirection:  1,
		InIf:           7,
		SrcIfName:      "Ethernet0/1",
		IPTos:          0b10111000,
		TCPFlags:       0b10010,
		Cid:            42,
		RemoteCountry:  "DE",
	}
	for expression, want := range map[string]bool{
		"proto tcp":               true,
		"proto 17":                false,
		"not proto 17":            true,
		"src address 10.0.0.0/8":  true,
		"dst address 10.0.0.0/8":  false,
		"address 192.0.2.1":       true,
		"router 198.51.100.1":     true,
		"port 80-90":              false,
		"asn 3320":                true,
		"src asn 3320":            false,
		"bytes >1000":             true,
		"duration 10":             true,
		"bps 1200":                true,
		"direction outgoing":      true,
		"iface 7":                 true,
		"iface name \"ethernet\"": true,
		"dscp 46":                 true,
		"cid 42":                  true,
		"country de":              true,

		"dst port 443 and src port >1023":         true,
		"proto udp or (port 443 and bytes <2000)": true,
	} {
		expr, err := parser.Parse(expression)
		if err != nil {
			t.Fatalf("Parsing %q failed: %v", expression, err)
		}
		got, err := (&Matcher{}).CheckFlow(expr, msg)
		if err != nil {
			t.Errorf("Matcher failed on %q: %v", expression, err)
		}
		if got != want {
			t.Errorf("Matcher evaluated %q to %t, expected %t.", expression, got, want)
		}
	}
}

func TestMatcher_CheckFlow_bgp(t *testing.T) {
	expr, err := parser.Parse("passes-through 3320")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := (&Matcher{}).CheckFlow(expr, &flow.FlowMessage{}); err == nil {
		t.Error("Matcher accepted a match on BGP data.")
	}
}

func TestMatcher_CheckFlow_badRange(t *testing.T) {
	expr, err := parser.Parse("port 90-80")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := (&Matcher{}).CheckFlow(expr, &flow.FlowMessage{}); err == nil {
		t.Error("Matcher accepted an inverted range.")
	}
}
