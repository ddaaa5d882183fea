package dropfields

import (
	"io"
	"log"
	"sync"
	"testing"

	"github.com/bwNetFlow/flowanon/segments"
	flow "github.com/bwNetFlow/protobuf/go"
)

// DropFields Segment tests are thorough and try every combination
func TestSegment_DropFields_policyKeep(t *testing.T) {
	result := segments.TestSegment("dropfields", map[string]string{"policy": "keep", "fields": "DstAddr,Proto"},
		&flow.FlowMessage{SrcAddr: []byte{192, 168, 88, 142}, DstAddr: []byte{192, 168, 88, 143}, Proto: 6},
	)
	if len(result.SrcAddr) != 0 || len(result.DstAddr) == 0 || result.Proto != 6 {
		t.Error("Segment DropFields is not keeping the proper fields.")
	}
}

func TestSegment_DropFields_policyDrop(t *testing.T) {
	result := segments.TestSegment("dropfields", map[string]string{"policy": "drop", "fields": "SrcAddr, SrcIfName"},
		&flow.FlowMessage{SrcAddr: []byte{192, 168, 88, 142}, DstAddr: []byte{192, 168, 88, 143}, SrcIfName: "et-0/0/1"},
	)
	if len(result.SrcAddr) != 0 || len(result.DstAddr) == 0 || result.SrcIfName != "" {
		t.Error("Segment DropFields is not dropping the proper fields.")
	}
}

func TestSegment_DropFields_misconfigured(t *testing.T) {
	if (DropFields{}).New(map[string]string{"policy": "maybe", "fields": "SrcAddr"}) != nil {
		t.Error("Segment DropFields accepted an invalid policy.")
	}
	if (DropFields{}).New(map[string]string{"policy": "drop", "fields": "SrcAddress"}) != nil {
		t.Error("Segment DropFields accepted an unknown field.")
	}
}

// DropFields Segment benchmark passthrough
func BenchmarkDropFields(b *testing.B) {
	log.SetOutput(io.Discard)

	segment := DropFields{}.New(map[string]string{"policy": "drop", "fields": "SrcAddr"})

	in, out := make(chan *flow.FlowMessage), make(chan *flow.FlowMessage)
	segment.Rewire(in, out)

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go segment.Run(wg)

	for n := 0; n < b.N; n++ {
		in <- &flow.FlowMessage{SrcAddr: []byte{192, 168, 88, 142}, DstAddr: []byte{192, 168, 88, 143}}
		_ = <-out
	}
	close(in)
}
