package goflow

import (
	"testing"

	"github.com/bwNetFlow/flowanon/segments"
	flow "github.com/bwNetFlow/protobuf/go"
)

// Goflow Segment test, passthrough test only, functionality is tested by Goflow package
func TestSegment_Goflow_passthrough(t *testing.T) {
	result := segments.TestSegment("goflow", map[string]string{"listen": "netflow://127.0.0.1:0"},
		&flow.FlowMessage{Type: 3})
	if result == nil || result.Type != 3 {
		t.Error("Segment Goflow is not passing through flows.")
	}
}

func TestSegment_Goflow_instanciation(t *testing.T) {
	goflow := &Goflow{}
	for _, config := range []map[string]string{
		{"listen": "bgp://:179"},
		{"listen": "netflow://:port"},
		{"workers": "0"},
		{"reuseport": "often"},
	} {
		if result := goflow.New(config); result != nil {
			t.Errorf("Segment Goflow initiated successfully despite bad config %v.", config)
		}
	}
	result := goflow.New(map[string]string{"listen": "sflow://:6343, nfl://127.0.0.1:2056, ipfix://:4739", "workers": "2", "reuseport": "true"})
	if result == nil || len(result.(*Goflow).Listen) != 3 || result.(*Goflow).Workers != 2 || !result.(*Goflow).ReusePort {
		t.Error("Segment Goflow did not parse its config.")
	}
}
