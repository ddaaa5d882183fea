// Prints all incoming flows in a compact flowdump format, one line per flow.
// Placed behind an anonymize segment this shows what the anonymized data
// set will look like.
package printflowdump

import (
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/bwNetFlow/flowanon/segments"
	flow "github.com/bwNetFlow/protobuf/go"
	"github.com/dustin/go-humanize"
	"github.com/google/gopacket/layers"
)

type PrintFlowdump struct {
	segments.BaseSegment
	UseProtoname bool // optional, default is true
	Verbose      bool // optional, default is false, adds AS numbers and MAC addresses
}

func (segment *PrintFlowdump) Run(wg *sync.WaitGroup) {
	defer func() {
		close(segment.Out)
		wg.Done()
	}()
	for msg := range segment.In {
		fmt.Println(segment.formatFlow(msg))
		segment.Out <- msg
	}
}

func (segment PrintFlowdump) New(config map[string]string) segments.Segment {
	var useProtoname bool = true
	if config["useprotoname"] != "" {
		if parsedUseProtoname, err := strconv.ParseBool(config["useprotoname"]); err == nil {
			useProtoname = parsedUseProtoname
		} else {
			log.Println("[error] PrintFlowdump: Could not parse 'useprotoname' parameter, using default true.")
		}
	} else {
		log.Println("[info] PrintFlowdump: 'useprotoname' set to default true.")
	}

	var verbose bool = false
	if config["verbose"] != "" {
		if parsedVerbose, err := strconv.ParseBool(config["verbose"]); err == nil {
			verbose = parsedVerbose
		} else {
			log.Println("[error] PrintFlowdump: Could not parse 'verbose' parameter, using default false.")
		}
	} else {
		log.Println("[info] PrintFlowdump: 'verbose' set to default false.")
	}

	return &PrintFlowdump{UseProtoname: useProtoname, Verbose: verbose}
}

func macString(mac uint64) string {
	hw := make(net.HardwareAddr, 6)
	for i := 5; i >= 0; i-- {
		hw[i] = byte(mac)
		mac >>= 8
	}
	return hw.String()
}

func (segment PrintFlowdump) formatFlow(msg *flow.FlowMessage) string {
	timestamp := time.Unix(int64(msg.TimeFlowEnd), 0).UTC().Format("15:04:05")
	src := net.IP(msg.SrcAddr)
	dst := net.IP(msg.DstAddr)
	router := net.IP(msg.SamplerAddress)

	var srcas, dstas, macs string
	if segment.Verbose {
		if msg.SrcAS != 0 {
			srcas = fmt.Sprintf("AS%d/", msg.SrcAS)
		}
		if msg.DstAS != 0 {
			dstas = fmt.Sprintf("AS%d/", msg.DstAS)
		}
		if msg.SrcMac != 0 || msg.DstMac != 0 {
			macs = fmt.Sprintf(" (%s → %s)", macString(msg.SrcMac), macString(msg.DstMac))
		}
	}

	var proto string
	if segment.UseProtoname {
		proto = layers.IPProtocol(msg.Proto).String()
		if msg.Proto == uint32(layers.IPProtocolICMPv4) && msg.DstPort != 0 {
			proto = fmt.Sprintf("%s (type %d, code %d)", proto, msg.DstPort/256, msg.DstPort%256)
		}
	} else {
		proto = fmt.Sprint(msg.Proto)
	}

	duration := msg.TimeFlowEnd - msg.TimeFlowStart
	if duration == 0 || msg.TimeFlowStart > msg.TimeFlowEnd {
		duration = 1
	}

	return fmt.Sprintf("%s: %s%s:%d → %s%s:%d%s [%d → %s → %d], %s, %ds, %s, %s",
		timestamp, srcas, src, msg.SrcPort, dstas, dst, msg.DstPort, macs,
		msg.InIf, router, msg.OutIf,
		proto, duration,
		humanize.SI(float64(msg.Bytes*8/duration), "bps"),
		humanize.SI(float64(msg.Packets/duration), "pps"),
	)
}

func init() {
	segment := &PrintFlowdump{}
	segments.RegisterSegment("printflowdump", segment)
}
