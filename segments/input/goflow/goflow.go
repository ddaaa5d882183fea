// Captures Netflow v9, IPFIX, sflow and legacy Netflow and feeds flows to the
// following segments. This segment only uses a limited subset of goflow2
// functionality. If no configuration option is provided a sflow and a netflow
// collector will be started.
package goflow

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/bwNetFlow/flowanon/segments"
	flow "github.com/bwNetFlow/protobuf/go"
	"github.com/dustin/go-humanize"
	"google.golang.org/protobuf/proto"

	"github.com/netsampler/goflow2/transport"
	"github.com/netsampler/goflow2/utils"
)

// supported listen schemes, ipfix is served by the netflow collector
var schemes = map[string]string{
	"netflow": "Netflow v9/IPFIX",
	"ipfix":   "Netflow v9/IPFIX",
	"sflow":   "sflow",
	"nfl":     "netflow legacy",
}

type Goflow struct {
	segments.BaseSegment
	Listen    []url.URL // optional, default config value for this slice is "sflow://:6343,netflow://:2055"
	Workers   uint64    // optional, amount of workers to spawn for each endpoint, default is 1
	ReusePort bool      // optional, default is false, allows several collectors to share a port

	goflow_in chan *flow.FlowMessage
	received  uint64
}

func (segment Goflow) New(config map[string]string) segments.Segment {
	var listen = "sflow://:6343,netflow://:2055"
	if config["listen"] != "" {
		listen = config["listen"]
	}

	var listenAddressesSlice []url.URL
	for _, listenAddress := range strings.Split(listen, ",") {
		listenAddrUrl, err := url.Parse(strings.TrimSpace(listenAddress))
		if err != nil {
			log.Printf("[error] Goflow: error parsing listenAddresses: %v", err)
			return nil
		}
		if _, err := strconv.ParseUint(listenAddrUrl.Port(), 10, 16); err != nil {
			log.Printf("[error] Goflow: Port %s could not be converted to integer", listenAddrUrl.Port())
			return nil
		}
		if _, ok := schemes[listenAddrUrl.Scheme]; !ok {
			log.Printf("[error] Goflow: Scheme %s not supported.", listenAddrUrl.Scheme)
			return nil
		}
		listenAddressesSlice = append(listenAddressesSlice, *listenAddrUrl)
	}
	log.Printf("[info] Goflow: Configured for %s", listen)

	var workers uint64 = 1
	if config["workers"] != "" {
		if parsedWorkers, err := strconv.ParseUint(config["workers"], 10, 32); err == nil {
			workers = parsedWorkers
			if workers == 0 {
				log.Println("[error] Goflow: Limiting workers to 0 will not work. Remove this segment or use a higher value >= 1.")
				return nil
			}
		} else {
			log.Println("[error] Goflow: Could not parse 'workers' parameter, using default 1.")
		}
	} else {
		log.Println("[info] Goflow: 'workers' set to default '1'.")
	}

	var reuse bool
	if config["reuseport"] != "" {
		var err error
		if reuse, err = strconv.ParseBool(config["reuseport"]); err != nil {
			log.Println("[error] Goflow: Could not parse 'reuseport' parameter.")
			return nil
		}
	}

	return &Goflow{
		Listen:    listenAddressesSlice,
		Workers:   workers,
		ReusePort: reuse,
	}
}

func (segment *Goflow) Run(wg *sync.WaitGroup) {
	defer func() {
		log.Printf("[info] Goflow: Received %s flows.", humanize.Comma(int64(atomic.LoadUint64(&segment.received))))
		close(segment.Out)
		wg.Done()
	}()
	segment.goflow_in = make(chan *flow.FlowMessage)
	segment.startGoFlow(&channelDriver{out: segment.goflow_in, received: &segment.received})
	for {
		select {
		case msg, ok := <-segment.goflow_in:
			if !ok {
				// keep draining In, returning here would block our
				// predecessor segment
				segment.goflow_in = nil
				continue
			}
			segment.Out <- msg
		case msg, ok := <-segment.In:
			if !ok {
				return
			}
			segment.Out <- msg
		}
	}
}

// channelDriver hands every flow decoded by goflow2 to the segment. Both
// message formats share their field numbers, so the goflow2 message is
// decoded into a bwNetFlow message directly.
type channelDriver struct {
	out      chan *flow.FlowMessage
	received *uint64
}

func (d *channelDriver) Send(key, data []byte) error {
	msg := &flow.FlowMessage{}
	if err := proto.Unmarshal(data, msg); err != nil {
		log.Println("[error] Goflow: Conversion error for received flow.")
		return nil
	}
	atomic.AddUint64(d.received, 1)
	d.out <- msg
	return nil
}

func (d *channelDriver) Close(context.Context) error {
	close(d.out)
	return nil
}

type protobufFormatter struct{}

func (d *protobufFormatter) Format(data interface{}) ([]byte, []byte, error) {
	msg, ok := data.(proto.Message)
	if !ok {
		return nil, nil, fmt.Errorf("message is not protobuf")
	}
	b, err := proto.Marshal(msg)
	return nil, b, err
}

func (d *protobufFormatter) Prepare() error             { return nil }
func (d *protobufFormatter) Init(context.Context) error { return nil }

func (segment *Goflow) startGoFlow(transport transport.TransportInterface) {
	formatter := &protobufFormatter{}

	for _, listenAddrUrl := range segment.Listen {
		go func(listenAddrUrl url.URL) {
			hostname := listenAddrUrl.Hostname()
			port, _ := strconv.ParseUint(listenAddrUrl.Port(), 10, 16)
			workers := int(segment.Workers)

			log.Printf("[info] Goflow: Listening for %s on port %d...", schemes[listenAddrUrl.Scheme], port)
			var err error
			switch listenAddrUrl.Scheme {
			case "netflow", "ipfix":
				state := &utils.StateNetFlow{Format: formatter, Transport: transport}
				err = state.FlowRoutine(workers, hostname, int(port), segment.ReusePort)
			case "sflow":
				state := &utils.StateSFlow{Format: formatter, Transport: transport}
				err = state.FlowRoutine(workers, hostname, int(port), segment.ReusePort)
			case "nfl":
				state := &utils.StateNFLegacy{Format: formatter, Transport: transport}
				err = state.FlowRoutine(workers, hostname, int(port), segment.ReusePort)
			}
			if err != nil {
				log.Fatalf("[error] Goflow: %s", err.Error())
			}
		}(listenAddrUrl)
	}
}

func init() {
	segment := &Goflow{}
	segments.RegisterSegment("goflow", segment)
}
