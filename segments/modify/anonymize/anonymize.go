// Anonymizes identifiers in passing flows while keeping their structure:
// hosts of the same real network stay in one anonymized network, MAC
// addresses keep their vendor grouping, ports below the configured floor and
// multicast or broadcast addresses survive. All mappings are consistent for
// the lifetime of the segment.
//
// The engine is configured from an optional ranonymize style resource file
// given by 'rcfile' and from inline keys, which override the file, e.g.
//
//	- segment: anonymize
//	  config:
//	    rcfile: /etc/flowanon/ranonymize.conf
//	    seed: 4711
//	    preserve_net_address_hierarchy: cidr
//	    condition: "not proto 50"
package anonymize

import (
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/bwNetFlow/flowanon/anonymizer"
	"github.com/bwNetFlow/flowanon/segments"
	"github.com/bwNetFlow/flowanon/segments/filter/flowfilter"
	"github.com/bwNetFlow/flowfilter/parser"
	flow "github.com/bwNetFlow/protobuf/go"
	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus"
)

// all fields this segment knows how to anonymize, in processing order
var allFields = []string{
	"SrcAddr",
	"DstAddr",
	"NextHop",
	"SamplerAddress",
	"SrcMac",
	"DstMac",
	"SrcAS",
	"DstAS",
	"NextHopAS",
	"SrcPort",
	"DstPort",
	"Proto",
	"SequenceNum",
	"TimeFlowStart",
	"TimeFlowEnd",
	"TimeReceived",
	"FragmentId",
}

// config keys handled by the segment itself, everything else configures the engine
var segmentKeys = map[string]bool{
	"fields":    true,
	"condition": true,
	"rcfile":    true,
	"metrics":   true,
}

type Anonymize struct {
	segments.BaseSegment
	Fields    []string // optional, default is all fields in allFields
	Condition string   // optional, flowfilter expression selecting the flows to anonymize, default is all
	RcFile    string   // optional, ranonymize resource file
	Metrics   bool     // optional, default false, export the mapping counts to prometheus

	engine       *anonymizer.Engine
	offsets      anonymizer.Offsets
	preserveIpId bool
	expression   *parser.Expression
}

func (segment Anonymize) New(config map[string]string) segments.Segment {
	newsegment := &Anonymize{
		Condition: config["condition"],
		RcFile:    config["rcfile"],
	}

	opts := anonymizer.DefaultOptions()
	if newsegment.RcFile != "" {
		if err := opts.LoadResourceFile(newsegment.RcFile); err != nil {
			log.Printf("[error] Anonymize: Could not read 'rcfile': %v", err)
			return nil
		}
		log.Printf("[info] Anonymize: Loaded options from %s.", newsegment.RcFile)
	}
	for key, value := range config {
		if segmentKeys[key] {
			continue
		}
		if !anonymizer.IsOption(key) {
			log.Printf("[warning] Anonymize: Ignoring unknown configuration parameter '%s'.", key)
			continue
		}
		if err := opts.Set(key, value); err != nil {
			log.Printf("[error] Anonymize: Invalid configuration parameter: %v", err)
			return nil
		}
	}

	if config["fields"] == "" {
		newsegment.Fields = allFields
		log.Println("[info] Anonymize: 'fields' set to default, anonymizing all supported fields.")
	} else {
		known := make(map[string]bool)
		for _, field := range allFields {
			known[field] = true
		}
		for _, field := range strings.Split(config["fields"], ",") {
			field = strings.TrimSpace(field)
			if !known[field] {
				log.Printf("[error] Anonymize: Field '%s' can not be anonymized, supported are %s.", field, strings.Join(allFields, ","))
				return nil
			}
			newsegment.Fields = append(newsegment.Fields, field)
		}
	}

	if newsegment.Condition != "" {
		var err error
		newsegment.expression, err = parser.Parse(newsegment.Condition)
		if err != nil {
			log.Printf("[error] Anonymize: Syntax error in 'condition': %v", err)
			return nil
		}
		filter := &flowfilter.Matcher{}
		if _, err := filter.CheckFlow(newsegment.expression, &flow.FlowMessage{}); err != nil {
			log.Printf("[error] Anonymize: Semantic error in 'condition': %v", err)
			return nil
		}
	}

	var err error
	newsegment.engine, err = anonymizer.New(opts)
	if err != nil {
		log.Printf("[error] Anonymize: Could not set up the anonymizer: %v", err)
		return nil
	}
	newsegment.offsets = newsegment.engine.Offsets()
	newsegment.preserveIpId = opts.PreserveIpId
	log.Printf("[info] Anonymize: Using hierarchy '%s', ports are preserved below %d.", opts.Hierarchy, newsegment.engine.Ports().Floor())
	log.Printf("[info] Anonymize: Offsets are seq %d, asn %d, time %d.%06d, ip id %d.",
		newsegment.offsets.Seq, newsegment.offsets.Asn, newsegment.offsets.TimeSec, newsegment.offsets.TimeUsec, newsegment.offsets.IpId)

	if config["metrics"] != "" {
		if parsedMetrics, err := strconv.ParseBool(config["metrics"]); err == nil {
			newsegment.Metrics = parsedMetrics
		} else {
			log.Println("[error] Anonymize: Could not parse 'metrics' parameter, using default false.")
		}
	}
	if newsegment.Metrics {
		if err := prometheus.Register(anonymizer.NewCollector(newsegment.engine)); err != nil {
			log.Printf("[warning] Anonymize: Could not register metrics, another anonymize segment probably did: %v", err)
		}
	}
	return newsegment
}

func (segment *Anonymize) Run(wg *sync.WaitGroup) {
	defer func() {
		close(segment.Out)
		wg.Done()
	}()

	filter := &flowfilter.Matcher{}
	for msg := range segment.In {
		if segment.expression != nil {
			if match, _ := filter.CheckFlow(segment.expression, msg); !match {
				segment.Out <- msg
				continue
			}
		}
		if err := segment.anonymize(msg); err != nil {
			// a flow that can not be anonymized must never leave this segment
			log.Fatalf("[error] Anonymize: %v", err)
		}
		segment.Out <- msg
	}
	segment.engine.LogStats("Anonymize: ")
}

func (segment *Anonymize) anonymize(msg *flow.FlowMessage) error {
	var err error
	for _, field := range segment.Fields {
		switch field {
		case "SrcAddr":
			msg.SrcAddr, err = segment.address(msg.SrcAddr)
		case "DstAddr":
			msg.DstAddr, err = segment.address(msg.DstAddr)
		case "NextHop":
			msg.NextHop, err = segment.address(msg.NextHop)
		case "SamplerAddress":
			msg.SamplerAddress, err = segment.address(msg.SamplerAddress)
		case "SrcMac":
			msg.SrcMac, err = segment.mac(msg.SrcMac)
		case "DstMac":
			msg.DstMac, err = segment.mac(msg.DstMac)
		case "SrcAS":
			msg.SrcAS, err = segment.asn(msg.SrcAS)
		case "DstAS":
			msg.DstAS, err = segment.asn(msg.DstAS)
		case "NextHopAS":
			msg.NextHopAS, err = segment.asn(msg.NextHopAS)
		case "SrcPort":
			if hasPorts(msg.Proto) {
				msg.SrcPort = segment.port(msg.SrcPort)
			}
		case "DstPort":
			if hasPorts(msg.Proto) {
				msg.DstPort = segment.port(msg.DstPort)
			}
		case "Proto":
			if !hasPorts(msg.Proto) && layers.IPProtocol(msg.Proto) != layers.IPProtocolESP && msg.Proto <= 0xff {
				msg.Proto = uint32(segment.engine.Proto(uint8(msg.Proto)))
			}
		case "SequenceNum":
			msg.SequenceNum = segment.offsets.Sequence(msg.SequenceNum)
		case "TimeFlowStart":
			msg.TimeFlowStart = segment.timestamp(msg.TimeFlowStart)
		case "TimeFlowEnd":
			msg.TimeFlowEnd = segment.timestamp(msg.TimeFlowEnd)
		case "TimeReceived":
			msg.TimeReceived = segment.timestamp(msg.TimeReceived)
		case "FragmentId":
			if !segment.preserveIpId {
				msg.FragmentId = segment.offsets.IPID(msg.FragmentId)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func hasPorts(proto uint32) bool {
	switch layers.IPProtocol(proto) {
	case layers.IPProtocolTCP, layers.IPProtocolUDP:
		return true
	}
	return false
}

// unset addresses are all zero or missing
func unset(addr []byte) bool {
	for _, b := range addr {
		if b != 0 {
			return false
		}
	}
	return true
}

func (segment *Anonymize) address(addr []byte) ([]byte, error) {
	if unset(addr) {
		return addr, nil
	}
	return segment.engine.AnonymizeIP(addr)
}

func (segment *Anonymize) mac(mac uint64) (uint64, error) {
	if mac == 0 {
		return 0, nil
	}
	return segment.engine.AnonymizeMAC(mac)
}

func (segment *Anonymize) asn(asn uint32) (uint32, error) {
	if asn == 0 {
		return 0, nil
	}
	return segment.engine.AnonymizeASN(asn)
}

func (segment *Anonymize) port(port uint32) uint32 {
	if port > 0xffff {
		return port
	}
	return uint32(segment.engine.Port(uint16(port)))
}

// Timestamps are whole seconds, the microsecond offset only contributes its
// borrow. Results before the epoch wrap around.
func (segment *Anonymize) timestamp(ts uint64) uint64 {
	if ts == 0 {
		return 0
	}
	sec, _ := segment.offsets.ShiftTime(int64(ts), 0)
	return uint64(sec)
}

func init() {
	segment := &Anonymize{}
	segments.RegisterSegment("anonymize", segment)
}
