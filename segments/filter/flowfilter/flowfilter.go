// Runs flows through a filter and forwards only matching flows. Reuses our own
// https://github.com/bwNetFlow/flowfilter project, see the docs there.
//
// Typical use in front of an anonymize segment is removing flows which must
// not be shared at all, e.g. `filter: "not address 192.0.2.0/24"`.
package flowfilter

import (
	"log"
	"strconv"
	"sync"

	"github.com/bwNetFlow/flowanon/segments"
	"github.com/bwNetFlow/flowfilter/parser"
	flow "github.com/bwNetFlow/protobuf/go"
	"github.com/dustin/go-humanize"
)

type FlowFilter struct {
	segments.BaseSegment
	Filter string // required
	Invert bool   // optional, default is false, forward the flows not matching instead

	expression *parser.Expression
	dropped    uint64
}

func (segment FlowFilter) New(config map[string]string) segments.Segment {
	if config["filter"] == "" {
		log.Println("[error] FlowFilter: Missing required configuration parameter 'filter'.")
		return nil
	}
	expression, err := parser.Parse(config["filter"])
	if err != nil {
		log.Printf("[error] FlowFilter: Syntax error in filter expression: %v", err)
		return nil
	}
	if _, err := (&Matcher{}).CheckFlow(expression, &flow.FlowMessage{}); err != nil {
		log.Printf("[error] FlowFilter: Semantic error in filter expression: %v", err)
		return nil
	}

	var invert bool
	if config["invert"] != "" {
		if invert, err = strconv.ParseBool(config["invert"]); err != nil {
			log.Println("[error] FlowFilter: Could not parse 'invert' parameter.")
			return nil
		}
	}
	return &FlowFilter{
		Filter:     config["filter"],
		Invert:     invert,
		expression: expression,
	}
}

func (segment *FlowFilter) Run(wg *sync.WaitGroup) {
	defer func() {
		close(segment.Out)
		wg.Done()
	}()

	log.Printf("[info] FlowFilter: Using filter expression: %s (inverted: %t)", segment.Filter, segment.Invert)

	filter := &Matcher{}
	for msg := range segment.In {
		match, _ := filter.CheckFlow(segment.expression, msg)
		if match != segment.Invert {
			segment.Out <- msg
		} else {
			segment.dropped++
		}
	}
	log.Printf("[info] FlowFilter: Dropped %s flows.", humanize.Comma(int64(segment.dropped)))
}

func init() {
	segment := &FlowFilter{}
	segments.RegisterSegment("flowfilter", segment)
}
