// Counts the number of passing flows and prints the result on termination.
// Typically used to test flow counts before and after a filter segment, best
// used with `prefix: pre` and `prefix: post`.
package count

import (
	"log"
	"sync"

	"github.com/bwNetFlow/flowanon/segments"
	"github.com/dustin/go-humanize"
)

type Count struct {
	segments.BaseSegment
	count  uint64
	bytes  uint64
	Prefix string // optional, default is empty, a string which is printed along with the result
}

func (segment Count) New(config map[string]string) segments.Segment {
	return &Count{
		Prefix: config["prefix"],
	}
}

func (segment *Count) Run(wg *sync.WaitGroup) {
	defer func() {
		close(segment.Out)
		wg.Done()
	}()
	for msg := range segment.In {
		segment.count += 1
		segment.bytes += msg.Bytes
		segment.Out <- msg
	}
	// use log without level to print to stderr but never filter it
	log.Printf("%s%s flows, %s", segment.Prefix, humanize.Comma(int64(segment.count)), humanize.Bytes(segment.bytes))
}

func init() {
	segment := &Count{}
	segments.RegisterSegment("count", segment)
}
