// Forwards flows and otherwise does nothing. Used as the stand-in segment of
// empty pipelines and as a template for new segments.
package noop

import (
	"sync"

	"github.com/bwNetFlow/flowanon/segments"
)

type NoOp struct {
	segments.BaseSegment // always embed this, no need to repeat I/O chan code
}

// Every Segment must implement a New method, even if there isn't any config
// it is interested in.
func (segment NoOp) New(config map[string]string) segments.Segment {
	return &NoOp{}
}

// Any Run method must close(segment.Out) once In is closed and call
// wg.Done() before exiting.
func (segment *NoOp) Run(wg *sync.WaitGroup) {
	defer func() {
		close(segment.Out)
		wg.Done()
	}()
	for msg := range segment.In {
		segment.Out <- msg
	}
}

func init() {
	segment := &NoOp{}
	segments.RegisterSegment("noop", segment)
}
