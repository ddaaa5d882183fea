// This package is home to all pipeline segment implementations. Generally,
// every segment lives in its own package, implements the Segment interface,
// embeds the BaseSegment to take care of the I/O side of things, and has an
// additional init() function to register itself using RegisterSegment.
package segments

import (
	"log"
	"os"
	"sort"
	"sync"
	"syscall"

	flow "github.com/bwNetFlow/protobuf/go"
)

var (
	registeredSegments = make(map[string]Segment)
	lock               = &sync.RWMutex{}
)

// Used by Segments to register themselves in their init() functions. Errors
// and exits immediately on conflicts.
func RegisterSegment(name string, s Segment) {
	lock.Lock()
	defer lock.Unlock()
	if _, ok := registeredSegments[name]; ok {
		log.Printf("[error] Segments: Tried to register conflicting segment name '%s'.", name)
		os.Exit(1)
	}
	registeredSegments[name] = s
}

// Used by the pipeline package to convert segment names in configuration to
// actual Segment objects.
func LookupSegment(name string) Segment {
	lock.RLock()
	segment, ok := registeredSegments[name]
	lock.RUnlock()
	if !ok {
		log.Printf("[error] Segments: Configured segment '%s' not found, available are %v.", name, RegisteredNames())
		os.Exit(1)
	}
	return segment
}

// Returns the sorted names of all registered segments.
func RegisteredNames() []string {
	lock.RLock()
	defer lock.RUnlock()
	names := make([]string, 0, len(registeredSegments))
	for name := range registeredSegments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Used by the tests to run single flow messages through a segment. Returns
// nil if the segment did not forward the message.
func TestSegment(name string, config map[string]string, msg *flow.FlowMessage) *flow.FlowMessage {
	segment := LookupSegment(name).New(config)
	if segment == nil {
		log.Printf("[error] Segments: Configured segment '%s' could not be initialized properly, see previous messages.", name)
		return nil
	}

	in, out := make(chan *flow.FlowMessage), make(chan *flow.FlowMessage)
	segment.Rewire(in, out)

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go segment.Run(wg)

	go func() {
		in <- msg
		close(in)
	}()
	var result *flow.FlowMessage
	for msg := range out { // drain until the segment closes its output
		if result == nil {
			result = msg
		}
	}
	wg.Wait()

	return result
}

// This interface is central to an Pipeline object, as it operates on a list of
// them. In general, Segments should embed the BaseSegment to provide the
// Rewire function and the associated vars.
type Segment interface {
	New(config map[string]string) Segment                      // for reading the provided config
	Run(wg *sync.WaitGroup)                                    // goroutine, must close(segment.Out) when segment.In is closed
	Rewire(<-chan *flow.FlowMessage, chan<- *flow.FlowMessage) // embed this using BaseSegment
}

// Serves as a basis for any Segment implementations. Segments embedding this
// type only need the New and the Run methods to be compliant to the Segment
// interface.
type BaseSegment struct {
	In  <-chan *flow.FlowMessage
	Out chan<- *flow.FlowMessage
}

// This function rewires this Segment with the provided channels. This is
// typically called only by pipeline.New() and present in any Segment
// implementation.
func (segment *BaseSegment) Rewire(in <-chan *flow.FlowMessage, out chan<- *flow.FlowMessage) {
	segment.In = in
	segment.Out = out
}

// Signals the main routine to close the whole pipeline, this is used by
// input segments which run out of flows, such as reading a file to its end.
func (segment *BaseSegment) ShutdownParentPipeline() {
	process, err := os.FindProcess(os.Getpid())
	if err != nil {
		log.Printf("[error] Segments: Could not find own process to signal shutdown: %v", err)
		return
	}
	if err := process.Signal(syscall.SIGUSR1); err != nil {
		log.Printf("[error] Segments: Could not signal shutdown: %v", err)
	}
}
