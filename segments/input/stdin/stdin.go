// Receives flows from stdin in JSON format, as exported by the json segment.
// This segment can also read from a file with flows in json format per each
// line, which is how recorded flows are anonymized in batch.
package stdin

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"sync"

	"github.com/bwNetFlow/flowanon/segments"
	flow "github.com/bwNetFlow/protobuf/go"
	"google.golang.org/protobuf/encoding/protojson"
)

type StdIn struct {
	segments.BaseSegment
	scanner *bufio.Scanner

	FileName  string // optional, default is empty which means read from stdin
	EofCloses bool   // optional, default is false, closes the pipeline gracefully after the input was read
}

func (segment StdIn) New(config map[string]string) segments.Segment {
	newsegment := &StdIn{}

	var filename string = "stdin"
	var file *os.File
	var err error
	if config["filename"] != "" {
		file, err = os.Open(config["filename"])
		if err != nil {
			log.Printf("[error] StdIn: File specified in 'filename' is not accessible: %s", err)
			return nil
		}
		filename = config["filename"]
	} else {
		file = os.Stdin
		log.Println("[info] StdIn: 'filename' unset, using stdin.")
	}

	var eofCloses bool = false
	if config["eofcloses"] != "" {
		if parsedClose, err := strconv.ParseBool(config["eofcloses"]); err == nil {
			eofCloses = parsedClose
		} else {
			log.Println("[error] StdIn: Could not parse 'eofcloses' parameter, using default false.")
		}
	} else {
		log.Println("[info] StdIn: 'eofcloses' set to default false.")
	}

	newsegment.scanner = bufio.NewScanner(file)
	newsegment.scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	newsegment.FileName = filename
	newsegment.EofCloses = eofCloses
	return newsegment
}

func (segment *StdIn) Run(wg *sync.WaitGroup) {
	defer func() {
		close(segment.Out)
		wg.Done()
	}()
	fromStdin := make(chan []byte)
	go func() {
		for segment.scanner.Scan() {
			if len(segment.scanner.Bytes()) == 0 {
				continue
			}
			// Bytes is overwritten by the next Scan
			fromStdin <- append([]byte(nil), segment.scanner.Bytes()...)
		}
		if err := segment.scanner.Err(); err != nil {
			log.Printf("[error] StdIn: Could not read from %s: %v", segment.FileName, err)
		}
		if segment.EofCloses {
			log.Printf("[info] StdIn: Reached eof of %s, closing pipeline.", segment.FileName)
			segment.ShutdownParentPipeline()
		}
	}()
	for {
		select {
		case msg, ok := <-segment.In:
			if !ok {
				return
			}
			segment.Out <- msg
		case line := <-fromStdin:
			msg := &flow.FlowMessage{}
			if err := protojson.Unmarshal(line, msg); err != nil {
				log.Printf("[warning] StdIn: Skipping a flow, failed to recode input to protobuf: %v", err)
				continue
			}
			segment.Out <- msg
		}
	}
}

func init() {
	segment := &StdIn{}
	segments.RegisterSegment("stdin", segment)
}
