// Writes all flows to stdout or a given file in json format, one flow per
// line, for consumption by the stdin segment or for handing out anonymized
// flows.
package json

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"sync"

	"github.com/bwNetFlow/flowanon/segments"
	"google.golang.org/protobuf/encoding/protojson"
)

type Json struct {
	segments.BaseSegment
	FileName string // optional, default is empty which means stdout
	Append   bool   // optional, default is false, append to an existing file instead of truncating it
	Zeros    bool   // optional, default is false, write unset fields with their zero value

	file    *os.File
	writer  *bufio.Writer
	options protojson.MarshalOptions
}

func (segment Json) New(config map[string]string) segments.Segment {
	newsegment := &Json{}
	for key, field := range map[string]*bool{"append": &newsegment.Append, "zeros": &newsegment.Zeros} {
		if config[key] == "" {
			continue
		}
		parsed, err := strconv.ParseBool(config[key])
		if err != nil {
			log.Printf("[error] Json: Could not parse '%s' parameter.", key)
			return nil
		}
		*field = parsed
	}
	newsegment.options = protojson.MarshalOptions{EmitUnpopulated: newsegment.Zeros}

	if config["filename"] != "" {
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if newsegment.Append {
			flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		}
		file, err := os.OpenFile(config["filename"], flags, 0o644)
		if err != nil {
			log.Printf("[error] Json: File specified in 'filename' is not accessible: %s", err)
			return nil
		}
		newsegment.FileName = config["filename"]
		newsegment.file = file
	} else {
		log.Println("[info] Json: 'filename' unset, using stdout.")
		newsegment.file = os.Stdout
	}
	newsegment.writer = bufio.NewWriter(newsegment.file)
	return newsegment
}

func (segment *Json) Run(wg *sync.WaitGroup) {
	defer func() {
		segment.writer.Flush()
		if segment.FileName != "" {
			segment.file.Close()
		}
		close(segment.Out)
		wg.Done()
	}()
	for msg := range segment.In {
		data, err := segment.options.Marshal(msg)
		if err != nil {
			log.Printf("[warning] Json: Skipping a flow, failed to recode protobuf as JSON: %v", err)
			continue
		}
		segment.writer.Write(data)
		segment.writer.WriteByte('\n')
		// full lines only, this output might be read by a stdin segment right away
		segment.writer.Flush()
		segment.Out <- msg
	}
}

func init() {
	segment := &Json{}
	segments.RegisterSegment("json", segment)
}
