// Package csv processes all flows from it's In channel and converts them into
// CSV format. Using it's configuration options it can write to a file or to
// stdout.
package csv

import (
	"encoding/csv"
	"fmt"
	"log"
	"net"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/bwNetFlow/flowanon/segments"
	flow "github.com/bwNetFlow/protobuf/go"
)

type Csv struct {
	segments.BaseSegment
	writer     *csv.Writer
	fieldNames []string

	FileName string // optional, default is empty which means stdout
	Fields   string // optional comma-separated list of fields to export, default is "", meaning all fields
	Header   bool   // optional, default is true, write the field names as first line
}

func (segment Csv) New(config map[string]string) segments.Segment {
	newsegment := &Csv{}

	var filename string = "stdout"
	var file *os.File
	var err error
	if config["filename"] != "" {
		file, err = os.Create(config["filename"])
		if err != nil {
			log.Printf("[error] Csv: File specified in 'filename' is not accessible: %s", err)
			return nil
		}
		filename = config["filename"]
	} else {
		file = os.Stdout
		log.Println("[info] Csv: 'filename' unset, using stdout.")
	}
	newsegment.FileName = filename
	newsegment.Fields = config["fields"]

	protofields := reflect.TypeOf(flow.FlowMessage{})
	if config["fields"] != "" {
		for _, field := range strings.Split(config["fields"], ",") {
			field = strings.TrimSpace(field)
			if _, found := protofields.FieldByName(field); !found {
				log.Printf("[error] Csv: Field '%s' specified in 'fields' does not exist.", field)
				return nil
			}
			newsegment.fieldNames = append(newsegment.fieldNames, field)
		}
	} else {
		for i := 0; i < protofields.NumField(); i++ {
			field := protofields.Field(i)
			if !field.IsExported() { // protobuf state, sizeCache and unknownFields
				continue
			}
			newsegment.fieldNames = append(newsegment.fieldNames, field.Name)
		}
	}

	newsegment.Header = true
	if config["header"] != "" {
		if newsegment.Header, err = strconv.ParseBool(config["header"]); err != nil {
			log.Println("[error] Csv: Could not parse 'header' parameter.")
			return nil
		}
	}

	newsegment.writer = csv.NewWriter(file)
	if newsegment.Header {
		if err := newsegment.writer.Write(newsegment.fieldNames); err != nil {
			log.Println("[error] Csv: Failed to write to destination:", err)
			return nil
		}
		newsegment.writer.Flush()
	}

	return newsegment
}

func (segment *Csv) Run(wg *sync.WaitGroup) {
	defer func() {
		segment.writer.Flush()
		close(segment.Out)
		wg.Done()
	}()
	for msg := range segment.In {
		var record []string
		values := reflect.ValueOf(msg).Elem()
		for _, fieldname := range segment.fieldNames {
			switch value := values.FieldByName(fieldname).Interface().(type) {
			case []uint8: // this is necessary for proper formatting
				ipstring := net.IP(value).String()
				if ipstring == "<nil>" {
					ipstring = ""
				}
				record = append(record, ipstring)
			case uint32: // this is because FormatUint is much faster than Sprint
				record = append(record, strconv.FormatUint(uint64(value), 10))
			case uint64:
				if fieldname == "SrcMac" || fieldname == "DstMac" {
					record = append(record, macString(value))
				} else {
					record = append(record, strconv.FormatUint(value, 10))
				}
			case string: // this is because doing nothing is also much faster than Sprint
				record = append(record, value)
			default:
				record = append(record, fmt.Sprint(value))
			}
		}
		if err := segment.writer.Write(record); err != nil {
			log.Printf("[warning] Csv: Failed to write a flow: %v", err)
		}
		segment.Out <- msg
	}
}

// MACs are held in the lower 48 bits
func macString(mac uint64) string {
	if mac == 0 {
		return ""
	}
	hw := make(net.HardwareAddr, 6)
	for i := 5; i >= 0; i-- {
		hw[i] = byte(mac)
		mac >>= 8
	}
	return hw.String()
}

func init() {
	segment := &Csv{}
	segments.RegisterSegment("csv", segment)
}
