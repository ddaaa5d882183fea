// Drops fields from any passing flow. Used for fields the anonymize segment
// does not handle, such as interface names or customer ids.
package dropfields

import (
	"log"
	"reflect"
	"strings"
	"sync"

	"github.com/bwNetFlow/flowanon/segments"
	flow "github.com/bwNetFlow/protobuf/go"
)

type DropFields struct {
	segments.BaseSegment
	Policy string   // required, options are 'keep' or 'drop'
	Fields []string // optional, default is empty, determines which fields are kept/dropped
}

func (segment DropFields) New(config map[string]string) segments.Segment {
	if !(config["policy"] == "keep" || config["policy"] == "drop") {
		log.Println("[error] DropFields: The 'policy' parameter is required to be either 'keep' or 'drop'.")
		return nil
	}
	if config["fields"] == "" {
		log.Println("[warning] DropFields: This segment is probably misconfigured, the 'fields' parameter should not be empty.")
	}

	var fields []string
	msgType := reflect.TypeOf(flow.FlowMessage{})
	for _, field := range strings.Split(config["fields"], ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if _, found := msgType.FieldByName(field); !found {
			log.Printf("[error] DropFields: Field '%s' does not exist.", field)
			return nil
		}
		fields = append(fields, field)
	}

	return &DropFields{
		Policy: config["policy"],
		Fields: fields,
	}
}

func (segment *DropFields) Run(wg *sync.WaitGroup) {
	defer func() {
		close(segment.Out)
		wg.Done()
	}()
	for original := range segment.In {
		reflected_original := reflect.ValueOf(original).Elem()
		switch segment.Policy {
		case "keep":
			reduced := &flow.FlowMessage{}
			reflected_reduced := reflect.ValueOf(reduced).Elem()
			for _, fieldname := range segment.Fields {
				reflected_reduced.FieldByName(fieldname).Set(reflected_original.FieldByName(fieldname))
			}
			segment.Out <- reduced
		case "drop":
			for _, fieldname := range segment.Fields {
				original_field := reflected_original.FieldByName(fieldname)
				original_field.Set(reflect.Zero(original_field.Type()))
			}
			segment.Out <- original
		}
	}
}

func init() {
	segment := &DropFields{}
	segments.RegisterSegment("dropfields", segment)
}
