package pipeline

import (
	"flag"
	"log"
	"os"
	"strconv"

	"github.com/bwNetFlow/flowanon/segments"
	"gopkg.in/yaml.v2"
)

// A single entry of a pipeline configuration file.
type SegmentRepr struct {
	Name   string            `yaml:"segment"` // to be looked up with a registry
	Config map[string]string `yaml:"config"`  // to be expanded by our instance
}

// Returns the segment config with $0, $1, ... replaced by the positional
// command line arguments and any other $VAR by the environment.
func (s *SegmentRepr) ExpandedConfig() map[string]string {
	argvMapper := func(placeholderName string) string {
		argnum, err := strconv.Atoi(placeholderName)
		if err == nil && argnum < len(flag.Args()) {
			return flag.Args()[argnum]
		}
		return ""
	}
	expandedConfig := make(map[string]string)
	for k, v := range s.Config {
		expandedConfig[k] = os.Expand(v, argvMapper) // try to convert $n and such to argv[n]
		if expandedConfig[k] == "" && v != "" {      // if unsuccessful, do regular env expansion
			expandedConfig[k] = os.ExpandEnv(v)
		}
	}
	return expandedConfig
}

// Parses a yaml list of segment definitions and instantiates them. Any
// segment failing to initialize terminates the process.
func SegmentListFromConfig(config []byte) []segments.Segment {
	var pipelineRepr []SegmentRepr
	if err := yaml.Unmarshal(config, &pipelineRepr); err != nil {
		log.Fatalf("[error] Pipeline: Could not parse configuration: %v", err)
	}

	segmentList := make([]segments.Segment, len(pipelineRepr))
	for i, segmentrepr := range pipelineRepr {
		segmenttype := segments.LookupSegment(segmentrepr.Name) // a typed nil instance
		// the Segment's New method knows how to handle our config
		segment := segmenttype.New(segmentrepr.ExpandedConfig())
		if segment == nil {
			log.Fatalf("[error] Pipeline: Configured segment '%s' could not be initialized properly, see previous messages.", segmentrepr.Name)
		}
		segmentList[i] = segment
	}
	return segmentList
}

// Builds and starts a Pipeline from a yaml configuration.
func NewFromConfig(config []byte) *Pipeline {
	pipeline := New(SegmentListFromConfig(config)...)
	pipeline.Start()
	return pipeline
}
