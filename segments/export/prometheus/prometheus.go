// Collects and serves statistics about flows. Reuses the exporter package from
// https://github.com/bwNetFlow/consumer_prometheus
//
// The default registry is served on 'metricspath' and carries the process
// metrics as well as the mapping counts of any anonymize segment configured
// with `metrics: true`. Flow data is kept in a separate registry served on
// 'flowdatapath'.
package prometheus

import (
	"log"
	"strings"
	"sync"

	"github.com/bwNetFlow/flowanon/segments"
)

var availableLabels = map[string]bool{
	"router":      true,
	"ipversion":   true,
	"application": true,
	"proto":       true,
	"src_port":    true,
	"dst_port":    true,
	"src_addr":    true,
	"dst_addr":    true,
}

type Prometheus struct {
	segments.BaseSegment
	Endpoint     string   // optional, default value is ":8080"
	MetricsPath  string   // optional, default is "/metrics"
	FlowdataPath string   // optional, default is "/flowdata"
	Labels       []string // optional, list of labels to be exported, default is "router,ipversion,application,proto"

	exporter *Exporter
}

func (segment Prometheus) New(config map[string]string) segments.Segment {
	var endpoint string = ":8080"
	if config["endpoint"] == "" {
		log.Println("[info] prometheus: Missing configuration parameter 'endpoint'. Using default port \":8080\"")
	} else {
		endpoint = config["endpoint"]
	}

	var metricsPath string = "/metrics"
	if config["metricspath"] != "" {
		metricsPath = config["metricspath"]
	}
	var flowdataPath string = "/flowdata"
	if config["flowdatapath"] != "" {
		flowdataPath = config["flowdatapath"]
	}
	if metricsPath == flowdataPath {
		log.Println("[error] prometheus: 'metricspath' and 'flowdatapath' must differ.")
		return nil
	}

	labels := []string{"router", "ipversion", "application", "proto"}
	if config["labels"] != "" {
		labels = nil
		for _, label := range strings.Split(config["labels"], ",") {
			label = strings.TrimSpace(label)
			if !availableLabels[label] {
				log.Printf("[error] prometheus: Unknown label '%s'.", label)
				return nil
			}
			labels = append(labels, label)
		}
	}

	return &Prometheus{
		Endpoint:     endpoint,
		MetricsPath:  metricsPath,
		FlowdataPath: flowdataPath,
		Labels:       labels,
		exporter:     NewExporter(labels),
	}
}

func (segment *Prometheus) Run(wg *sync.WaitGroup) {
	defer func() {
		close(segment.Out)
		wg.Done()
	}()

	server := segment.exporter.ServeEndpoints(segment)
	defer server.Close()

	for msg := range segment.In {
		segment.Out <- msg
		segment.exporter.Increment(msg)
	}
}

func init() {
	segment := &Prometheus{}
	segments.RegisterSegment("prometheus", segment)
}
