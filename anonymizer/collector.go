package anonymizer

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes the Stats of an Engine as prometheus gauges.
type Collector struct {
	engine *Engine
	desc   *prometheus.Desc
}

// NewCollector returns a Collector for e, register it with a prometheus
// registry to have it scraped.
func NewCollector(e *Engine) *Collector {
	return &Collector{
		engine: e,
		desc: prometheus.NewDesc(
			"flowanon_identifiers",
			"Number of distinct identifiers anonymized.",
			[]string{"kind"}, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.engine.Stats()
	for kind, value := range map[string]int{
		"mac":           s.Macs,
		"mac_multicast": s.MacMulticast,
		"host":          s.Hosts,
		"multicast":     s.Multicast,
		"ipv6_host":     s.IPv6Hosts,
		"asn":           s.AsNumbers,
		"network":       s.Networks,
	} {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(value), kind)
	}
}
