package prometheus

import (
	"fmt"
	"log"
	"net"
	"net/http"

	flow "github.com/bwNetFlow/protobuf/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter provides export features to Prometheus
type Exporter struct {
	FlowReg *prometheus.Registry

	flowNumber  *prometheus.CounterVec
	flowPackets *prometheus.CounterVec
	flowBits    *prometheus.CounterVec

	labels []string
}

// Flows are stored in their own Registry, one per Exporter.
func NewExporter(labels []string) *Exporter {
	e := &Exporter{labels: labels}
	e.flowNumber = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_number_total",
			Help: "Number of Flows received.",
		}, labels)
	e.flowPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_packets",
			Help: "Number of Packets received across Flows.",
		}, labels)
	e.flowBits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flow_bits",
			Help: "Number of Bits received across Flows.",
		}, labels)

	e.FlowReg = prometheus.NewRegistry()
	e.FlowReg.MustRegister(e.flowNumber, e.flowPackets, e.flowBits)
	return e
}

// Returns the handler serving the metricsPath and flowdataPath of a segment.
func (e *Exporter) Handler(segment *Prometheus) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(segment.MetricsPath, promhttp.Handler())
	mux.Handle(segment.FlowdataPath, promhttp.HandlerFor(e.FlowReg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
			<head><title>Flow Exporter</title></head>
			<body>
			<h1>Flow Exporter</h1>
			<p><a href="` + segment.MetricsPath + `">Metrics</p>
			<p><a href="` + segment.FlowdataPath + `">Flow Data</p>
			</body>
		</html>`))
	})
	return mux
}

// listen on given endpoint addr with Handler for metricPath and flowdataPath
func (e *Exporter) ServeEndpoints(segment *Prometheus) *http.Server {
	server := &http.Server{Addr: segment.Endpoint, Handler: e.Handler(segment)}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[error] prometheus: Could not serve endpoints: %v", err)
		}
	}()
	log.Printf("[info] prometheus: Enabled %s and %s endpoints.", segment.MetricsPath, segment.FlowdataPath)
	return server
}

func (e *Exporter) Increment(msg *flow.FlowMessage) {
	labels := prometheus.Labels{}
	for _, l := range e.labels {
		switch l {
		case "router":
			labels[l] = addrString(msg.SamplerAddress)
		case "ipversion":
			labels[l] = ipVersion(msg.SrcAddr)
		case "application":
			if app := popularPort(msg.SrcPort); app != "" {
				labels[l] = app
			} else {
				labels[l] = popularPort(msg.DstPort)
			}
		case "proto":
			labels[l] = fmt.Sprint(msg.Proto)
		case "src_port":
			labels[l] = fmt.Sprint(msg.SrcPort)
		case "dst_port":
			labels[l] = fmt.Sprint(msg.DstPort)
		case "src_addr":
			labels[l] = addrString(msg.SrcAddr)
		case "dst_addr":
			labels[l] = addrString(msg.DstAddr)
		default:
			labels[l] = ""
		}
	}

	e.flowNumber.With(labels).Inc()
	e.flowPackets.With(labels).Add(float64(msg.Packets))
	e.flowBits.With(labels).Add(float64(msg.Bytes) * 8)
}

func addrString(addr []byte) string {
	if len(addr) == 0 {
		return ""
	}
	return net.IP(addr).String()
}

func ipVersion(addr []byte) string {
	switch {
	case len(addr) == 0:
		return ""
	case net.IP(addr).To4() != nil:
		return "IPv4"
	default:
		return "IPv6"
	}
}

// Well known ports stay intact under anonymization as long as the port
// floor is above them, so guessing applications still works.
func popularPort(port uint32) string {
	switch port {
	case 80:
		return "http"
	case 443:
		return "https"
	case 20, 21:
		return "ftp"
	case 22:
		return "ssh"
	case 23:
		return "telnet"
	case 53:
		return "dns"
	case 25, 465:
		return "smtp"
	case 110, 995:
		return "pop3"
	case 143, 993:
		return "imap"
	}
	return ""
}
