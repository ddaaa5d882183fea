package anonymizer

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	e := newTestEngine(t, nil)
	anonIPv4(t, e, "10.0.0.1")
	anonIPv4(t, e, "10.0.0.2")
	_, err := e.AnonymizeASN(3320)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(e)))

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "flowanon_identifiers", families[0].GetName())

	values := map[string]float64{}
	for _, m := range families[0].GetMetric() {
		values[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
	}
	assert.Equal(t, float64(2), values["host"])
	assert.Equal(t, float64(1), values["asn"])
	assert.Equal(t, float64(0), values["mac"])
	assert.Equal(t, float64(2), values["network"], "one pool network and one /24")
}
