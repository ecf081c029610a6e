package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.LinesSent.WithLabelValues(FramingChecksum).Inc()
	m.LinesSent.WithLabelValues(FramingChecksum).Inc()
	m.Resends.Inc()
	m.State.Set(5)

	require.Equal(t, 2.0, testutil.ToFloat64(m.LinesSent.WithLabelValues(FramingChecksum)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Resends))
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP grblcomm_machine_state Current protocol state number.
# TYPE grblcomm_machine_state gauge
grblcomm_machine_state 5
`), "grblcomm_machine_state"))

	require.Panics(t, func() { New(reg) })
}
