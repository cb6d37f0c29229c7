package dvbrx

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsDiagnostics(t *testing.T) {
	var m = NewMetrics()
	var d Diagnostics = m

	d.LockState("mpeg", true)
	d.LockTime("mpeg", 42)
	assert.InDelta(t, 1, testutil.ToFloat64(m.locked.WithLabelValues("mpeg")), 0)
	assert.InDelta(t, 42, testutil.ToFloat64(m.lockPackets.WithLabelValues("mpeg")), 0)
	d.LockState("mpeg", false)
	assert.InDelta(t, 0, testutil.ToFloat64(m.locked.WithLabelValues("mpeg")), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.lockPackets.WithLabelValues("mpeg")), 0)

	d.Corrected("rs", 3)
	d.Corrected("rs", 2)
	d.Corrected("rs", -1)
	assert.InDelta(t, 3, testutil.ToFloat64(m.blocks.WithLabelValues("rs")), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(m.corrected.WithLabelValues("rs")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.failed.WithLabelValues("rs")), 0)

	d.PLErrors(2, 90)
	d.PLErrors(0, 90)
	assert.InDelta(t, 2, testutil.ToFloat64(m.plErrors), 0)
	assert.InDelta(t, 180, testutil.ToFloat64(m.plBits), 0)

	d.MER(12.5)
	d.Frequency(0.01)
	d.Constellation(make([]complex64, 7))
	m.TSPackets(10)
	assert.InDelta(t, 12.5, testutil.ToFloat64(m.mer), 1e-6)
	assert.InDelta(t, 0.01, testutil.ToFloat64(m.frequency), 1e-6)
	assert.InDelta(t, 7, testutil.ToFloat64(m.cstlnPoints), 0)
	assert.InDelta(t, 10, testutil.ToFloat64(m.tsPackets), 0)
}

func TestMetricsHandler(t *testing.T) {
	var m = NewMetrics()
	m.MER(9)
	var rec = httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	var body = rec.Body.String()
	assert.True(t, strings.Contains(body, "dvbrx_mer_db 9"), body)
	assert.Contains(t, body, "# HELP dvbrx_ts_packets_total")
}
