package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("scan").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("scan").End(boom), boom)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("scan", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("scan", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("scan")))
}

func TestCountersIgnoreEmptyAdds(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddFindings("balance", 2)
	m.AddFindings("balance", 0)
	m.AddPurged(3)
	m.AddPurged(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.findings.WithLabelValues("balance")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.purged))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.AddFindings("balance", 1)
	m.AddPurged(1)
	assert.NoError(t, m.Track("scan").End(nil))
}
