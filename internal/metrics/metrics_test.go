package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordIngestion(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordIngestion("loaded", 3, 0.5)
	m.RecordIngestion("HeaderNotIdentifier", 0, 0.1)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.filesIngestedTotal.WithLabelValues("loaded")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.filesIngestedTotal.WithLabelValues("HeaderNotIdentifier")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.rowsLoadedTotal))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordIngestion("loaded", 1, 1)
	m.RecordFetchFile("submitted")
	m.RecordUpstreamRequest("list", "200")
}

func TestDoubleRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := New(registry)
	require.NoError(t, err)
	_, err = New(registry)
	assert.Error(t, err)
}
