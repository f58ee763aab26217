package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGatherIncludesRegisteredCollectors(t *testing.T) {
	families, err := Gather.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestWigglerHandleUpdatesScopedMetrics(t *testing.T) {
	w := NewWiggler("primary-test")
	w.SetQueueLength(4)
	w.IncWiggleStarted()
	w.IncWiggleFinished()
	w.ObserveWiggleDuration(2 * time.Minute)

	assert.Equal(t, float64(4), testutilValue(t, wigglerQueueLength.WithLabelValues("primary-test")))
	assert.Equal(t, float64(120), testutilValue(t, WigglerWiggleDuration.WithLabelValues("primary-test")))
}

// testutilValue reads a single prometheus.Gauge/Counter's current value
// without pulling in the separate prometheus/client_golang/prometheus/testutil
// module, mirroring weed/stats' own direct-Write-based assertions.
func testutilValue(t *testing.T, m interface {
	Write(*dto.Metric) error
}) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	if out.Gauge != nil {
		return out.Gauge.GetValue()
	}
	return out.Counter.GetValue()
}
