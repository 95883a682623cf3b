package jobmetrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerCountsSuccessAndFailure(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("fx:revaluation").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("fx:revaluation").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("fx:revaluation", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("fx:revaluation", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("fx:revaluation")))
}

func TestAddRateGaps(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddRateGaps("1000", 2)
	m.AddRateGaps("1000", 0)
	require.Equal(t, 2.0, testutil.ToFloat64(m.rateGaps.WithLabelValues("1000")))

	var nilMetrics *Metrics
	nilMetrics.AddRateGaps("1000", 1)
	require.NoError(t, nilMetrics.Track("noop").End(nil))
}

func TestTrackerDeferredIsNotAFailure(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	busy := fmt.Errorf("%w: period locked", ErrDeferred)
	require.ErrorIs(t, m.Track("fx:revaluation").End(busy), ErrDeferred)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("fx:revaluation", "deferred")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.failures.WithLabelValues("fx:revaluation")))
}
