package jobmetrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NoError(t, m.Track("mail").End(nil))
	boom := errors.New("boom")
	assert.ErrorIs(t, m.Track("mail").End(boom), boom)
	assert.Error(t, m.Track("mail").End(fmt.Errorf("bad payload: %w", asynq.SkipRetry)))
	m.AddItems("prune", 3)
	m.AddItems("prune", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("mail", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("mail", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("mail", "discarded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("mail")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.items.WithLabelValues("prune")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NoError(t, m.Track("x").End(nil))
	m.AddItems("x", 2)
}
