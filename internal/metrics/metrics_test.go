package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncTransition("pending", "in_progress")
		m.IncMovement("delivery", "CUP")
		m.IncRejection("deliver", "insufficient_balance")
		m.IncRateResolution("USD-CUP", "manual")
		m.IncRateRefresh("primary", "failed")
		m.IncNotification("dropped")
	})
}

func TestCountersIncrement(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.IncTransition("pending", "in_progress")
	m.IncTransition("pending", "in_progress")
	m.IncRejection("withdraw", "insufficient_balance")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("pending", "in_progress")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("withdraw", "insufficient_balance")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.movements.WithLabelValues("delivery", "CUP")))
}
