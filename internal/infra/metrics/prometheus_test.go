package metrics

import (
	"testing"
	"time"

	"notifgate/internal/domain/notification"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus_ObserveSend(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg)

	m.ObserveSend(notification.OutcomeSent)
	m.ObserveSend(notification.OutcomeSent)
	m.ObserveSend(notification.OutcomeDenied)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.sends.WithLabelValues(notification.OutcomeSent)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sends.WithLabelValues(notification.OutcomeDenied)))
}

func TestPrometheus_ObserveRateCheck(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPrometheus(reg)

	m.ObserveRateCheck(3 * time.Millisecond)

	n, err := testutil.GatherAndCount(reg, "notifgate_rate_check_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
