package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrumentsRegisterAndCollect(t *testing.T) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(OrdersCreated, PaymentSessionsCreated, GatewayConfirms, Verifications, FollowUpDispatches, AttemptDuration)

	OrdersCreated.WithLabelValues("VIDEO", "created").Inc()
	PaymentSessionsCreated.Inc()
	GatewayConfirms.WithLabelValues("card", "CONFIRMED").Inc()
	Verifications.WithLabelValues("success").Inc()
	FollowUpDispatches.WithLabelValues("COMPLETED").Inc()
	AttemptDuration.Observe(1.5)

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}

	orders, ok := byName["checkout_orders_created_total"]
	require.True(t, ok)
	require.Len(t, orders.GetMetric(), 1)
	assert.Equal(t, float64(1), orders.GetMetric()[0].GetCounter().GetValue())

	duration, ok := byName["checkout_attempt_duration_seconds"]
	require.True(t, ok)
	assert.Equal(t, uint64(1), duration.GetMetric()[0].GetHistogram().GetSampleCount())
}
