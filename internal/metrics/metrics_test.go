package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Adjustments.WithLabelValues(ResultOK).Inc()
	m.WriteConflicts.Add(3)
	m.Purchases.WithLabelValues(ResultFailed).Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Adjustments.WithLabelValues(ResultOK)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.WriteConflicts))

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "inventory_adjustments_total")
	assert.Contains(t, names, "inventory_write_conflicts_total")
	assert.Contains(t, names, "inventory_purchases_total")
}

func TestNew_TwiceOnOneRegistryPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestNew_NilRegisterer(t *testing.T) {
	assert.NotPanics(t, func() {
		New(nil)
		New(nil)
	})
}
