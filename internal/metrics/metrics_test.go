package metrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/library-circulation/internal/model"
)

func TestObserveOperation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveOperation("borrow", nil)
	m.ObserveOperation("borrow", nil)
	m.ObserveOperation("borrow", fmt.Errorf("book 1: %w", model.ErrOutOfStock))
	m.ObserveOperation("borrow", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Operations.WithLabelValues("borrow", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("borrow", "OutOfStock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("borrow", "error")))
}

func TestObserveOperation_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.ObserveOperation("return", nil) })
}
