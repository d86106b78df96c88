package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMovingSumTrimsBoundary(t *testing.T) {
	assert.Equal(t, []float64{3, 5, 7}, MovingSum([]float64{1, 2, 3, 4}, 2))
	assert.Nil(t, MovingSum([]float64{1, 2}, 3))
}

func TestSimpleMovingAverage(t *testing.T) {
	got := SimpleMovingAverage([]float64{1, 2, 3, 4, 5}, 3)
	require.Len(t, got, 3)
	assert.InDeltaSlice(t, []float64{2, 3, 4}, got, 1e-12)
}

func TestPercentileInterpolatesLinearly(t *testing.T) {
	assert.InDelta(t, 3.4, Percentile([]float64{4, 1, 3, 2}, 80), 1e-9)
	assert.InDelta(t, 29.0, Percentile([]float64{15, 20, 35, 40, 50}, 40), 1e-9)
	assert.Equal(t, 7.0, Percentile([]float64{7}, 90))
}

func TestPercentileDoesNotReorderInput(t *testing.T) {
	values := []float64{3, 1, 2}
	Percentile(values, 50)
	assert.Equal(t, []float64{3, 1, 2}, values)
}
