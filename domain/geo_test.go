package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistanceZeroForSamePoint(t *testing.T) {
	assert.Equal(t, 0.0, Distance(23.8103, 90.4125, 23.8103, 90.4125))
}

func TestDistanceSymmetric(t *testing.T) {
	d1 := Distance(40.7128, -74.0060, 51.5074, -0.1278)
	d2 := Distance(51.5074, -0.1278, 40.7128, -74.0060)
	assert.Equal(t, d1, d2)
}

func TestDistanceKnownValues(t *testing.T) {
	// One degree of latitude is ~111.19 km on the spherical model.
	d := Distance(0, 0, 1, 0)
	assert.InDelta(t, 111195, d, 10)

	// New York to London, great-circle ~5570 km.
	d = Distance(40.7128, -74.0060, 51.5074, -0.1278)
	assert.InDelta(t, 5570000, d, 10000)
}

func TestDistanceNaNPropagates(t *testing.T) {
	assert.True(t, math.IsNaN(Distance(math.NaN(), 0, 1, 1)))
}
