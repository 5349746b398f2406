package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProxy_Saturation_WithinUnitRange(t *testing.T) {
	p := NewProxy(4)
	sat := p.Saturation()
	assert.GreaterOrEqual(t, sat, 0.0)
	assert.LessOrEqual(t, sat, 1.0)
}

func TestProxy_Saturation_ReflectsInFlightOccupancy(t *testing.T) {
	p := NewProxy(2)
	base := p.Saturation()

	releaseA := p.Acquire()
	releaseB := p.Acquire()
	loaded := p.Saturation()
	assert.Greater(t, loaded, base-1e-9) // occupancy component should not decrease saturation

	releaseA()
	releaseB()
	after := p.Saturation()
	assert.LessOrEqual(t, after, loaded+1e-9)
}

func TestProxy_NewProxy_ClampsNonPositiveCapacityToOne(t *testing.T) {
	p := NewProxy(0)
	assert.Equal(t, int64(1), p.capacity)
}
