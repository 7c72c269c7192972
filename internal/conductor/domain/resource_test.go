package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryPressureOrdering(t *testing.T) {
	assert.True(t, PressureNone < PressureLow)
	assert.True(t, PressureLow < PressureMedium)
	assert.True(t, PressureMedium < PressureHigh)
	assert.True(t, PressureHigh < PressureCritical)
}

func TestMemoryPressureDecisions(t *testing.T) {
	assert.True(t, PressureNone.IsHealthy())
	assert.True(t, PressureLow.IsHealthy())
	assert.False(t, PressureMedium.IsHealthy())

	assert.False(t, PressureMedium.ShouldScaleDown())
	assert.True(t, PressureHigh.ShouldScaleDown())
	assert.True(t, PressureCritical.ShouldScaleDown())

	assert.True(t, PressureLow.CanScaleUp())
	assert.False(t, PressureMedium.CanScaleUp())
}
