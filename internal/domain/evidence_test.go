package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPhase(t *testing.T) {
	tests := []struct {
		name      string
		returnPct float64
		band      float64
		want      ArchivePhase
	}{
		{"clear_profit", 12.5, 2.0, PhaseProfit},
		{"clear_loss", -10.0, 2.0, PhaseLoss},
		{"flat_zero", 0.0, 2.0, PhaseFlat},
		{"flat_inside_band_positive", 1.9, 2.0, PhaseFlat},
		{"flat_inside_band_negative", -1.9, 2.0, PhaseFlat},
		{"flat_on_band_edge", 2.0, 2.0, PhaseFlat},
		{"profit_just_outside_band", 2.01, 2.0, PhaseProfit},
		{"zero_band_loss", -0.01, 0.0, PhaseLoss},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyPhase(tt.returnPct, tt.band))
		})
	}
}

func TestReturnPct(t *testing.T) {
	assert.InDelta(t, -10.0, ReturnPct(10000, 9000), 0.001)
	assert.InDelta(t, 5.0, ReturnPct(10000, 10500), 0.001)
	assert.InDelta(t, 0.0, ReturnPct(10000, 10000), 0.001)
	assert.Equal(t, 0.0, ReturnPct(0, 123))
}
