package vm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCoreRejectsBadPeriod(t *testing.T) {
	for _, p := range []float64{0, -1e-9, math.Inf(1), math.NaN()} {
		_, err := NewCore("core", p)
		assert.Error(t, err, "period %v", p)
	}
}

func TestSecondsToMu(t *testing.T) {
	core, err := NewCore("core", 1e-9)
	require.NoError(t, err)

	tests := []struct {
		name    string
		seconds float64
		want    MU
	}{
		{"zero", 0, 0},
		{"one tick", 1e-9, 1},
		{"literal", 20e-6, 20000},
		{"product", 20 * 1e-6, 20000},
		{"fraction truncates", 1.5e-9, 1},
		{"just below", 2.9999e-9, 2},
		{"negative truncates toward zero", -1.5e-9, -1},
		{"one second", 1, 1000000000},
		{"half second", 0.5, 500000000},
		{"large quotient truncates", 1.0000000009, 1000000000},
		{"large quotient truncates below", 0.4000000009, 400000000},
		{"large negative quotient", -1.0000000009, -1000000000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SecondsToMu(tt.seconds, core)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSecondsToMuErrors(t *testing.T) {
	core, err := NewCore("core", 1e-9)
	require.NoError(t, err)

	_, err = SecondsToMu(1, nil)
	assert.ErrorIs(t, err, NewException(UnboundDeviceError))
	_, err = SecondsToMu(1e30, core)
	assert.ErrorIs(t, err, NewException(OverflowError))
	_, err = SecondsToMu(math.NaN(), core)
	assert.ErrorIs(t, err, NewException(ValueError))
}

func TestMuToSeconds(t *testing.T) {
	core, err := NewCore("core", 8e-9)
	require.NoError(t, err)

	got, err := MuToSeconds(125, core)
	require.NoError(t, err)
	assert.InDelta(t, 1e-6, got, 1e-18)

	_, err = MuToSeconds(1, nil)
	assert.Error(t, err)
}
