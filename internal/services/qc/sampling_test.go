package qc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSampleValue_Deterministic(t *testing.T) {
	a := SampleValue(12, 3, 481)
	b := SampleValue(12, 3, 481)
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, 0.0)
	assert.Less(t, a, 1.0)

	assert.NotEqual(t, SampleValue(12, 3, 481), SampleValue(12, 3, 482))
	assert.NotEqual(t, SampleValue(12, 3, 481), SampleValue(3, 12, 481))
}

func TestSelected_Bounds(t *testing.T) {
	for ti := uint(1); ti <= 50; ti++ {
		assert.True(t, Selected(1, 1, ti, 1.0))
		assert.False(t, Selected(1, 1, ti, 0.0))
	}
}

func TestSelected_RoughlyMatchesRate(t *testing.T) {
	selected := 0
	for ti := uint(1); ti <= 1000; ti++ {
		if Selected(7, 2, ti, 0.3) {
			selected++
		}
	}
	assert.InDelta(t, 300, selected, 100)
}

func TestSelected_MonotonicInRate(t *testing.T) {
	for ti := uint(1); ti <= 200; ti++ {
		if Selected(4, 9, ti, 0.2) {
			assert.True(t, Selected(4, 9, ti, 0.5), "instance %d", ti)
		}
	}
}

func TestTunedRate(t *testing.T) {
	tests := []struct {
		name      string
		base      float64
		effective float64
		step      float64
		passed    bool
		want      float64
	}{
		{"fail resets", 0.2, 0.35, 0.1, false, 1.0},
		{"fail at full rate", 0.2, 1.0, 0.1, false, 1.0},
		{"pass steps down", 0.2, 1.0, 0.1, true, 0.9},
		{"pass floors at base", 0.2, 0.25, 0.1, true, 0.2},
		{"pass at base", 0.2, 0.2, 0.1, true, 0.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tunedRate(tt.base, tt.effective, tt.step, tt.passed), 1e-9)
		})
	}
}
