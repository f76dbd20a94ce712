package climate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithinWindow(t *testing.T) {
	tests := []struct {
		name      string
		target    int
		halfwidth int
		days      []int
		want      []bool
	}{
		{"mid year", 10, 5, []int{1, 5, 10, 15, 20}, []bool{false, true, true, true, false}},
		{"wraps at year start", 1, 3, []int{360, 365, 1, 3, 10}, []bool{false, true, true, true, false}},
		{"wraps at year end", 365, 3, []int{361, 362, 366, 1, 2, 3}, []bool{false, true, true, true, true, false}},
		{"zero halfwidth", 100, 0, []int{99, 100, 101}, []bool{false, true, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := make([]bool, len(tt.days))
			for i, d := range tt.days {
				got[i] = WithinWindow(d, tt.target, tt.halfwidth)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCircularDistance(t *testing.T) {
	tests := []struct {
		a, b, want int
	}{
		{10, 10, 0},
		{10, 20, 10},
		{20, 10, 10},
		{1, 366, 1},
		{5, 362, 9},
		{1, 184, 183},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CircularDistance(tt.a, tt.b), "distance(%d, %d)", tt.a, tt.b)
	}
	assert.True(t, WithinDistance(3, 360, 9))
	assert.False(t, WithinDistance(3, 360, 8))
}
