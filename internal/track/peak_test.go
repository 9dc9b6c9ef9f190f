package track

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeMaxInterp(t *testing.T) {
	t.Parallel()

	parabola := func(n int, peak float64) []float64 {
		d := make([]float64, n)
		for i := range d {
			x := float64(i) - peak
			d[i] = 10 - x*x
		}
		return d
	}

	tests := []struct {
		name string
		data []float64
		want float64
	}{
		{"integer peak", parabola(9, 4), 4},
		{"sub-sample peak", parabola(9, 3.3), 3.3},
		{"negative fraction", parabola(9, 5.8), 5.8},
		{"peak at start", []float64{5, 3, 1}, 0},
		{"peak at end", []float64{1, 3, 5}, 2},
		{"flat", []float64{2, 2, 2, 2}, 0},
		{"single", []float64{7}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ComputeMaxInterp(tt.data), 1e-9)
		})
	}
}

func TestKeepInsideBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		in     Point2
		want   Point2
		radius float64
		hit    bool
	}{
		{"inside", Point2{20, 20}, Point2{20, 20}, 10, false},
		{"left", Point2{3, 20}, Point2{10, 20}, 10, true},
		{"top", Point2{20, -5}, Point2{20, 10}, 10, true},
		{"right", Point2{35, 20}, Point2{29, 20}, 10, true},
		{"bottom right", Point2{39, 39}, Point2{29, 29}, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.in
			hit := KeepInsideBoundaries(&p, tt.radius, 40, 40)
			assert.Equal(t, tt.hit, hit)
			assert.Equal(t, tt.want, p)
		})
	}
}
