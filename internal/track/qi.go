package track

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// quadrantSigns gives the (x, y) direction signs of the four quadrants.
// The composite profiles in ComputeQI depend on this order: q1,q2 lie at
// negative x and q0,q3 at positive x; q0,q1 lie at negative y and q2,q3
// at positive y.
var quadrantSigns = [4][2]float64{
	{1, -1},
	{-1, -1},
	{-1, 1},
	{1, 1},
}

// qiBuffer is the scratch state of the quadrant interpolation estimator.
type qiBuffer struct {
	radialSteps int
	fft         *fourier.FFT

	quadrants [4][]float64
	concat    []float64
	reverse   []float64
	autoconv  []float64
	shifted   []float64
	spec      []complex128
	revSpec   []complex128
}

func newQIBuffer(radialSteps int) *qiBuffer {
	n := radialSteps * 2
	b := &qiBuffer{
		radialSteps: radialSteps,
		fft:         fourier.NewFFT(n),
		concat:      make([]float64, n),
		reverse:     make([]float64, n),
		autoconv:    make([]float64, n),
		shifted:     make([]float64, n),
		spec:        make([]complex128, n/2+1),
		revSpec:     make([]complex128, n/2+1),
	}
	for q := range b.quadrants {
		b.quadrants[q] = make([]float64, radialSteps)
	}
	return b
}

// ComputeQI refines initial with quadrant interpolation. Each quadrant
// around the current centre yields a radial profile; left/right and
// top/bottom pairs are joined into two symmetric profiles whose
// self-correlation peak gives the offset along each axis.
func (e *Engine) ComputeQI(initial Point2, iterations, radialSteps, angularStepsPerQ int, minRadius, maxRadius float64) (Point2, bool) {
	if float64(e.img.Width) < maxRadius || float64(e.img.Height) < maxRadius {
		return initial, true
	}
	if radialSteps < 1 || angularStepsPerQ < 1 {
		return initial, false
	}

	if len(e.quadrantDirs) != angularStepsPerQ {
		e.quadrantDirs = make([]Point2, angularStepsPerQ)
		for j := range e.quadrantDirs {
			ang := 0.5 * math.Pi * float64(j) / float64(angularStepsPerQ)
			e.quadrantDirs[j] = Point2{X: math.Cos(ang), Y: math.Sin(ang)}
		}
	}
	if e.qi == nil || e.qi.radialSteps != radialSteps {
		e.qi = newQIBuffer(radialSteps)
	}

	b := e.qi
	nr := radialSteps
	q0, q1, q2, q3 := b.quadrants[0], b.quadrants[1], b.quadrants[2], b.quadrants[3]
	pixelsPerProfLen := (maxRadius - minRadius) / float64(radialSteps)

	center := initial
	boundaryHit := false
	for k := 0; k < iterations; k++ {
		boundaryHit = KeepInsideBoundaries(&center, maxRadius, e.img.Width, e.img.Height)

		for q := range b.quadrants {
			e.quadrantProfile(b.quadrants[q], q, minRadius, maxRadius, center)
		}

		// X: left half (q1+q2) reversed, then right half (q0+q3)
		for r := 0; r < nr; r++ {
			b.concat[nr-r-1] = q1[r] + q2[r]
			b.concat[nr+r] = q0[r] + q3[r]
		}
		offsetX := b.offset()

		// Y: lower half (q0+q1) reversed, then upper half (q2+q3)
		for r := 0; r < nr; r++ {
			b.concat[nr-r-1] = q0[r] + q1[r]
			b.concat[nr+r] = q2[r] + q3[r]
		}
		offsetY := b.offset()

		center.X += offsetX * pixelsPerProfLen
		center.Y += offsetY * pixelsPerProfLen
	}

	return center, boundaryHit
}

// offset returns the signed displacement, in profile bins, of the symmetry
// centre of b.concat from its midpoint.
func (b *qiBuffer) offset() float64 {
	n := len(b.concat)
	nr := b.radialSteps
	for x := range b.concat {
		b.reverse[x] = b.concat[n-1-x]
	}

	b.fft.Coefficients(b.spec, b.concat)
	b.fft.Coefficients(b.revSpec, b.reverse)
	for k := range b.spec {
		b.spec[k] *= cmplx.Conj(b.revSpec[k])
	}
	b.fft.Sequence(b.shifted, b.spec)
	for x := range b.autoconv {
		b.autoconv[x] = b.shifted[(x+nr)%n]
	}

	maxPos := ComputeMaxInterp(b.autoconv)
	return (maxPos - float64(nr)) / (math.Pi * 0.5)
}

// quadrantProfile samples one quadrant's radial profile into dst and
// normalizes it to unit sum.
func (e *Engine) quadrantProfile(dst []float64, quadrant int, minRadius, maxRadius float64, center Point2) {
	mx := quadrantSigns[quadrant][0]
	my := quadrantSigns[quadrant][1]
	rstep := (maxRadius - minRadius) / float64(len(dst))

	for i := range dst {
		r := minRadius + rstep*float64(i)
		sum := 0.0
		for _, d := range e.quadrantDirs {
			sum += e.img.Interpolate(center.X+mx*d.X*r, center.Y+my*d.Y*r)
		}
		dst[i] = sum
	}
	normalizeSum(dst)
}

// normalizeSum scales v to unit sum; an all-zero profile is left as is.
func normalizeSum(v []float64) {
	total := floats.Sum(v)
	if total == 0 {
		return
	}
	floats.Scale(1/total, v)
}
