package track

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// xcorBuffer holds the per-engine scratch state of the 1D cross-correlation
// estimator. It is reused across calls and is not safe for concurrent use.
type xcorBuffer struct {
	n   int
	fft *fourier.FFT

	xProf, xRev   []float64
	yProf, yRev   []float64
	xResult       []float64
	yResult       []float64
	spec, revSpec []complex128
	shiftedResult []float64
}

func newXCorBuffer(n int) *xcorBuffer {
	return &xcorBuffer{
		n:             n,
		fft:           fourier.NewFFT(n),
		xProf:         make([]float64, n),
		xRev:          make([]float64, n),
		yProf:         make([]float64, n),
		yRev:          make([]float64, n),
		xResult:       make([]float64, n),
		yResult:       make([]float64, n),
		spec:          make([]complex128, n/2+1),
		revSpec:       make([]complex128, n/2+1),
		shiftedResult: make([]float64, n),
	}
}

// correlate writes the circular cross-correlation of prof with rev into
// result, rotated by n/2 so that zero lag sits in the middle.
func (b *xcorBuffer) correlate(prof, rev, result []float64) {
	b.fft.Coefficients(b.spec, prof)
	b.fft.Coefficients(b.revSpec, rev)
	for k := range b.spec {
		b.spec[k] *= cmplx.Conj(b.revSpec[k])
	}
	b.fft.Sequence(b.shiftedResult, b.spec)

	half := b.n / 2
	for x := range result {
		result[x] = b.shiftedResult[(x+half)%b.n]
	}
}

// ComputeXCorInterpolated refines initial with the 1D cross-correlation
// method. Each iteration builds an X and a Y intensity profile of
// XCorWindow samples, correlates each with its mirror image and moves the
// estimate by half the (bias corrected) peak lag. The second return value
// reports whether the window had to be clamped to the image.
func (e *Engine) ComputeXCorInterpolated(initial Point2, iterations, profileWidth int) (Point2, bool) {
	w := e.xcorw
	if w <= 0 || w > e.img.Width || w > e.img.Height {
		return initial, true
	}
	if e.xcor == nil || e.xcor.n != w {
		e.xcor = newXCorBuffer(w)
	}
	if profileWidth > w {
		profileWidth = w
	}
	if profileWidth < 1 {
		profileWidth = 1
	}

	b := e.xcor
	pos := initial
	boundaryHit := false
	half := float64(w / 2)

	for k := 0; k < iterations; k++ {
		boundaryHit = KeepInsideBoundaries(&pos, half, e.img.Width, e.img.Height)

		xmin := pos.X - half
		ymin := pos.Y - half

		// X profile, summed over profileWidth rows around pos.Y
		for x := 0; x < w; x++ {
			s := 0.0
			xp := float64(x) + xmin
			for y := 0; y < profileWidth; y++ {
				yp := pos.Y + float64(y-profileWidth/2)
				s += e.img.Interpolate(xp, yp)
			}
			b.xProf[x] = s
			b.xRev[w-x-1] = s
		}
		b.correlate(b.xProf, b.xRev, b.xResult)
		offsetX := ComputeMaxInterp(b.xResult) - half

		// Y profile, summed over profileWidth columns around pos.X
		for y := 0; y < w; y++ {
			s := 0.0
			yp := float64(y) + ymin
			for x := 0; x < profileWidth; x++ {
				xp := pos.X + float64(x-profileWidth/2)
				s += e.img.Interpolate(xp, yp)
			}
			b.yProf[y] = s
			b.yRev[w-y-1] = s
		}
		b.correlate(b.yProf, b.yRev, b.yResult)
		offsetY := ComputeMaxInterp(b.yResult) - half

		pos.X += (offsetX - 1) * 0.5
		pos.Y += (offsetY - 1) * 0.5
	}

	return pos, boundaryHit
}

// XCorProfiles is a copy of the most recent cross-correlation working
// arrays, for diagnostics.
type XCorProfiles struct {
	XProfile, YProfile []float64
	XConv, YConv       []float64
}

// LastXCorProfiles returns the profiles and correlation curves of the last
// ComputeXCorInterpolated iteration. ok is false if the estimator never ran.
func (e *Engine) LastXCorProfiles() (p XCorProfiles, ok bool) {
	if e.xcor == nil {
		return p, false
	}
	b := e.xcor
	p.XProfile = append([]float64(nil), b.xProf...)
	p.YProfile = append([]float64(nil), b.yProf...)
	p.XConv = append([]float64(nil), b.xResult...)
	p.YConv = append([]float64(nil), b.yResult...)
	return p, true
}
