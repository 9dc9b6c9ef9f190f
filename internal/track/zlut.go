package track

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// CompareMode selects how a sample profile is scored against ZLUT planes.
type CompareMode int

const (
	// CompareSpatial scores by negative sum of squared bin differences.
	CompareSpatial CompareMode = iota
	// CompareFourier scores by negative sum of absolute differences of the
	// real parts of the profiles' Fourier transforms.
	CompareFourier
)

func (m CompareMode) String() string {
	if m == CompareFourier {
		return "fourier"
	}
	return "spatial"
}

// ZLUT is a calibration stack: for each bead, Planes reference radial
// profiles of RadialSteps bins each. Data is laid out
// [bead][plane][bin]. A ZLUT is read-only once built and may be shared by
// many engines.
type ZLUT struct {
	Count        int
	Planes       int
	RadialSteps  int
	MinRadius    float64
	MaxRadius    float64
	AngularSteps int
	Mode         CompareMode

	data  []float64
	owned bool

	// real part of the transform of every plane, CompareFourier only
	fourierRe []float64
}

// NewZLUT validates and wraps calibration data. With copyData false the
// slice is retained and the caller must not modify it while the ZLUT is
// in use. Fourier comparison always copies.
func NewZLUT(data []float64, count, planes, radialSteps int, minRadius, maxRadius float64, angularSteps int, mode CompareMode, copyData bool) (*ZLUT, error) {
	if count <= 0 || planes <= 0 || radialSteps <= 0 {
		return nil, invalidArgf("ZLUT dimensions must be positive, got %dx%dx%d", count, planes, radialSteps)
	}
	if len(data) != count*planes*radialSteps {
		return nil, invalidArgf("ZLUT data has %d values, want %d", len(data), count*planes*radialSteps)
	}
	if maxRadius <= minRadius || minRadius < 0 {
		return nil, invalidArgf("ZLUT radius range [%g, %g] is empty", minRadius, maxRadius)
	}
	if angularSteps <= 0 {
		return nil, invalidArgf("ZLUT angular steps must be positive, got %d", angularSteps)
	}

	if mode == CompareFourier {
		copyData = true
	}
	z := &ZLUT{
		Count:        count,
		Planes:       planes,
		RadialSteps:  radialSteps,
		MinRadius:    minRadius,
		MaxRadius:    maxRadius,
		AngularSteps: angularSteps,
		Mode:         mode,
		owned:        copyData,
	}
	if copyData {
		z.data = append([]float64(nil), data...)
	} else {
		z.data = data
	}

	if mode == CompareFourier {
		fft := fourier.NewCmplxFFT(radialSteps)
		src := make([]complex128, radialSteps)
		dst := make([]complex128, radialSteps)
		z.fourierRe = make([]float64, len(z.data))
		for i := 0; i < count*planes; i++ {
			plane := z.data[i*radialSteps : (i+1)*radialSteps]
			for r, v := range plane {
				src[r] = complex(v, 0)
			}
			fft.Coefficients(dst, src)
			for r, c := range dst {
				z.fourierRe[i*radialSteps+r] = real(c)
			}
		}
	}
	return z, nil
}

// Size returns the bead count, plane count and radial resolution.
func (z *ZLUT) Size() (count, planes, radialSteps int) {
	return z.Count, z.Planes, z.RadialSteps
}

// Plane returns the reference profile of one bead at one plane. The
// returned slice aliases the ZLUT and must not be modified.
func (z *ZLUT) Plane(bead, plane int) []float64 {
	off := (bead*z.Planes + plane) * z.RadialSteps
	return z.data[off : off+z.RadialSteps]
}

// Data returns a copy of the full calibration data.
func (z *ZLUT) Data() []float64 {
	return append([]float64(nil), z.data...)
}

// OwnsData reports whether the ZLUT holds its own copy of the data.
func (z *ZLUT) OwnsData() bool { return z.owned }

// ZEstimate is the outcome of an axial estimate.
type ZEstimate struct {
	Z           float64
	BoundaryHit bool
}

// ZDiagnostics carries the intermediate arrays of an axial estimate.
type ZDiagnostics struct {
	Profile []float64 // sample radial profile
	Scores  []float64 // similarity score per plane
}

// SetZLUT installs a calibration stack, replacing any previous one. nil
// removes it.
func (e *Engine) SetZLUT(z *ZLUT) {
	e.zlut = z
	if z != nil && z.Mode == CompareFourier && (e.zfft == nil || e.zfft.Len() != z.RadialSteps) {
		e.zfft = fourier.NewCmplxFFT(z.RadialSteps)
	}
}

// ZLUT returns the installed calibration stack, if any.
func (e *Engine) ZLUT() (*ZLUT, bool) {
	return e.zlut, e.zlut != nil
}

// ComputeRadialProfile samples the mean intensity on radialSteps circles
// between minRadius and maxRadius around center, using angularSteps
// directions over the full turn, and normalizes the result to unit sum.
// The centre is clamped first; the return value reports whether that was
// needed.
func (e *Engine) ComputeRadialProfile(dst []float64, angularSteps int, minRadius, maxRadius float64, center Point2) bool {
	boundaryHit := KeepInsideBoundaries(&center, maxRadius, e.img.Width, e.img.Height)

	if len(e.radialDirs) != angularSteps {
		e.radialDirs = make([]Point2, angularSteps)
		for j := range e.radialDirs {
			ang := 2 * math.Pi * float64(j) / float64(angularSteps)
			e.radialDirs[j] = Point2{X: math.Cos(ang), Y: math.Sin(ang)}
		}
	}

	rstep := (maxRadius - minRadius) / float64(len(dst))
	for i := range dst {
		r := minRadius + rstep*float64(i)
		sum := 0.0
		for _, d := range e.radialDirs {
			sum += e.img.Interpolate(center.X+d.X*r, center.Y+d.Y*r)
		}
		dst[i] = sum / float64(angularSteps)
	}
	normalizeSum(dst)
	return boundaryHit
}

// ComputeZ estimates the axial position of the bead at center against
// the bead's calibration stack. Without a ZLUT it returns Z = 0.
func (e *Engine) ComputeZ(center Point2, bead int) ZEstimate {
	est, _ := e.computeZ(center, bead, false)
	return est
}

// ComputeZDiagnostics is ComputeZ that also returns copies of the sample
// profile and the per-plane scores.
func (e *Engine) ComputeZDiagnostics(center Point2, bead int) (ZEstimate, ZDiagnostics) {
	return e.computeZ(center, bead, true)
}

func (e *Engine) computeZ(center Point2, bead int, diag bool) (ZEstimate, ZDiagnostics) {
	z := e.zlut
	if z == nil || bead < 0 || bead >= z.Count {
		return ZEstimate{}, ZDiagnostics{}
	}

	if cap(e.rprof) < z.RadialSteps {
		e.rprof = make([]float64, z.RadialSteps)
	}
	if cap(e.zscores) < z.Planes {
		e.zscores = make([]float64, z.Planes)
	}
	rprof := e.rprof[:z.RadialSteps]
	scores := e.zscores[:z.Planes]

	hit := e.ComputeRadialProfile(rprof, z.AngularSteps, z.MinRadius, z.MaxRadius, center)

	if z.Mode == CompareFourier {
		e.scoreFourier(rprof, scores, bead)
	} else {
		for k := range scores {
			lut := z.Plane(bead, k)
			diffsum := 0.0
			for r, v := range rprof {
				d := v - lut[r]
				diffsum += d * d
			}
			scores[k] = -diffsum
		}
	}

	est := ZEstimate{Z: ComputeMaxInterp(scores), BoundaryHit: hit}
	if !diag {
		return est, ZDiagnostics{}
	}
	return est, ZDiagnostics{
		Profile: append([]float64(nil), rprof...),
		Scores:  append([]float64(nil), scores...),
	}
}

func (e *Engine) scoreFourier(rprof, scores []float64, bead int) {
	z := e.zlut
	n := z.RadialSteps
	if e.zfft == nil || e.zfft.Len() != n {
		e.zfft = fourier.NewCmplxFFT(n)
	}
	if len(e.zsrc) != n {
		e.zsrc = make([]complex128, n)
		e.zspec = make([]complex128, n)
	}
	for r, v := range rprof {
		e.zsrc[r] = complex(v, 0)
	}
	e.zfft.Coefficients(e.zspec, e.zsrc)

	for k := range scores {
		off := (bead*z.Planes + k) * n
		lutRe := z.fourierRe[off : off+n]
		diffsum := 0.0
		for r, c := range e.zspec {
			diffsum += math.Abs(lutRe[r] - real(c))
		}
		scores[k] = -diffsum
	}
}
