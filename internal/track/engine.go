package track

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Settings configures the estimators run by Engine.Localize. Zero values
// are replaced by defaults in WithDefaults.
type Settings struct {
	Width  int `json:"width" toml:"width"`
	Height int `json:"height" toml:"height"`

	XCor1DProfileLength int `json:"xcor1d_profile_length" toml:"xcor1d_profile_length"` // correlation window, samples
	XCor1DProfileWidth  int `json:"xcor1d_profile_width" toml:"xcor1d_profile_width"`
	XCor1DIterations    int `json:"xcor1d_iterations" toml:"xcor1d_iterations"`

	QIIterations          int     `json:"qi_iterations" toml:"qi_iterations"`
	QIRadialSteps         int     `json:"qi_radial_steps" toml:"qi_radial_steps"`
	QIAngStepsPerQuadrant int     `json:"qi_ang_steps_per_quadrant" toml:"qi_ang_steps_per_quadrant"`
	QIMinRadius           float64 `json:"qi_min_radius" toml:"qi_min_radius"`
	QIMaxRadius           float64 `json:"qi_max_radius" toml:"qi_max_radius"`

	ZLUTRadialSteps  int     `json:"zlut_radial_steps" toml:"zlut_radial_steps"`
	ZLUTAngularSteps int     `json:"zlut_angular_steps" toml:"zlut_angular_steps"`
	ZLUTMinRadius    float64 `json:"zlut_min_radius" toml:"zlut_min_radius"`
	ZLUTMaxRadius    float64 `json:"zlut_max_radius" toml:"zlut_max_radius"`
}

// WithDefaults returns a copy of s with unset fields derived from the ROI size.
func (s Settings) WithDefaults() Settings {
	if s.XCor1DProfileLength == 0 {
		s.XCor1DProfileLength = 64
		if s.Width > 0 && s.Width < s.XCor1DProfileLength {
			s.XCor1DProfileLength = s.Width
		}
	}
	if s.XCor1DProfileWidth == 0 {
		s.XCor1DProfileWidth = 32
	}
	if s.XCor1DIterations == 0 {
		s.XCor1DIterations = 2
	}
	if s.QIIterations == 0 {
		s.QIIterations = 2
	}
	if s.QIMaxRadius == 0 && s.Width > 0 {
		s.QIMaxRadius = float64(min(s.Width, s.Height)) / 2 * 0.8
	}
	if s.QIRadialSteps == 0 {
		s.QIRadialSteps = 32
	}
	if s.QIAngStepsPerQuadrant == 0 {
		s.QIAngStepsPerQuadrant = 32
	}
	if s.ZLUTMaxRadius == 0 {
		s.ZLUTMaxRadius = s.QIMaxRadius
	}
	if s.ZLUTRadialSteps == 0 {
		s.ZLUTRadialSteps = s.QIRadialSteps
	}
	if s.ZLUTAngularSteps == 0 {
		s.ZLUTAngularSteps = 4 * s.QIAngStepsPerQuadrant
	}
	return s
}

// Validate checks that the settings describe a usable ROI.
func (s Settings) Validate() error {
	if s.Width <= 0 || s.Height <= 0 {
		return invalidArgf("ROI size %dx%d must be positive", s.Width, s.Height)
	}
	if s.QIMinRadius < 0 || s.QIMaxRadius <= s.QIMinRadius {
		return invalidArgf("QI radius range [%g, %g] is empty", s.QIMinRadius, s.QIMaxRadius)
	}
	if s.ZLUTMinRadius < 0 || s.ZLUTMaxRadius <= s.ZLUTMinRadius {
		return invalidArgf("ZLUT radius range [%g, %g] is empty", s.ZLUTMinRadius, s.ZLUTMaxRadius)
	}
	return nil
}

// Engine owns one ROI image buffer and the scratch state of every
// estimator. Its buffers are reused from call to call, so an Engine must
// not be shared between goroutines; give each worker its own.
type Engine struct {
	img   ImageData
	xcorw int

	xcor *xcorBuffer

	quadrantDirs []Point2
	qi           *qiBuffer

	radialDirs []Point2
	zlut       *ZLUT
	zfft       *fourier.CmplxFFT
	zsrc       []complex128
	zspec      []complex128
	rprof      []float64
	zscores    []float64
}

// NewEngine creates an engine for width x height ROIs using a
// cross-correlation window of xcorWindow samples.
func NewEngine(width, height, xcorWindow int) (*Engine, error) {
	if width <= 0 || height <= 0 {
		return nil, invalidArgf("ROI size %dx%d must be positive", width, height)
	}
	if xcorWindow < 0 {
		return nil, invalidArgf("xcor window %d must not be negative", xcorWindow)
	}
	return &Engine{
		img:   NewImageData(width, height),
		xcorw: xcorWindow,
	}, nil
}

// Width returns the ROI width.
func (e *Engine) Width() int { return e.img.Width }

// Height returns the ROI height.
func (e *Engine) Height() int { return e.img.Height }

// Image exposes the engine's current image. The pixels alias the
// engine's buffer.
func (e *Engine) Image() ImageData { return e.img }

// SetImage decodes a raw pitched buffer into the engine's image. A pitch
// of zero means tightly packed rows.
func (e *Engine) SetImage(data []byte, pitch int, format PixelFormat) error {
	return decodePixels(e.img.Pix, e.img.Width, e.img.Height, data, pitch, format)
}

// SetImageFloat copies a width*height float image into the engine.
func (e *Engine) SetImageFloat(src []float64) error {
	if len(src) != len(e.img.Pix) {
		return invalidArgf("image has %d pixels, want %d", len(src), len(e.img.Pix))
	}
	copy(e.img.Pix, src)
	return nil
}

// Normalize rescales the current image to [0, 1].
func (e *Engine) Normalize() { e.img.Normalize() }

// ComputeBgCorrectedCOM returns the background-corrected centre of mass of
// the current image.
func (e *Engine) ComputeBgCorrectedCOM() Point2 { return e.img.BgCorrectedCOM() }

// Localize runs the estimators selected by job.Mode on the current image.
// A NaN initial position falls back to the centre of mass guess.
func (e *Engine) Localize(job LocalizationJob, s Settings) LocalizationResult {
	res := LocalizationResult{Job: job}

	var guess Point2
	if job.Mode&LocalizeFromInitial != 0 && !math.IsNaN(job.InitialPos.X) && !math.IsNaN(job.InitialPos.Y) {
		guess = job.InitialPos.XY()
	} else {
		guess = e.ComputeBgCorrectedCOM()
	}
	res.FirstGuess = guess

	pos := guess
	switch job.Mode.Mode2D() {
	case LocalizeXCor1D:
		var hit bool
		pos, hit = e.ComputeXCorInterpolated(guess, s.XCor1DIterations, s.XCor1DProfileWidth)
		if hit {
			res.BoundaryHit |= StageXCor
		}
	case LocalizeQI:
		var hit bool
		pos, hit = e.ComputeQI(guess, s.QIIterations, s.QIRadialSteps, s.QIAngStepsPerQuadrant, s.QIMinRadius, s.QIMaxRadius)
		if hit {
			res.BoundaryHit |= StageQI
		}
	}
	res.Pos = Point3{X: pos.X, Y: pos.Y}

	if job.Mode&LocalizeZ != 0 {
		est := e.ComputeZ(pos, job.Bead)
		res.Pos.Z = est.Z
		if est.BoundaryHit {
			res.BoundaryHit |= StageZ
		}
	}
	return res
}
