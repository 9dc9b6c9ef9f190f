// Package track implements per-image bead localization: centre of mass,
// 1D cross-correlation, quadrant interpolation and calibration-profile
// matching for the axial position.
package track

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned when a call is rejected at the boundary
// (bad image dimensions, pixel buffer too small, bead index out of range).
var ErrInvalidArgument = errors.New("invalid argument")

func invalidArgf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Point2 is a position in image pixel coordinates.
type Point2 struct {
	X, Y float64
}

// Point3 is a position with an axial component. Z is expressed in
// calibration plane units.
type Point3 struct {
	X, Y, Z float64
}

// XY drops the axial component.
func (p Point3) XY() Point2 { return Point2{X: p.X, Y: p.Y} }

// PixelFormat describes the layout of a raw pixel buffer passed to SetImage.
type PixelFormat int

const (
	PixelU8 PixelFormat = iota
	PixelU16
	PixelFloat32
)

// BytesPerPixel returns the storage size of one pixel.
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelU16:
		return 2
	case PixelFloat32:
		return 4
	default:
		return 1
	}
}

func (f PixelFormat) String() string {
	switch f {
	case PixelU8:
		return "u8"
	case PixelU16:
		return "u16"
	case PixelFloat32:
		return "float32"
	default:
		return fmt.Sprintf("PixelFormat(%d)", int(f))
	}
}

// LocalizeMode selects which estimators run for a job. The 2D estimators
// are mutually exclusive; LocalizeZ can be combined with any of them.
type LocalizeMode uint32

const (
	LocalizeOnlyCOM LocalizeMode = 0
	LocalizeXCor1D  LocalizeMode = 1
	LocalizeQI      LocalizeMode = 2
	Localize2DMask  LocalizeMode = 0x0f

	// LocalizeZ adds axial estimation against the engine's ZLUT.
	LocalizeZ LocalizeMode = 0x10
	// LocalizeFromInitial skips the centre of mass first guess and starts
	// from the job's InitialPos instead.
	LocalizeFromInitial LocalizeMode = 0x20
)

// Mode2D returns the selected 2D estimator.
func (m LocalizeMode) Mode2D() LocalizeMode { return m & Localize2DMask }

// Stage identifies which estimator had to clamp its window.
type Stage uint8

const (
	StageXCor Stage = 1 << iota
	StageQI
	StageZ
)

// Has reports whether the given stage hit the image boundary.
func (s Stage) Has(st Stage) bool { return s&st != 0 }

// LocalizationJob is the request for a single bead in a single frame.
// It is echoed unchanged on the result.
type LocalizationJob struct {
	Frame      int
	Timestamp  float64
	Mode       LocalizeMode
	Bead       int    // also selects the ZLUT
	ZLUTPlane  int    // plane index when the image is used to build a ZLUT
	InitialPos Point3 // used with LocalizeFromInitial
	Tag        uint32 // opaque caller metadata
}

// LocalizationResult is the immutable outcome of one job.
type LocalizationResult struct {
	Job         LocalizationJob
	Pos         Point3
	FirstGuess  Point2
	BoundaryHit Stage
}

// Bead returns the bead index of the job.
func (r LocalizationResult) Bead() int { return r.Job.Bead }

// Frame returns the frame index of the job.
func (r LocalizationResult) Frame() int { return r.Job.Frame }

// Timestamp returns the job timestamp.
func (r LocalizationResult) Timestamp() float64 { return r.Job.Timestamp }

// Clamped reports whether any stage had to clamp its sampling window.
func (r LocalizationResult) Clamped() bool { return r.BoundaryHit != 0 }
