package track

import (
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/beadtrack/internal/testutil"
)

func newTestEngine(t *testing.T, w, h, xcorw int, pix []float64) *Engine {
	t.Helper()
	e, err := NewEngine(w, h, xcorw)
	require.NoError(t, err)
	require.NoError(t, e.SetImageFloat(pix))
	return e
}

func TestNewEngine_RejectsBadSize(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(0, 10, 8)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = NewEngine(10, 10, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSetImage_Formats(t *testing.T) {
	t.Parallel()

	e, err := NewEngine(3, 2, 0)
	require.NoError(t, err)

	t.Run("u8 with pitch", func(t *testing.T) {
		data := []byte{
			1, 2, 3, 0xff,
			4, 5, 6,
		}
		require.NoError(t, e.SetImage(data, 4, PixelU8))
		assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, e.Image().Pix)
	})

	t.Run("u16", func(t *testing.T) {
		data := make([]byte, 12)
		for i := 0; i < 6; i++ {
			binary.LittleEndian.PutUint16(data[2*i:], uint16(1000*i))
		}
		require.NoError(t, e.SetImage(data, 0, PixelU16))
		assert.Equal(t, []float64{0, 1000, 2000, 3000, 4000, 5000}, e.Image().Pix)
	})

	t.Run("float32", func(t *testing.T) {
		data := make([]byte, 24)
		for i := 0; i < 6; i++ {
			binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(float32(i)+0.5))
		}
		require.NoError(t, e.SetImage(data, 0, PixelFloat32))
		assert.Equal(t, []float64{0.5, 1.5, 2.5, 3.5, 4.5, 5.5}, e.Image().Pix)
	})

	t.Run("short buffer", func(t *testing.T) {
		err := e.SetImage(make([]byte, 5), 0, PixelU8)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("pitch too small", func(t *testing.T) {
		err := e.SetImage(make([]byte, 6), 2, PixelU8)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("float image size mismatch", func(t *testing.T) {
		assert.ErrorIs(t, e.SetImageFloat(make([]float64, 5)), ErrInvalidArgument)
	})
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, 2, 2, 0, []float64{10, 20, 30, 50})
	e.Normalize()
	assert.InDeltaSlice(t, []float64{0, 0.25, 0.5, 1}, e.Image().Pix, 1e-12)

	flat := newTestEngine(t, 2, 2, 0, []float64{3, 3, 3, 3})
	flat.Normalize()
	assert.Equal(t, []float64{0, 0, 0, 0}, flat.Image().Pix)
}

func TestInterpolate(t *testing.T) {
	t.Parallel()

	img := ImageData{Width: 2, Height: 2, Pix: []float64{0, 10, 20, 30}}
	assert.InDelta(t, 15.0, img.Interpolate(0.5, 0.5), 1e-12)
	assert.InDelta(t, 5.0, img.Interpolate(0.5, 0), 1e-12)
	// clamped to the edge
	assert.InDelta(t, 30.0, img.Interpolate(5, 5), 1e-12)
	assert.InDelta(t, 0.0, img.Interpolate(-3, -1), 1e-12)
	assert.Zero(t, img.Interpolate(math.NaN(), 1))
	assert.Zero(t, img.Interpolate(1, math.NaN()))
}

func TestComputeBgCorrectedCOM(t *testing.T) {
	t.Parallel()

	t.Run("gaussian spot", func(t *testing.T) {
		pix := testutil.GaussianSpot(64, 64, 30.4, 35.7, 3, 100, 10)
		e := newTestEngine(t, 64, 64, 0, pix)
		com := e.ComputeBgCorrectedCOM()
		testutil.AssertNear(t, "x", com.X, 30.4, 0.5)
		testutil.AssertNear(t, "y", com.Y, 35.7, 0.5)
	})

	t.Run("flat image falls back to centre", func(t *testing.T) {
		pix := make([]float64, 20*10)
		e := newTestEngine(t, 20, 10, 0, pix)
		assert.Equal(t, Point2{X: 10, Y: 5}, e.ComputeBgCorrectedCOM())
	})
}

// localizeStarts are initial guesses around the true centre, up to two
// pixels off in each axis.
var localizeStarts = []Point2{
	{X: 0, Y: 0},
	{X: 1.6, Y: -1.6},
	{X: -2, Y: -2},
	{X: 2, Y: 2},
	{X: -2, Y: 1.3},
	{X: 0.7, Y: 2},
}

func TestComputeXCorInterpolated(t *testing.T) {
	t.Parallel()

	const cx, cy = 61.3, 66.7
	pix := testutil.GaussianSpot(128, 128, cx, cy, 3, 100, 10)

	for _, d := range localizeStarts {
		t.Run(fmt.Sprintf("start %+.1f,%+.1f", d.X, d.Y), func(t *testing.T) {
			e := newTestEngine(t, 128, 128, 64, pix)
			pos, hit := e.ComputeXCorInterpolated(Point2{X: cx + d.X, Y: cy + d.Y}, 4, 32)
			assert.False(t, hit)
			testutil.AssertNear(t, "x", pos.X, cx, 0.05)
			testutil.AssertNear(t, "y", pos.Y, cy, 0.05)

			prof, ok := e.LastXCorProfiles()
			require.True(t, ok)
			assert.Len(t, prof.XProfile, 64)
			assert.Len(t, prof.YConv, 64)
		})
	}
}

func TestComputeXCorInterpolated_WindowTooLarge(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, 16, 16, 32, make([]float64, 256))
	start := Point2{X: 7, Y: 9}
	pos, hit := e.ComputeXCorInterpolated(start, 3, 8)
	assert.True(t, hit)
	assert.Equal(t, start, pos)

	_, ok := e.LastXCorProfiles()
	assert.False(t, ok)
}

func TestComputeQI(t *testing.T) {
	t.Parallel()

	const cx, cy = 31.6, 32.4
	pix := testutil.RingImage(64, 64, cx, cy, 8, 1.5)

	for _, d := range localizeStarts {
		t.Run(fmt.Sprintf("start %+.1f,%+.1f", d.X, d.Y), func(t *testing.T) {
			e := newTestEngine(t, 64, 64, 0, pix)
			pos, hit := e.ComputeQI(Point2{X: cx + d.X, Y: cy + d.Y}, 8, 32, 16, 1, 20)
			assert.False(t, hit)
			testutil.AssertNear(t, "x", pos.X, cx, 0.05)
			testutil.AssertNear(t, "y", pos.Y, cy, 0.05)
		})
	}
}

func TestComputeQI_BoundaryHit(t *testing.T) {
	t.Parallel()

	pix := testutil.GaussianSpot(64, 64, 32, 32, 4, 100, 10)
	e := newTestEngine(t, 64, 64, 0, pix)

	pos, hit := e.ComputeQI(Point2{X: 5, Y: 32}, 1, 16, 8, 1, 20)
	assert.True(t, hit)
	assert.GreaterOrEqual(t, pos.X, 0.0)

	// radius larger than the ROI: the initial guess comes back untouched
	start := Point2{X: 10, Y: 10}
	pos, hit = e.ComputeQI(start, 3, 16, 8, 1, 100)
	assert.True(t, hit)
	assert.Equal(t, start, pos)
}

func TestSettings_Defaults(t *testing.T) {
	t.Parallel()

	s := Settings{Width: 40, Height: 60}.WithDefaults()
	assert.Equal(t, 40, s.XCor1DProfileLength)
	assert.Equal(t, 16.0, s.QIMaxRadius)
	assert.Equal(t, s.QIMaxRadius, s.ZLUTMaxRadius)
	assert.Equal(t, 128, s.ZLUTAngularSteps)
	require.NoError(t, s.Validate())

	bad := s
	bad.QIMinRadius = 20
	assert.ErrorIs(t, bad.Validate(), ErrInvalidArgument)
	assert.ErrorIs(t, Settings{}.Validate(), ErrInvalidArgument)
}

func TestLocalize(t *testing.T) {
	t.Parallel()

	const w, h = 64, 64
	const cx, cy = 33.2, 30.9
	s := Settings{Width: w, Height: h, QIIterations: 8, QIMinRadius: 1, QIMaxRadius: 20}.WithDefaults()
	require.NoError(t, s.Validate())

	e := newTestEngine(t, w, h, s.XCor1DProfileLength, testutil.RingImage(w, h, cx, cy, 8, 1.5))

	t.Run("com only", func(t *testing.T) {
		job := LocalizationJob{Frame: 3, Bead: 1, Timestamp: 0.25, Mode: LocalizeOnlyCOM}
		res := e.Localize(job, s)
		assert.Equal(t, job, res.Job)
		assert.Equal(t, res.FirstGuess, res.Pos.XY())
		assert.Zero(t, res.Pos.Z)
		testutil.AssertNear(t, "x", res.Pos.X, cx, 0.5)
	})

	t.Run("qi", func(t *testing.T) {
		res := e.Localize(LocalizationJob{Mode: LocalizeQI}, s)
		assert.False(t, res.Clamped())
		testutil.AssertNear(t, "x", res.Pos.X, cx, 0.05)
		testutil.AssertNear(t, "y", res.Pos.Y, cy, 0.05)
	})

	t.Run("from initial", func(t *testing.T) {
		job := LocalizationJob{Mode: LocalizeOnlyCOM | LocalizeFromInitial, InitialPos: Point3{X: 12, Y: 13, Z: 4}}
		res := e.Localize(job, s)
		assert.Equal(t, Point2{X: 12, Y: 13}, res.FirstGuess)
		assert.Equal(t, Point3{X: 12, Y: 13}, res.Pos)
	})

	t.Run("nan initial falls back to com", func(t *testing.T) {
		nan := math.NaN()
		job := LocalizationJob{Mode: LocalizeQI | LocalizeFromInitial, InitialPos: Point3{X: nan, Y: 13}}
		res := e.Localize(job, s)
		assert.Equal(t, e.ComputeBgCorrectedCOM(), res.FirstGuess)
		testutil.AssertNear(t, "x", res.Pos.X, cx, 0.05)
		testutil.AssertNear(t, "y", res.Pos.Y, cy, 0.05)
	})

	t.Run("z without zlut", func(t *testing.T) {
		res := e.Localize(LocalizationJob{Mode: LocalizeQI | LocalizeZ}, s)
		assert.Zero(t, res.Pos.Z)
		assert.False(t, res.BoundaryHit.Has(StageZ))
	})
}
