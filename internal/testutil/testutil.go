// Package testutil provides shared test utilities and fixtures.
//
// Besides the usual assertion helpers it can render synthetic bead images
// so tracker tests do not need recorded camera data.
package testutil

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNear fails the test if got is further than tol from want.
func AssertNear(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %.4f, want %.4f ± %g", name, got, want, tol)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// GaussianSpot renders a width x height image of a Gaussian spot centred at
// (cx, cy) with the given sigma and peak amplitude on a flat background.
// Pixels are row-major.
func GaussianSpot(width, height int, cx, cy, sigma, amplitude, background float64) []float64 {
	pix := make([]float64, width*height)
	k := 1 / (2 * sigma * sigma)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			pix[y*width+x] = background + amplitude*math.Exp(-(dx*dx+dy*dy)*k)
		}
	}
	return pix
}

// RingImage renders a diffraction-like ring of the given radius and
// thickness (Gaussian cross-section) centred at (cx, cy), on top of a
// small central spot so the centre of mass is well defined.
func RingImage(width, height int, cx, cy, radius, thickness float64) []float64 {
	pix := make([]float64, width*height)
	k := 1 / (2 * thickness * thickness)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			r := math.Hypot(dx, dy)
			d := r - radius
			pix[y*width+x] = 10 + 100*math.Exp(-d*d*k) + 50*math.Exp(-r*r/8)
		}
	}
	return pix
}

// RingRadius is the ring radius used by RingStack for plane z.
func RingRadius(z float64) float64 { return 3 + 0.4*z }

// RingStack renders one RingImage per plane, with the ring radius growing
// linearly with the plane index, all centred on the image.
func RingStack(width, height, planes int) [][]float64 {
	cx, cy := float64(width)/2, float64(height)/2
	stack := make([][]float64, planes)
	for z := range stack {
		stack[z] = RingImage(width, height, cx, cy, RingRadius(float64(z)), 1.2)
	}
	return stack
}
