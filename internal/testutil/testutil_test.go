package testutil

import (
	"math"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPHelpers(t *testing.T) {
	t.Parallel()

	AssertStatusCode(t, http.StatusOK, http.StatusOK)
	req := NewTestRequest(http.MethodPost, "/api/flush")
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/api/flush", req.URL.Path)
	assert.NotNil(t, NewTestRecorder())
}

func TestAssertNear(t *testing.T) {
	t.Parallel()

	AssertNear(t, "inside", 1.04, 1, 0.05)
	AssertNear(t, "exact", -3, -3, 0)
}

func TestGaussianSpot(t *testing.T) {
	t.Parallel()

	pix := GaussianSpot(32, 16, 10, 5, 2, 100, 10)
	require.Len(t, pix, 32*16)
	peak := pix[5*32+10]
	assert.Equal(t, 110.0, peak)
	for i, v := range pix {
		require.LessOrEqualf(t, v, peak, "pixel %d", i)
	}
	assert.Equal(t, pix[5*32+8], pix[5*32+12])
	assert.InDelta(t, 10.0, pix[0], 1e-3)
}

func TestRingStack(t *testing.T) {
	t.Parallel()

	stack := RingStack(40, 40, 5)
	require.Len(t, stack, 5)
	r0 := int(math.Round(RingRadius(0)))
	r4 := int(math.Round(RingRadius(4)))
	row := 20 * 40
	assert.Greater(t, stack[0][row+20+r0], stack[4][row+20+r0])
	assert.Greater(t, stack[4][row+20+r4], stack[0][row+20+r4])
}
