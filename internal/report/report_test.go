package report

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/beadtrack/internal/results"
	"github.com/banshee-data/beadtrack/internal/track"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func traceRows(n int) []results.Row {
	rows := make([]results.Row, n)
	for f := range rows {
		rows[f] = results.Row{
			Frame: f,
			Positions: []results.Vector3f{
				{X: float32(f), Y: 2, Z: float32(math.Sin(float64(f)))},
				{X: 5, Y: float32(-f), Z: 0},
			},
		}
	}
	nan := float32(math.NaN())
	rows[2].Positions[0] = results.Vector3f{X: nan, Y: nan, Z: nan}
	return rows
}

func TestWriteTraceHTML(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteTraceHTML(&buf, traceRows(10), 2, TraceOptions{Title: "run 7", Stride: 2}))
	html := buf.String()
	assert.Contains(t, html, "run 7: x")
	assert.Contains(t, html, "run 7: z")
	assert.Contains(t, html, "bead 1")
	assert.Equal(t, 3, strings.Count(html, "echarts.init"))

	err := WriteTraceHTML(&buf, traceRows(3), 2, TraceOptions{Beads: []int{4}})
	assert.Error(t, err)
}

func TestLineValue(t *testing.T) {
	t.Parallel()

	rows := traceRows(4)
	assert.Equal(t, "-", lineValue(rows[2], 0, 0).Value)
	assert.Equal(t, 3.0, lineValue(rows[3], 0, 0).Value)
	assert.Equal(t, -3.0, lineValue(rows[3], 1, 1).Value)

	rows[3].Removed = []bool{false, true}
	assert.Equal(t, "-", lineValue(rows[3], 1, 1).Value)
	assert.Equal(t, "-", lineValue(rows[3], 5, 0).Value)
}

func testZLUT(t *testing.T) *track.ZLUT {
	t.Helper()
	const planes, bins = 6, 12
	data := make([]float64, planes*bins)
	for p := 0; p < planes; p++ {
		for r := 0; r < bins; r++ {
			d := float64(r) - 2 - float64(p)
			data[p*bins+r] = math.Exp(-d * d / 2)
		}
	}
	z, err := track.NewZLUT(data, 1, planes, bins, 1, 10, 16, track.CompareSpatial, true)
	require.NoError(t, err)
	return z
}

func TestWriteZLUTPNG(t *testing.T) {
	t.Parallel()

	z := testZLUT(t)
	var buf bytes.Buffer
	require.NoError(t, WriteZLUTPNG(&buf, z, 0))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))

	assert.Error(t, WriteZLUTPNG(&buf, z, 1))
	assert.Error(t, WriteZLUTPNG(&buf, nil, 0))

	g := newZLUTGrid(z, 0)
	c, r := g.Dims()
	assert.Equal(t, 12, c)
	assert.Equal(t, 6, r)
	assert.InDelta(t, 1.375, g.X(0), 1e-12)
	assert.Less(t, g.Min(), g.Max())
}

func TestWriteZScoresPNG(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	diag := track.ZDiagnostics{Scores: []float64{-4, -1, 0, -1, -4}}
	require.NoError(t, WriteZScoresPNG(&buf, diag, track.ZEstimate{Z: 2}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))

	assert.Error(t, WriteZScoresPNG(&buf, track.ZDiagnostics{}, track.ZEstimate{}))
}

func TestWriteTracePNG(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteTracePNG(&buf, traceRows(8), 0, 2))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))

	assert.Error(t, WriteTracePNG(&buf, traceRows(8), 0, 3))
	rows := traceRows(3)
	for i := range rows {
		rows[i].Removed = []bool{true, false}
	}
	assert.Error(t, WriteTracePNG(&buf, rows, 0, 0))
}
