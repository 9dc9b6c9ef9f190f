package report

import (
	"fmt"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/beadtrack/internal/results"
	"github.com/banshee-data/beadtrack/internal/track"
)

// zlutGrid exposes one bead of a ZLUT as a plane by radius grid.
type zlutGrid struct {
	z    *track.ZLUT
	bead int
	step float64
	min  float64
	max  float64
}

func newZLUTGrid(z *track.ZLUT, bead int) *zlutGrid {
	g := &zlutGrid{z: z, bead: bead, step: (z.MaxRadius - z.MinRadius) / float64(z.RadialSteps)}
	g.min, g.max = math.Inf(1), math.Inf(-1)
	for p := 0; p < z.Planes; p++ {
		for _, v := range z.Plane(bead, p) {
			g.min = math.Min(g.min, v)
			g.max = math.Max(g.max, v)
		}
	}
	if g.max <= g.min {
		g.max = g.min + 1
	}
	return g
}

func (g *zlutGrid) Dims() (c, r int)   { return g.z.RadialSteps, g.z.Planes }
func (g *zlutGrid) Z(c, r int) float64 { return g.z.Plane(g.bead, r)[c] }
func (g *zlutGrid) X(c int) float64    { return g.z.MinRadius + (float64(c)+0.5)*g.step }
func (g *zlutGrid) Y(r int) float64    { return float64(r) }
func (g *zlutGrid) Min() float64       { return g.min }
func (g *zlutGrid) Max() float64       { return g.max }

// WriteZLUTPNG draws the calibration profiles of one bead as a heat map,
// radius across and plane down.
func WriteZLUTPNG(w io.Writer, z *track.ZLUT, bead int) error {
	if z == nil {
		return fmt.Errorf("no ZLUT")
	}
	if bead < 0 || bead >= z.Count {
		return fmt.Errorf("bead %d out of range [0, %d)", bead, z.Count)
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("ZLUT bead %d (%s)", bead, z.Mode)
	p.X.Label.Text = "Radius (px)"
	p.Y.Label.Text = "Plane"
	p.Add(plotter.NewHeatMap(newZLUTGrid(z, bead), palette.Heat(64, 1)))
	return writePNG(w, p, 8*vg.Inch, 6*vg.Inch)
}

// WriteZScoresPNG plots the per-plane similarity of one axial estimate
// and marks the interpolated result.
func WriteZScoresPNG(w io.Writer, diag track.ZDiagnostics, est track.ZEstimate) error {
	if len(diag.Scores) == 0 {
		return fmt.Errorf("no scores")
	}
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Z scores, z=%.3f", est.Z)
	p.X.Label.Text = "Plane"
	p.Y.Label.Text = "Score"

	pts := make(plotter.XYs, len(diag.Scores))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, s := range diag.Scores {
		pts[i] = plotter.XY{X: float64(i), Y: s}
		lo, hi = math.Min(lo, s), math.Max(hi, s)
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	line.Color = plotutil.Color(0)
	p.Add(line)
	p.Legend.Add("score", line)

	marker, err := plotter.NewLine(plotter.XYs{{X: est.Z, Y: lo}, {X: est.Z, Y: hi}})
	if err != nil {
		return err
	}
	marker.Color = plotutil.Color(1)
	marker.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(marker)
	p.Legend.Add("estimate", marker)
	return writePNG(w, p, 8*vg.Inch, 4*vg.Inch)
}

// WriteTracePNG plots one axis of one bead over time. NaN samples are
// skipped.
func WriteTracePNG(w io.Writer, rows []results.Row, bead, axis int) error {
	if axis < 0 || axis > 2 {
		return fmt.Errorf("axis %d out of range", axis)
	}
	pts := make(plotter.XYs, 0, len(rows))
	for _, row := range rows {
		v := lineValue(row, bead, axis)
		if f, ok := v.Value.(float64); ok {
			pts = append(pts, plotter.XY{X: float64(row.Frame), Y: f})
		}
	}
	if len(pts) == 0 {
		return fmt.Errorf("bead %d has no samples", bead)
	}
	p := plot.New()
	name := []string{"x", "y", "z"}[axis]
	p.Title.Text = fmt.Sprintf("Bead %d %s", bead, name)
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = name
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line)
	return writePNG(w, p, 14*vg.Inch, 6*vg.Inch)
}

func writePNG(w io.Writer, p *plot.Plot, width, height vg.Length) error {
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}
