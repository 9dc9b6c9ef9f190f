// Package report renders tracking output: interactive HTML bead traces
// and PNG plots of calibration stacks.
package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/beadtrack/internal/results"
)

// echartsAssetsPrefix is where the rendered pages load echarts from.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// TraceOptions selects what goes into a trace page.
type TraceOptions struct {
	Title string
	// Beads limits the page to these beads; empty means all.
	Beads []int
	// Stride keeps every Stride-th frame. Values below 1 keep all.
	Stride int
}

// WriteTraceHTML renders one line chart per axis with a series per bead.
// Missing positions leave gaps.
func WriteTraceHTML(w io.Writer, rows []results.Row, numBeads int, o TraceOptions) error {
	if o.Stride < 1 {
		o.Stride = 1
	}
	beads := o.Beads
	if len(beads) == 0 {
		for b := 0; b < numBeads; b++ {
			beads = append(beads, b)
		}
	}
	for _, b := range beads {
		if b < 0 || b >= numBeads {
			return fmt.Errorf("bead %d out of range [0, %d)", b, numBeads)
		}
	}
	if o.Title == "" {
		o.Title = "Bead traces"
	}

	var frames []int
	for i := 0; i < len(rows); i += o.Stride {
		frames = append(frames, i)
	}
	x := make([]int, len(frames))
	for i, ri := range frames {
		x[i] = rows[ri].Frame
	}

	page := components.NewPage()
	page.SetPageTitle(o.Title)
	page.SetAssetsHost(echartsAssetsPrefix)
	for axis, name := range []string{"x", "y", "z"} {
		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "360px", AssetsHost: echartsAssetsPrefix}),
			charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("%s: %s", o.Title, name), Subtitle: fmt.Sprintf("frames=%d beads=%d", len(rows), len(beads))}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Name: "Frame", NameLocation: "middle", NameGap: 25}),
			charts.WithYAxisOpts(opts.YAxis{Name: name, Scale: opts.Bool(true)}),
			charts.WithDataZoomOpts(opts.DataZoom{Type: "inside"}, opts.DataZoom{Type: "slider"}),
		)
		line.SetXAxis(x)
		for _, b := range beads {
			data := make([]opts.LineData, len(frames))
			for i, ri := range frames {
				data[i] = lineValue(rows[ri], b, axis)
			}
			line.AddSeries(fmt.Sprintf("bead %d", b), data,
				charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
		}
		page.AddCharts(line)
	}
	return page.Render(w)
}

// lineValue returns "-" for missing samples, which echarts draws as a gap.
func lineValue(row results.Row, bead, axis int) opts.LineData {
	if bead >= len(row.Positions) || (bead < len(row.Removed) && row.Removed[bead]) {
		return opts.LineData{Value: "-"}
	}
	p := row.Positions[bead]
	v := float64([3]float32{p.X, p.Y, p.Z}[axis])
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return opts.LineData{Value: "-"}
	}
	return opts.LineData{Value: v}
}
