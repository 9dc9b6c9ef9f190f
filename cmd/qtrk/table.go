package main

import (
	"io"
	"math"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/banshee-data/beadtrack/internal/results"
)

// coordPrecision is the number of decimals printed for positions and
// frame info values. Rows hold float32.
const coordPrecision = 3

// column is one table column. Numeric columns are right aligned.
type column struct {
	name    string
	numeric bool
}

var summaryColumns = []column{{name: "Field"}, {name: "Value", numeric: true}}

// rowColumns lays out a result table the way the text writer names its
// columns: the frame index, bead coordinates, frame info, then time.
func rowColumns(layout results.Config) []column {
	cols := []column{{name: "frame", numeric: true}}
	for _, n := range layout.ColumnNames(nil) {
		cols = append(cols, column{name: n, numeric: true})
	}
	return cols
}

// rowCells formats one result row for rowColumns(layout). Removed or
// missing beads print as "-".
func rowCells(layout results.Config, row results.Row) []string {
	cells := make([]string, 0, 2+3*layout.NumBeads+layout.NumFrameInfoColumns)
	cells = append(cells, strconv.Itoa(row.Frame))
	for b := 0; b < layout.NumBeads; b++ {
		if b >= len(row.Positions) || (b < len(row.Removed) && row.Removed[b]) {
			cells = append(cells, "-", "-", "-")
			continue
		}
		p := row.Positions[b]
		cells = append(cells, formatCoord(p.X), formatCoord(p.Y), formatCoord(p.Z))
	}
	for i := 0; i < layout.NumFrameInfoColumns; i++ {
		if i < len(row.FrameInfo) {
			cells = append(cells, formatCoord(row.FrameInfo[i]))
		} else {
			cells = append(cells, "-")
		}
	}
	return append(cells, strconv.FormatFloat(row.Timestamp, 'f', coordPrecision, 64))
}

func formatCoord(v float32) string {
	if math.IsNaN(float64(v)) {
		return "-"
	}
	return strconv.FormatFloat(float64(v), 'f', coordPrecision, 32)
}

// renderTable draws cells under cols. Header names are printed as given,
// so a dump header matches the column names of a text result file.
func renderTable(cols []column, cells [][]string) string {
	if len(cols) == 0 {
		return ""
	}
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Header = text.FormatDefault

	header := make(table.Row, len(cols))
	configs := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		header[i] = c.name
		align := text.AlignLeft
		if c.numeric {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: align}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, r := range cells {
		row := make(table.Row, len(cols))
		for i := range row {
			row[i] = ""
			if i < len(r) {
				row[i] = r[i]
			}
		}
		tw.AppendRow(row)
	}
	return tw.Render()
}

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
)

func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func colorize(s, color string, on bool) string {
	if !on || color == "" {
		return s
	}
	return color + s + ansiReset
}
