package results

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
)

// textWriter writes one whitespace-separated line per frame. A "#" line
// naming the columns precedes the first row and every row whose set of
// removed beads differs from the previous one.
type textWriter struct {
	f   *outputFile
	w   *bufio.Writer
	cfg Config

	columns []bool // removed set of the last header line
	buf     []byte
}

func newTextWriter(path string, cfg Config) (*textWriter, error) {
	f, err := createLocked(path)
	if err != nil {
		return nil, err
	}
	return &textWriter{f: f, w: bufio.NewWriter(f), cfg: cfg}, nil
}

func (t *textWriter) WriteRows(rows []Row) error {
	for _, row := range rows {
		if t.columns == nil || !slices.Equal(t.columns, row.Removed) {
			header := "# " + strings.Join(t.cfg.ColumnNames(row.Removed), " ") + "\n"
			if _, err := t.w.WriteString(header); err != nil {
				return fmt.Errorf("failed to write header: %w", err)
			}
			t.columns = slices.Clone(row.Removed)
			if t.columns == nil {
				t.columns = []bool{}
			}
		}
		t.buf = appendTextRow(t.buf[:0], row)
		if _, err := t.w.Write(t.buf); err != nil {
			return fmt.Errorf("failed to write frame %d: %w", row.Frame, err)
		}
	}
	return t.w.Flush()
}

func appendTextRow(b []byte, row Row) []byte {
	sep := func() {
		if len(b) > 0 {
			b = append(b, ' ')
		}
	}
	for i, p := range row.Positions {
		if i < len(row.Removed) && row.Removed[i] {
			continue
		}
		for _, v := range [3]float32{p.X, p.Y, p.Z} {
			sep()
			b = strconv.AppendFloat(b, float64(v), 'g', -1, 32)
		}
	}
	for _, v := range row.FrameInfo {
		sep()
		b = strconv.AppendFloat(b, float64(v), 'g', -1, 32)
	}
	sep()
	b = strconv.AppendFloat(b, row.Timestamp, 'g', -1, 64)
	return append(b, '\n')
}

func (t *textWriter) Sync() error {
	if err := t.w.Flush(); err != nil {
		return err
	}
	return t.f.Sync()
}

func (t *textWriter) Close() error {
	ferr := t.w.Flush()
	if err := t.f.Close(); err != nil {
		return err
	}
	return ferr
}

// ReadTextFile reads a file written in the text format.
func ReadTextFile(path string, cfg Config) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadText(f, cfg)
}

// ReadText parses text rows. Header lines determine which beads are
// present; without one every bead is assumed present. Rows are numbered
// from frame 0 in file order.
func ReadText(r io.Reader, cfg Config) ([]Row, error) {
	removed := make([]bool, cfg.NumBeads)
	var rows []Row

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			removed = removedFromHeader(strings.Fields(text[1:]), cfg.NumBeads)
			continue
		}

		fields := strings.Fields(text)
		active := 0
		for _, rm := range removed {
			if !rm {
				active++
			}
		}
		if want := 3*active + cfg.NumFrameInfoColumns + 1; len(fields) != want {
			return nil, fmt.Errorf("line %d: got %d columns, want %d", line, len(fields), want)
		}

		vals := make([]float64, len(fields))
		for i, s := range fields {
			bits := 32
			if i == len(fields)-1 {
				bits = 64
			}
			v, err := strconv.ParseFloat(s, bits)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, i+1, err)
			}
			vals[i] = v
		}

		row := Row{
			Frame:     len(rows),
			Positions: make([]Vector3f, cfg.NumBeads),
			Removed:   slices.Clone(removed),
			FrameInfo: make([]float32, cfg.NumFrameInfoColumns),
		}
		k := 0
		for b := range row.Positions {
			if removed[b] {
				row.Positions[b] = nanVector()
				continue
			}
			row.Positions[b] = Vector3f{float32(vals[k]), float32(vals[k+1]), float32(vals[k+2])}
			k += 3
		}
		for i := range row.FrameInfo {
			row.FrameInfo[i] = float32(vals[k])
			k++
		}
		row.Timestamp = vals[k]
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func removedFromHeader(names []string, numBeads int) []bool {
	removed := make([]bool, numBeads)
	for i := range removed {
		removed[i] = true
	}
	for _, n := range names {
		if len(n) < 2 || n[0] != 'x' {
			continue
		}
		b, err := strconv.Atoi(n[1:])
		if err == nil && b >= 0 && b < numBeads {
			removed[b] = false
		}
	}
	return removed
}
