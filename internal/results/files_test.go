package results

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryHeaderSize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, BinaryHeaderSize, binary.Size(BinaryHeader{}))
}

func TestBinaryRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := Config{
		NumBeads:            3,
		NumFrameInfoColumns: 2,
		Scale:               Vector3f{0.1, 0.1, 0.05},
		Offset:              Vector3f{-12.5, 3, 0.33},
		WriteInterval:       7,
		MaxFramesInMemory:   300,
		Format:              FormatBinary,
	}.WithDefaults()
	path := filepath.Join(t.TempDir(), "run.bin")
	w, err := OpenWriter(path, cfg)
	require.NoError(t, err)

	const frames = 25
	var want []Row
	for f := 0; f < frames; f++ {
		row := Row{
			Frame:     f,
			Timestamp: 1700000000.123456 + float64(f)/30,
			FrameInfo: []float32{float32(f) * 1.5, -float32(f)},
		}
		for b := 0; b < cfg.NumBeads; b++ {
			x := 17.3 + math.Sin(float64(f+b))
			y := 22.9 + math.Cos(float64(f*b))
			z := float64(f%7) + 0.123
			row.Positions = append(row.Positions, cfg.Transform(x, y, z))
		}
		want = append(want, row)
	}
	require.NoError(t, w.WriteRows(want[:10]))
	require.NoError(t, w.WriteRows(want[10:]))
	require.NoError(t, w.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	hdr := headerFromConfig(cfg)
	assert.Equal(t, int64(BinaryHeaderSize+frames*hdr.RecordSize()), info.Size())

	gotHdr, got, err := ReadBinaryFile(path)
	require.NoError(t, err)
	assert.Equal(t, hdr, gotHdr)
	assert.Equal(t, int32(7), gotHdr.WriteInterval)
	assert.Equal(t, uint8(1), gotHdr.BinaryOutput)
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestBinaryLayout(t *testing.T) {
	t.Parallel()

	cfg := Config{NumBeads: 1, NumFrameInfoColumns: 1, Scale: Vector3f{1, 1, 1}}
	rec := make([]byte, headerFromConfig(cfg).RecordSize())
	require.Len(t, rec, 12+4+8)

	row := Row{Positions: []Vector3f{{1, 2, 3}}, FrameInfo: []float32{4}, Timestamp: 5}
	require.NoError(t, encodeRecord(rec, headerFromConfig(cfg), row))
	le := binary.LittleEndian
	assert.Equal(t, float32(1), math.Float32frombits(le.Uint32(rec[0:])))
	assert.Equal(t, float32(3), math.Float32frombits(le.Uint32(rec[8:])))
	assert.Equal(t, float32(4), math.Float32frombits(le.Uint32(rec[12:])))
	assert.Equal(t, 5.0, math.Float64frombits(le.Uint64(rec[16:])))

	// removed beads keep their slot
	row.Removed = []bool{true}
	require.NoError(t, encodeRecord(rec, headerFromConfig(cfg), row))
	assert.True(t, math.IsNaN(float64(math.Float32frombits(le.Uint32(rec[0:])))))

	bad := Row{Positions: []Vector3f{{}, {}}, FrameInfo: []float32{0}}
	assert.ErrorIs(t, encodeRecord(rec, headerFromConfig(cfg), bad), ErrInvalidArgument)
}

func TestReadBinary_Truncated(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	hdr := headerFromConfig(Config{NumBeads: 2, Scale: Vector3f{1, 1, 1}})
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, hdr))
	buf.Write(make([]byte, hdr.RecordSize()))
	buf.Write(make([]byte, 5))

	_, rows, err := ReadBinary(&buf)
	require.Error(t, err)
	assert.Len(t, rows, 1)

	_, _, err = ReadBinary(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)
}

func TestReadText(t *testing.T) {
	t.Parallel()

	cfg := Config{NumBeads: 2, NumFrameInfoColumns: 1}
	input := strings.Join([]string{
		"1 2 3 4 5 6 7 0.5",
		"",
		"# x1 y1 z1 info0 time",
		"8 9 10 11 1.5",
	}, "\n")
	rows, err := ReadText(strings.NewReader(input), cfg)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []Vector3f{{1, 2, 3}, {4, 5, 6}}, rows[0].Positions)
	assert.Equal(t, []float32{7}, rows[0].FrameInfo)
	assert.Equal(t, 0.5, rows[0].Timestamp)

	assert.Equal(t, 1, rows[1].Frame)
	assert.Equal(t, []bool{true, false}, rows[1].Removed)
	assert.Equal(t, Vector3f{8, 9, 10}, rows[1].Positions[1])
	assert.True(t, math.IsNaN(float64(rows[1].Positions[0].X)))

	_, err = ReadText(strings.NewReader("1 2 3\n"), cfg)
	assert.Error(t, err)
	_, err = ReadText(strings.NewReader("1 2 3 4 5 6 x 0\n"), cfg)
	assert.Error(t, err)
}

func TestAppendTextRow(t *testing.T) {
	t.Parallel()

	row := Row{
		Positions: []Vector3f{{0.1, 2, -3}, {4, 5, 6}},
		Removed:   []bool{false, true},
		FrameInfo: []float32{1e-3},
		Timestamp: 12.25,
	}
	assert.Equal(t, "0.1 2 -3 0.001 12.25\n", string(appendTextRow(nil, row)))
}

func TestFormat(t *testing.T) {
	t.Parallel()

	for _, f := range []Format{FormatText, FormatBinary, FormatSQLite} {
		got, err := ParseFormat(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
	_, err := ParseFormat("csv")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	var cfg Config
	require.NoError(t, json.Unmarshal([]byte(`{"num_beads": 2, "format": "binary"}`), &cfg))
	assert.Equal(t, FormatBinary, cfg.Format)
	assert.Error(t, json.Unmarshal([]byte(`{"format": "csv"}`), &cfg))

	out, err := json.Marshal(Config{Format: FormatSQLite})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"format":"sqlite"`)
}

func TestConfig(t *testing.T) {
	t.Parallel()

	cfg := Config{NumBeads: 2}.WithDefaults()
	assert.Equal(t, Vector3f{1, 1, 1}, cfg.Scale)
	assert.Equal(t, 1, cfg.WriteInterval)
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.FrameInfoNames = []string{"a"}
	assert.ErrorIs(t, bad.Validate(), ErrInvalidArgument)

	bad = cfg
	bad.Format = Format(7)
	assert.ErrorIs(t, bad.Validate(), ErrInvalidArgument)

	cfg.NumFrameInfoColumns = 2
	cfg.FrameInfoNames = []string{"temp"}
	assert.Equal(t,
		[]string{"x0", "y0", "z0", "temp", "info1", "time"},
		cfg.ColumnNames([]bool{false, true}))

	assert.Equal(t, Vector3f{3, -1, 0}, Config{Scale: Vector3f{1, -1, 2}, Offset: Vector3f{1, 0, -0.5}}.Transform(2, 1, 0.5))
}
