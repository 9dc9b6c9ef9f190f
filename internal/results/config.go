// Package results aggregates per-bead localization results into frame
// rows and persists them.
package results

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidArgument is returned for bad configuration or out-of-range
	// frame and bead indices.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrClosed is returned by operations on a closed Manager.
	ErrClosed = errors.New("results manager closed")
)

// Format selects the on-disk representation of the result rows.
type Format int

const (
	FormatText Format = iota
	FormatBinary
	FormatSQLite
)

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatBinary:
		return "binary"
	case FormatSQLite:
		return "sqlite"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat parses a format name as printed by String.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "txt", "":
		return FormatText, nil
	case "binary", "bin":
		return FormatBinary, nil
	case "sqlite", "db":
		return FormatSQLite, nil
	}
	return 0, fmt.Errorf("%w: unknown output format %q", ErrInvalidArgument, s)
}

// MarshalText implements encoding.TextMarshaler.
func (f Format) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Format) UnmarshalText(b []byte) error {
	v, err := ParseFormat(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Vector3f is a single-precision 3D vector, the precision of persisted rows.
type Vector3f struct {
	X float32 `json:"x" toml:"x"`
	Y float32 `json:"y" toml:"y"`
	Z float32 `json:"z" toml:"z"`
}

// Config describes the rows a Manager produces.
type Config struct {
	NumBeads            int      `json:"num_beads" toml:"num_beads"`
	NumFrameInfoColumns int      `json:"num_frame_info_columns" toml:"num_frame_info_columns"`
	FrameInfoNames      []string `json:"frame_info_names,omitempty" toml:"frame_info_names,omitempty"`

	// Output positions are (pos + Offset) * Scale.
	Scale  Vector3f `json:"scale" toml:"scale"`
	Offset Vector3f `json:"offset" toml:"offset"`

	WriteInterval     int    `json:"write_interval" toml:"write_interval"`           // frames
	MaxFramesInMemory uint32 `json:"max_frames_in_memory" toml:"max_frames_in_memory"` // 0 = unbounded
	Format            Format `json:"format" toml:"format"`
}

// WithDefaults fills in a unit scale and a write interval of one frame.
func (c Config) WithDefaults() Config {
	if c.Scale == (Vector3f{}) {
		c.Scale = Vector3f{1, 1, 1}
	}
	if c.WriteInterval <= 0 {
		c.WriteInterval = 1
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.NumBeads <= 0 {
		return fmt.Errorf("%w: num_beads must be positive, got %d", ErrInvalidArgument, c.NumBeads)
	}
	if c.NumFrameInfoColumns < 0 {
		return fmt.Errorf("%w: num_frame_info_columns must not be negative", ErrInvalidArgument)
	}
	if len(c.FrameInfoNames) > 0 && len(c.FrameInfoNames) != c.NumFrameInfoColumns {
		return fmt.Errorf("%w: %d frame info names for %d columns", ErrInvalidArgument,
			len(c.FrameInfoNames), c.NumFrameInfoColumns)
	}
	if c.WriteInterval < 0 {
		return fmt.Errorf("%w: write_interval must not be negative", ErrInvalidArgument)
	}
	if c.Format < FormatText || c.Format > FormatSQLite {
		return fmt.Errorf("%w: unknown format %v", ErrInvalidArgument, c.Format)
	}
	return nil
}

// transform maps one raw coordinate to its output value.
func transform(p float64, offset, scale float32) float32 {
	return float32((p + float64(offset)) * float64(scale))
}

// Transform applies the configured offset and scale to a position.
func (c Config) Transform(x, y, z float64) Vector3f {
	return Vector3f{
		X: transform(x, c.Offset.X, c.Scale.X),
		Y: transform(y, c.Offset.Y, c.Scale.Y),
		Z: transform(z, c.Offset.Z, c.Scale.Z),
	}
}

// ColumnNames returns the names of the output columns in row order,
// skipping removed beads.
func (c Config) ColumnNames(removed []bool) []string {
	var names []string
	for b := 0; b < c.NumBeads; b++ {
		if b < len(removed) && removed[b] {
			continue
		}
		names = append(names, fmt.Sprintf("x%d", b), fmt.Sprintf("y%d", b), fmt.Sprintf("z%d", b))
	}
	for i := 0; i < c.NumFrameInfoColumns; i++ {
		if i < len(c.FrameInfoNames) {
			names = append(names, c.FrameInfoNames[i])
		} else {
			names = append(names, fmt.Sprintf("info%d", i))
		}
	}
	return append(names, "time")
}
