package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/beadtrack/internal/imageio"
	"github.com/banshee-data/beadtrack/internal/results"
	"github.com/banshee-data/beadtrack/internal/track"
)

// frameStats are the frame info columns an offline run can fill in,
// keyed by column name. Each is computed over the whole frame.
var frameStats = map[string]func(imageio.Frame) float64{
	"mean": func(f imageio.Frame) float64 { return stat.Mean(f.Pix, nil) },
	"std":  frameStdDev,
	"min":  func(f imageio.Frame) float64 { return floats.Min(f.Pix) },
	"max":  func(f imageio.Frame) float64 { return floats.Max(f.Pix) },
	"sum":  func(f imageio.Frame) float64 { return floats.Sum(f.Pix) },
}

func frameStdDev(f imageio.Frame) float64 {
	_, sd := stat.PopMeanStdDev(f.Pix, nil)
	return sd
}

// frameInfo fills the configured frame info columns of one frame.
type frameInfo []func(imageio.Frame) float64

func newFrameInfo(cfg results.Config) (frameInfo, error) {
	fi := make(frameInfo, cfg.NumFrameInfoColumns)
	for i := range fi {
		if i >= len(cfg.FrameInfoNames) {
			return nil, fmt.Errorf("%w: frame info column %d has no name", track.ErrInvalidArgument, i)
		}
		name := cfg.FrameInfoNames[i]
		fn, ok := frameStats[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown frame info column %q (known: %s)",
				track.ErrInvalidArgument, name, strings.Join(frameStatNames(), ", "))
		}
		fi[i] = fn
	}
	return fi, nil
}

func (fi frameInfo) columns(f imageio.Frame) []float32 {
	cols := make([]float32, len(fi))
	if len(f.Pix) == 0 {
		return cols
	}
	for i, fn := range fi {
		cols[i] = float32(fn(f))
	}
	return cols
}

func frameStatNames() []string {
	names := make([]string, 0, len(frameStats))
	for n := range frameStats {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
