package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/beadtrack/internal/config"
	"github.com/banshee-data/beadtrack/internal/imageio"
	"github.com/banshee-data/beadtrack/internal/monitoring"
	"github.com/banshee-data/beadtrack/internal/track"
)

// BuildZLUT samples a calibration stack: planes[i] is the image taken at
// focus step i. Every bead is located with QI inside its ROI and the
// radial profile around that centre becomes one plane of its table.
func BuildZLUT(ctx context.Context, s *config.Settings, planes []string) (*track.ZLUT, error) {
	if len(planes) == 0 {
		return nil, fmt.Errorf("%w: no calibration planes", track.ErrInvalidArgument)
	}
	if len(s.Run.Beads) == 0 {
		return nil, fmt.Errorf("%w: no bead start positions", track.ErrInvalidArgument)
	}
	ts := s.Tracker.WithDefaults()
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	beads := s.Run.Beads
	bins := ts.ZLUTRadialSteps
	data := make([]float64, len(beads)*len(planes)*bins)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.QueueConfig().NumThreads)
	for p, path := range planes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			fr, err := imageio.LoadFrame(path)
			if err != nil {
				return err
			}
			e, err := track.NewEngine(ts.Width, ts.Height, ts.XCor1DProfileLength)
			if err != nil {
				return err
			}
			for b, start := range beads {
				roi, origin, err := fr.ROICentered(start.X, start.Y, ts.Width, ts.Height)
				if err != nil {
					return fmt.Errorf("plane %d bead %d: %w", p, b, err)
				}
				if err := e.SetImageFloat(roi); err != nil {
					return err
				}
				job := track.LocalizationJob{Mode: track.LocalizeQI, Bead: b, ZLUTPlane: p}
				res := e.Localize(job, ts)
				off := (res.Job.Bead*len(planes) + res.Job.ZLUTPlane) * bins
				if e.ComputeRadialProfile(data[off:off+bins], ts.ZLUTAngularSteps, ts.ZLUTMinRadius, ts.ZLUTMaxRadius, res.Pos.XY()) {
					monitoring.Logf("[zlut] plane %d bead %d: profile centre (%.2f, %.2f) clamped to the ROI",
						p, b, res.Pos.X+float64(origin.X), res.Pos.Y+float64(origin.Y))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	z, err := track.NewZLUT(data, len(beads), len(planes), bins, ts.ZLUTMinRadius, ts.ZLUTMaxRadius,
		ts.ZLUTAngularSteps, s.GetZCompare(), false)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("[zlut] built %d beads x %d planes x %d bins (%s)", z.Count, z.Planes, z.RadialSteps, z.Mode)
	return z, nil
}

// DiagnoseZ localizes one bead in a single frame and returns the axial
// estimate together with the per-plane scores behind it.
func DiagnoseZ(s *config.Settings, z *track.ZLUT, framePath string, bead int) (track.ZEstimate, track.ZDiagnostics, error) {
	if z == nil {
		return track.ZEstimate{}, track.ZDiagnostics{}, fmt.Errorf("%w: no ZLUT", track.ErrInvalidArgument)
	}
	if bead < 0 || bead >= len(s.Run.Beads) || bead >= z.Count {
		return track.ZEstimate{}, track.ZDiagnostics{}, fmt.Errorf("%w: bead %d out of range", track.ErrInvalidArgument, bead)
	}
	ts := s.Tracker.WithDefaults()
	fr, err := imageio.LoadFrame(framePath)
	if err != nil {
		return track.ZEstimate{}, track.ZDiagnostics{}, err
	}
	start := s.Run.Beads[bead]
	roi, _, err := fr.ROICentered(start.X, start.Y, ts.Width, ts.Height)
	if err != nil {
		return track.ZEstimate{}, track.ZDiagnostics{}, err
	}
	e, err := track.NewEngine(ts.Width, ts.Height, ts.XCor1DProfileLength)
	if err != nil {
		return track.ZEstimate{}, track.ZDiagnostics{}, err
	}
	if err := e.SetImageFloat(roi); err != nil {
		return track.ZEstimate{}, track.ZDiagnostics{}, err
	}
	e.SetZLUT(z)
	res := e.Localize(track.LocalizationJob{Mode: s.GetMode() &^ track.LocalizeZ, Bead: bead}, ts)
	est, diag := e.ComputeZDiagnostics(res.Pos.XY(), bead)
	return est, diag, nil
}
