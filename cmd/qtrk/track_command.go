package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/banshee-data/beadtrack/internal/api"
	"github.com/banshee-data/beadtrack/internal/config"
	"github.com/banshee-data/beadtrack/internal/imageio"
	"github.com/banshee-data/beadtrack/internal/monitoring"
	"github.com/banshee-data/beadtrack/internal/pipeline"
	"github.com/banshee-data/beadtrack/internal/results"
	"github.com/banshee-data/beadtrack/internal/track"
)

const progressEvery = 500

func newTrackCommand(ctx *commandContext) *cobra.Command {
	var (
		zlutStack string
		format    string
		interval  time.Duration
		limit     int
		serve     bool
	)
	cmd := &cobra.Command{
		Use:   "track <frames-dir> <output>",
		Short: "Track the configured beads through a directory of frames",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			if format != "" {
				f, err := results.ParseFormat(format)
				if err != nil {
					return err
				}
				s.Results.Format = f
			}
			frames, err := imageio.ListFrames(args[0])
			if err != nil {
				return err
			}
			if len(frames) == 0 {
				return fmt.Errorf("no frames in %s", args[0])
			}
			if limit > 0 && limit < len(frames) {
				frames = frames[:limit]
			}

			runCtx, stop := signalContext(cmd.Context())
			defer stop()

			var z *track.ZLUT
			if zlutStack != "" {
				if z, err = buildZLUT(runCtx, s, zlutStack); err != nil {
					return err
				}
			}

			cfg := pipeline.Config{
				Settings:      s,
				Frames:        frames,
				Output:        args[1],
				ZLUT:          z,
				FrameInterval: interval,
				Progress: func(frame int, c results.FrameCounters) {
					if frame > 0 && frame%progressEvery == 0 {
						monitoring.Logf("[track] frame %d/%d, %d localizations", frame, len(frames), c.LocalizationsDone)
					}
				},
			}
			serverCtx, stopServer := context.WithCancel(runCtx)
			defer stopServer()
			serverDone := make(chan error, 1)
			serving := false
			if serve {
				cfg.Attach = func(mgr *results.Manager) {
					srv := api.NewServer(mgr, nil, "")
					mux := srv.ServeMux()
					if err := srv.AttachAdminRoutes(mux); err != nil {
						monitoring.Logf("[track] admin routes: %v", err)
					}
					serving = true
					go func() { serverDone <- api.Start(serverCtx, s.GetListen(), api.LoggingMiddleware(mux)) }()
				}
			}

			sum, runErr := pipeline.Run(runCtx, cfg)
			stopServer()
			if serving {
				if err := <-serverDone; err != nil && runErr == nil {
					runErr = err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderSummary(sum, args[1], shouldColorize(out)))
			return runErr
		},
	}
	cmd.Flags().StringVar(&zlutStack, "zlut-stack", "", "Directory of calibration frames, one per focus plane")
	cmd.Flags().StringVar(&format, "format", "", "Output format override: text, binary or sqlite")
	cmd.Flags().DurationVar(&interval, "frame-interval", time.Second, "Time between frames")
	cmd.Flags().IntVar(&limit, "limit", 0, "Track at most this many frames")
	cmd.Flags().BoolVar(&serve, "serve", false, "Serve the live aggregator API while tracking")
	return cmd
}

// buildZLUT samples the calibration frames in dir, one per plane in
// lexical order.
func buildZLUT(ctx context.Context, s *config.Settings, dir string) (*track.ZLUT, error) {
	planes, err := imageio.ListFrames(dir)
	if err != nil {
		return nil, err
	}
	if len(planes) == 0 {
		return nil, fmt.Errorf("no calibration frames in %s", dir)
	}
	return pipeline.BuildZLUT(ctx, s, planes)
}

func renderSummary(sum pipeline.Summary, output string, color bool) string {
	c := sum.Counters
	lost := humanize.Comma(int64(c.LostFrames))
	if c.LostFrames > 0 {
		lost = colorize(lost, ansiYellow, color)
	}
	status := colorize("ok", ansiGreen, color)
	if c.FileError {
		status = colorize("write error", ansiRed, color)
	}
	rate := 0.0
	if secs := sum.Elapsed.Seconds(); secs > 0 {
		rate = float64(c.LocalizationsDone) / secs
	}
	size := "-"
	if fi, err := os.Stat(output); err == nil {
		size = humanize.Bytes(uint64(fi.Size()))
	}

	rows := [][]string{
		{"Output", output},
		{"Size", size},
		{"Frames", humanize.Comma(int64(c.CapturedFrames))},
		{"Saved", humanize.Comma(int64(c.LastSaveFrame))},
		{"Localizations", humanize.Comma(int64(c.LocalizationsDone))},
		{"Lost frames", lost},
		{"Dropped results", humanize.Comma(int64(c.DroppedResults))},
		{"Elapsed", sum.Elapsed.Round(time.Millisecond).String()},
		{"Rate", humanize.SIWithDigits(rate, 1, "loc/s")},
		{"Status", status},
	}
	if sum.RunID != "" {
		rows = append(rows, []string{"Run", sum.RunID})
	}
	return renderTable(summaryColumns, rows)
}
