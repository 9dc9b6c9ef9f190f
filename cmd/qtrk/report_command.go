package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/banshee-data/beadtrack/internal/monitoring"
	"github.com/banshee-data/beadtrack/internal/pipeline"
	"github.com/banshee-data/beadtrack/internal/report"
)

func newReportCommand(ctx *commandContext) *cobra.Command {
	var (
		outDir    string
		format    string
		runID     string
		beads     []int
		stride    int
		zlutStack string
		zFrame    string
	)
	cmd := &cobra.Command{
		Use:   "report <results-file>",
		Short: "Render bead traces and calibration plots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.ensureSettings()
			if err != nil {
				return err
			}
			set, err := loadResults(args[0], format, runID, s)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return err
			}

			var written []string
			write := func(name string, fn func(io.Writer) error) error {
				path := filepath.Join(outDir, name)
				if err := writeFile(path, fn); err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				written = append(written, path)
				return nil
			}

			title := filepath.Base(args[0])
			if err := write("traces.html", func(w io.Writer) error {
				return report.WriteTraceHTML(w, set.Rows, set.NumBeads, report.TraceOptions{Title: title, Beads: beads, Stride: stride})
			}); err != nil {
				return err
			}

			plotted := beads
			if len(plotted) == 0 {
				for b := 0; b < set.NumBeads; b++ {
					plotted = append(plotted, b)
				}
			}
			for _, b := range plotted {
				for axis, name := range []string{"x", "y", "z"} {
					err := write(fmt.Sprintf("bead%d_%s.png", b, name), func(w io.Writer) error {
						return report.WriteTracePNG(w, set.Rows, b, axis)
					})
					if err != nil {
						// removed beads have nothing to plot
						monitoring.Logf("[report] %v", err)
					}
				}
			}

			if zlutStack != "" {
				z, err := buildZLUT(cmd.Context(), s, zlutStack)
				if err != nil {
					return err
				}
				for b := 0; b < z.Count; b++ {
					if err := write(fmt.Sprintf("zlut_bead%d.png", b), func(w io.Writer) error {
						return report.WriteZLUTPNG(w, z, b)
					}); err != nil {
						return err
					}
					if zFrame == "" {
						continue
					}
					est, diag, err := pipeline.DiagnoseZ(s, z, zFrame, b)
					if err != nil {
						return err
					}
					if err := write(fmt.Sprintf("zscores_bead%d.png", b), func(w io.Writer) error {
						return report.WriteZScoresPNG(w, diag, est)
					}); err != nil {
						return err
					}
				}
			}

			out := cmd.OutOrStdout()
			for _, path := range written {
				fmt.Fprintln(out, path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "report", "Output directory")
	cmd.Flags().StringVar(&format, "format", "", "Input format: text, binary or sqlite (default from extension)")
	cmd.Flags().StringVar(&runID, "run", "", "SQLite run id (default latest)")
	cmd.Flags().IntSliceVar(&beads, "beads", nil, "Beads to plot (default all)")
	cmd.Flags().IntVar(&stride, "stride", 1, "Plot every n-th frame in the HTML traces")
	cmd.Flags().StringVar(&zlutStack, "zlut-stack", "", "Calibration frames to plot as a ZLUT")
	cmd.Flags().StringVar(&zFrame, "z-frame", "", "Frame to plot per-plane Z scores for (needs --zlut-stack)")
	return cmd
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
