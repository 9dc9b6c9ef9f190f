package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newDumpCommand(ctx *commandContext) *cobra.Command {
	var (
		format   string
		runID    string
		head     int
		maxBeads int
	)
	cmd := &cobra.Command{
		Use:   "dump <results-file>",
		Short: "Print a result file as a table",
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
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, describeResults(args[0], set))
			fmt.Fprintln(out, renderRows(set, head, maxBeads))
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Input format: text, binary or sqlite (default from extension)")
	cmd.Flags().StringVar(&runID, "run", "", "SQLite run id (default latest)")
	cmd.Flags().IntVarP(&head, "head", "n", 20, "Rows to print, 0 for all")
	cmd.Flags().IntVar(&maxBeads, "beads", 4, "Beads to print, 0 for all")
	return cmd
}

func describeResults(path string, set resultSet) string {
	size := "?"
	if fi, err := os.Stat(path); err == nil {
		size = humanize.Bytes(uint64(fi.Size()))
	}
	line := fmt.Sprintf("%s: %s, %s, %s frames of %d beads", path, set.Format, size,
		humanize.Comma(int64(len(set.Rows))), set.NumBeads)
	if set.RunID != "" {
		line += ", run " + set.RunID
	}
	return line
}

func renderRows(set resultSet, head, maxBeads int) string {
	layout := set.Layout
	layout.NumBeads = set.NumBeads
	if maxBeads > 0 && maxBeads < layout.NumBeads {
		layout.NumBeads = maxBeads
	}
	rows := set.Rows
	if head > 0 && head < len(rows) {
		rows = rows[:head]
	}
	cells := make([][]string, len(rows))
	for i, row := range rows {
		cells[i] = rowCells(layout, row)
	}
	return renderTable(rowColumns(layout), cells)
}
