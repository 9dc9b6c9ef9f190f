package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/banshee-data/beadtrack/internal/config"
	"github.com/banshee-data/beadtrack/internal/results"
	"github.com/banshee-data/beadtrack/internal/results/sqlite"
)

// resultSet is a result file read back into memory.
type resultSet struct {
	Format   results.Format
	NumBeads int
	RunID    string
	Rows     []results.Row
	// Layout names the columns the rows were written with.
	Layout results.Config
}

// detectFormat picks the reader from the file extension unless override
// names one.
func detectFormat(path, override string) (results.Format, error) {
	if override != "" {
		return results.ParseFormat(override)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin":
		return results.FormatBinary, nil
	case ".db", ".sqlite", ".sqlite3":
		return results.FormatSQLite, nil
	}
	return results.FormatText, nil
}

func loadResults(path, format, runID string, s *config.Settings) (resultSet, error) {
	f, err := detectFormat(path, format)
	if err != nil {
		return resultSet{}, err
	}
	set := resultSet{Format: f}
	switch f {
	case results.FormatBinary:
		hdr, rows, err := results.ReadBinaryFile(path)
		if err != nil {
			return resultSet{}, err
		}
		set.NumBeads, set.Rows = int(hdr.NumBeads), rows
		set.Layout = results.Config{NumBeads: set.NumBeads, NumFrameInfoColumns: int(hdr.NumFrameInfoColumns)}
	case results.FormatSQLite:
		db, err := sqlite.NewDB(path)
		if err != nil {
			return resultSet{}, err
		}
		defer db.Close()
		var run sqlite.Run
		if runID == "" {
			run, err = db.LatestRun()
		} else {
			run, err = db.GetRun(runID)
		}
		if err != nil {
			return resultSet{}, fmt.Errorf("%s: %w", path, err)
		}
		rows, err := db.ReadRows(run.ID)
		if err != nil {
			return resultSet{}, err
		}
		set.NumBeads, set.RunID, set.Rows = run.Config.NumBeads, run.ID, rows
		set.Layout = run.Config
	default:
		cfg := s.ResultsConfig()
		rows, err := results.ReadTextFile(path, cfg)
		if err != nil {
			return resultSet{}, err
		}
		set.NumBeads, set.Rows, set.Layout = cfg.NumBeads, rows, cfg
	}
	return set, nil
}
