// Package config loads tracker run settings from JSON or TOML files.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/banshee-data/beadtrack/internal/queue"
	"github.com/banshee-data/beadtrack/internal/results"
	"github.com/banshee-data/beadtrack/internal/track"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Settings is the root of a settings file. The tracker, queue and
// results sections map directly onto the package configs; run holds
// options of the offline tracker and the debug server.
type Settings struct {
	Tracker track.Settings `json:"tracker" toml:"tracker"`
	Queue   QueueSettings  `json:"queue" toml:"queue"`
	Results results.Config `json:"results" toml:"results"`
	Run     RunSettings    `json:"run" toml:"run"`
}

type QueueSettings struct {
	NumThreads   int `json:"num_threads" toml:"num_threads"`
	MaxQueueSize int `json:"max_queue_size" toml:"max_queue_size"`
}

// BeadStart is the initial position of a bead in full-frame pixels.
type BeadStart struct {
	X float64 `json:"x" toml:"x"`
	Y float64 `json:"y" toml:"y"`
}

// RunSettings are optional; the Get methods supply defaults.
type RunSettings struct {
	Mode         *string     `json:"mode,omitempty" toml:"mode,omitempty"` // com, xcor or qi
	LocalizeZ    *bool       `json:"localize_z,omitempty" toml:"localize_z,omitempty"`
	ZCompare     *string     `json:"z_compare,omitempty" toml:"z_compare,omitempty"`         // spatial or fourier
	PollInterval *string     `json:"poll_interval,omitempty" toml:"poll_interval,omitempty"` // duration string like "10ms"
	Listen       *string     `json:"listen,omitempty" toml:"listen,omitempty"`
	Beads        []BeadStart `json:"beads,omitempty" toml:"beads,omitempty"`
}

// Default returns settings for a 64x64 ROI with QI localization.
func Default() *Settings {
	return &Settings{
		Tracker: track.Settings{Width: 64, Height: 64},
		Results: results.Config{NumBeads: 1, WriteInterval: 1},
	}
}

// Load reads a .json or .toml settings file. Fields missing from the
// file keep the values of Default, except that results.num_beads follows
// the run.beads list when only the list is given.
func Load(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".toml" {
		return nil, fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	cfg.Results.NumBeads = 0
	if ext == ".json" {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	}
	if cfg.Results.NumBeads == 0 {
		cfg.Results.NumBeads = max(1, len(cfg.Run.Beads))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Settings) Validate() error {
	if err := c.Tracker.WithDefaults().Validate(); err != nil {
		return fmt.Errorf("tracker: %w", err)
	}
	if c.Queue.NumThreads < 0 || c.Queue.MaxQueueSize < 0 {
		return fmt.Errorf("queue: num_threads and max_queue_size must not be negative")
	}
	if err := c.Results.WithDefaults().Validate(); err != nil {
		return fmt.Errorf("results: %w", err)
	}
	if n := len(c.Run.Beads); n > 0 && n != c.Results.NumBeads {
		return fmt.Errorf("run: %d bead positions for %d beads", n, c.Results.NumBeads)
	}
	if _, err := parseMode(c.Run.Mode); err != nil {
		return err
	}
	if _, err := parseCompare(c.Run.ZCompare); err != nil {
		return err
	}
	if c.Run.PollInterval != nil && *c.Run.PollInterval != "" {
		d, err := time.ParseDuration(*c.Run.PollInterval)
		if err != nil {
			return fmt.Errorf("invalid poll_interval '%s': %w", *c.Run.PollInterval, err)
		}
		if d <= 0 {
			return fmt.Errorf("poll_interval must be positive, got %s", d)
		}
	}
	return nil
}

func parseMode(s *string) (track.LocalizeMode, error) {
	if s == nil {
		return track.LocalizeQI, nil
	}
	switch strings.ToLower(*s) {
	case "", "qi":
		return track.LocalizeQI, nil
	case "xcor", "xcor1d":
		return track.LocalizeXCor1D, nil
	case "com":
		return track.LocalizeOnlyCOM, nil
	}
	return 0, fmt.Errorf("invalid mode %q (want com, xcor or qi)", *s)
}

func parseCompare(s *string) (track.CompareMode, error) {
	if s == nil {
		return track.CompareSpatial, nil
	}
	switch strings.ToLower(*s) {
	case "", "spatial":
		return track.CompareSpatial, nil
	case "fourier":
		return track.CompareFourier, nil
	}
	return 0, fmt.Errorf("invalid z_compare %q (want spatial or fourier)", *s)
}

// GetMode returns the localization mode bits, including LocalizeZ when
// enabled.
func (c *Settings) GetMode() track.LocalizeMode {
	m, err := parseMode(c.Run.Mode)
	if err != nil {
		m = track.LocalizeQI
	}
	if c.GetLocalizeZ() {
		m |= track.LocalizeZ
	}
	return m
}

func (c *Settings) GetLocalizeZ() bool {
	return c.Run.LocalizeZ != nil && *c.Run.LocalizeZ
}

func (c *Settings) GetZCompare() track.CompareMode {
	m, err := parseCompare(c.Run.ZCompare)
	if err != nil {
		return track.CompareSpatial
	}
	return m
}

// GetPollInterval returns the aggregator poll period.
func (c *Settings) GetPollInterval() time.Duration {
	if c.Run.PollInterval == nil || *c.Run.PollInterval == "" {
		return results.DefaultPollInterval
	}
	d, err := time.ParseDuration(*c.Run.PollInterval)
	if err != nil || d <= 0 {
		return results.DefaultPollInterval
	}
	return d
}

// GetListen returns the debug server address.
func (c *Settings) GetListen() string {
	if c.Run.Listen == nil || *c.Run.Listen == "" {
		return ":8090"
	}
	return *c.Run.Listen
}

// QueueConfig assembles the job queue configuration.
func (c *Settings) QueueConfig() queue.Config {
	return queue.Config{
		Tracker:      c.Tracker,
		NumThreads:   c.Queue.NumThreads,
		MaxQueueSize: c.Queue.MaxQueueSize,
	}.WithDefaults()
}

// ResultsConfig returns the aggregator configuration with defaults.
func (c *Settings) ResultsConfig() results.Config {
	return c.Results.WithDefaults()
}
