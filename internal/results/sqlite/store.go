package sqlite

import (
	"encoding/json"
	"fmt"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/banshee-data/beadtrack/internal/monitoring"
	"github.com/banshee-data/beadtrack/internal/results"
)

// Store is a results.Writer that appends rows to a new run in a SQLite
// database. Like the file writers it holds the output lock for its
// lifetime.
type Store struct {
	db    *DB
	lock  *flock.Flock
	cfg   results.Config
	runID string
}

var _ results.Writer = (*Store)(nil)

// Create opens or creates the database at path and registers a new run
// for cfg.
func Create(path string, cfg results.Config) (*Store, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lock, err := results.LockOutput(path)
	if err != nil {
		return nil, err
	}
	db, err := NewDB(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	names := cfg.FrameInfoNames
	if names == nil {
		names = []string{}
	}
	namesJSON, err := json.Marshal(names)
	if err != nil {
		db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	s := &Store{db: db, lock: lock, cfg: cfg, runID: uuid.NewString()}
	_, err = db.Exec(`
		INSERT INTO runs (run_id, num_beads, num_frame_info, frame_info_names,
			scale_x, scale_y, scale_z, offset_x, offset_y, offset_z,
			write_interval, max_frames_in_memory)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, cfg.NumBeads, cfg.NumFrameInfoColumns, string(namesJSON),
		cfg.Scale.X, cfg.Scale.Y, cfg.Scale.Z, cfg.Offset.X, cfg.Offset.Y, cfg.Offset.Z,
		cfg.WriteInterval, cfg.MaxFramesInMemory)
	if err != nil {
		db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to register run: %w", err)
	}
	monitoring.Logf("[sqlite] run %s started in %s (%d beads)", s.runID, path, cfg.NumBeads)
	return s, nil
}

// RunID returns the id of the run rows are written to.
func (s *Store) RunID() string { return s.runID }

// DB returns the underlying database for queries.
func (s *Store) DB() *DB { return s.db }

// WriteRows inserts rows in a single transaction. Removed beads get no
// position row.
func (s *Store) WriteRows(rows []results.Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	frameStmt, err := tx.Prepare(`INSERT INTO frames (run_id, frame, timestamp, frame_info) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer frameStmt.Close()
	posStmt, err := tx.Prepare(`INSERT INTO bead_positions (run_id, frame, bead, x, y, z) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer posStmt.Close()

	for _, row := range rows {
		if len(row.Positions) != s.cfg.NumBeads || len(row.FrameInfo) != s.cfg.NumFrameInfoColumns {
			return fmt.Errorf("%w: frame %d has %d beads and %d info columns, run expects %d and %d",
				results.ErrInvalidArgument, row.Frame, len(row.Positions), len(row.FrameInfo),
				s.cfg.NumBeads, s.cfg.NumFrameInfoColumns)
		}
		info := make([]interface{}, len(row.FrameInfo))
		for i, v := range row.FrameInfo {
			info[i] = toNull(v)
		}
		infoJSON, err := json.Marshal(info)
		if err != nil {
			return err
		}
		if _, err := frameStmt.Exec(s.runID, row.Frame, row.Timestamp, string(infoJSON)); err != nil {
			return fmt.Errorf("failed to insert frame %d: %w", row.Frame, err)
		}
		for b, p := range row.Positions {
			if b < len(row.Removed) && row.Removed[b] {
				continue
			}
			if _, err := posStmt.Exec(s.runID, row.Frame, b, toNull(p.X), toNull(p.Y), toNull(p.Z)); err != nil {
				return fmt.Errorf("failed to insert frame %d bead %d: %w", row.Frame, b, err)
			}
		}
	}
	return tx.Commit()
}

// Sync checkpoints the write-ahead log into the main database file.
func (s *Store) Sync() error {
	_, err := s.db.Exec(`PRAGMA wal_checkpoint(FULL)`)
	return err
}

func (s *Store) Close() error {
	err := s.db.Close()
	if uerr := s.lock.Unlock(); uerr != nil && err == nil {
		err = fmt.Errorf("release lock: %w", uerr)
	}
	return err
}

// OpenManager creates a Store at path and starts a results.Manager
// writing to it.
func OpenManager(path string, cfg results.Config, opts ...results.Option) (*results.Manager, *Store, error) {
	cfg.Format = results.FormatSQLite
	s, err := Create(path, cfg)
	if err != nil {
		return nil, nil, err
	}
	m, err := results.NewManager(cfg, s, opts...)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	return m, s, nil
}
