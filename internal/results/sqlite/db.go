// Package sqlite stores tracking results in a SQLite database. Each
// aggregator session is a run; frames and per-bead positions are rows
// keyed by run id.
package sqlite

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"

	"github.com/banshee-data/beadtrack/internal/results"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned when a run id is not in the database.
var ErrRunNotFound = errors.New("run not found")

type DB struct {
	*sql.DB
	path string
}

// NewDB opens path and brings its schema up to date.
func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps WAL and foreign key settings on every statement
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON; PRAGMA busy_timeout=5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}
	d := &DB{DB: db, path: path}
	if err := d.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// MigrateUp runs all pending migrations up to the latest version.
func (db *DB) MigrateUp() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	// m is not closed: that would close the underlying DB connection.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current schema version and dirty state.
func (db *DB) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := db.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if err != nil && errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (db *DB) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Run describes one stored aggregator session.
type Run struct {
	ID        string         `json:"run_id"`
	CreatedAt string         `json:"created_at"`
	Config    results.Config `json:"config"`
	Frames    int            `json:"frames"`
}

// Runs lists every run, oldest first.
func (db *DB) Runs() ([]Run, error) {
	rows, err := db.Query(`
		SELECT r.run_id, r.created_at, r.num_beads, r.num_frame_info, r.frame_info_names,
		       r.scale_x, r.scale_y, r.scale_z, r.offset_x, r.offset_y, r.offset_z,
		       r.write_interval, r.max_frames_in_memory,
		       (SELECT COUNT(*) FROM frames f WHERE f.run_id = r.run_id)
		FROM runs r
		ORDER BY r.created_at, r.rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r     Run
			names string
		)
		c := &r.Config
		if err := rows.Scan(&r.ID, &r.CreatedAt, &c.NumBeads, &c.NumFrameInfoColumns, &names,
			&c.Scale.X, &c.Scale.Y, &c.Scale.Z, &c.Offset.X, &c.Offset.Y, &c.Offset.Z,
			&c.WriteInterval, &c.MaxFramesInMemory, &r.Frames); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(names), &c.FrameInfoNames); err != nil {
			return nil, fmt.Errorf("run %s: bad frame info names: %w", r.ID, err)
		}
		c.Format = results.FormatSQLite
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recently created run.
func (db *DB) LatestRun() (Run, error) {
	runs, err := db.Runs()
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrRunNotFound
	}
	return runs[len(runs)-1], nil
}

// GetRun returns the run with the given id.
func (db *DB) GetRun(runID string) (Run, error) {
	runs, err := db.Runs()
	if err != nil {
		return Run{}, err
	}
	for _, r := range runs {
		if r.ID == runID {
			return r, nil
		}
	}
	return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

// ReadRows returns every frame of a run in frame order. Beads without a
// position row were removed when the frame was written; NULL coordinates
// read back as NaN.
func (db *DB) ReadRows(runID string) ([]results.Row, error) {
	run, err := db.GetRun(runID)
	if err != nil {
		return nil, err
	}
	cfg := run.Config

	frames, err := db.Query(`SELECT frame, timestamp, frame_info FROM frames WHERE run_id = ? ORDER BY frame`, runID)
	if err != nil {
		return nil, err
	}
	var out []results.Row
	index := make(map[int]int)
	for frames.Next() {
		var (
			row  results.Row
			info string
		)
		if err := frames.Scan(&row.Frame, &row.Timestamp, &info); err != nil {
			frames.Close()
			return nil, err
		}
		if row.FrameInfo, err = decodeFrameInfo(info); err != nil {
			frames.Close()
			return nil, fmt.Errorf("frame %d: bad frame info: %w", row.Frame, err)
		}
		row.Positions = make([]results.Vector3f, cfg.NumBeads)
		row.Removed = make([]bool, cfg.NumBeads)
		for b := range row.Removed {
			row.Removed[b] = true
			row.Positions[b] = nanVector()
		}
		index[row.Frame] = len(out)
		out = append(out, row)
	}
	frames.Close()
	if err := frames.Err(); err != nil {
		return nil, err
	}

	pos, err := db.Query(`SELECT frame, bead, x, y, z FROM bead_positions WHERE run_id = ?`, runID)
	if err != nil {
		return nil, err
	}
	defer pos.Close()
	for pos.Next() {
		var (
			frame, bead int
			x, y, z     sql.NullFloat64
		)
		if err := pos.Scan(&frame, &bead, &x, &y, &z); err != nil {
			return nil, err
		}
		i, ok := index[frame]
		if !ok || bead < 0 || bead >= cfg.NumBeads {
			continue
		}
		out[i].Removed[bead] = false
		out[i].Positions[bead] = results.Vector3f{X: fromNull(x), Y: fromNull(y), Z: fromNull(z)}
	}
	if err := pos.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if !anyTrue(out[i].Removed) {
			out[i].Removed = nil
		}
	}
	return out, nil
}

// BeadTrace returns the stored positions of one bead in [start, end).
func (db *DB) BeadTrace(runID string, bead, start, end int) ([]results.Row, error) {
	rows, err := db.Query(`
		SELECT f.frame, f.timestamp, p.x, p.y, p.z
		FROM bead_positions p JOIN frames f ON f.run_id = p.run_id AND f.frame = p.frame
		WHERE p.run_id = ? AND p.bead = ? AND p.frame >= ? AND p.frame < ?
		ORDER BY p.frame`, runID, bead, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []results.Row
	for rows.Next() {
		var (
			r       results.Row
			x, y, z sql.NullFloat64
		)
		if err := rows.Scan(&r.Frame, &r.Timestamp, &x, &y, &z); err != nil {
			return nil, err
		}
		r.Positions = []results.Vector3f{{X: fromNull(x), Y: fromNull(y), Z: fromNull(z)}}
		out = append(out, r)
	}
	return out, rows.Err()
}

// decodeFrameInfo parses a JSON array in which null stands for NaN.
func decodeFrameInfo(s string) ([]float32, error) {
	var vals []*float64
	if err := json.Unmarshal([]byte(s), &vals); err != nil {
		return nil, err
	}
	out := make([]float32, len(vals))
	for i, v := range vals {
		if v == nil {
			out[i] = float32(math.NaN())
		} else {
			out[i] = float32(*v)
		}
	}
	return out, nil
}

func fromNull(v sql.NullFloat64) float32 {
	if !v.Valid {
		return float32(math.NaN())
	}
	return float32(v.Float64)
}

func toNull(v float32) interface{} {
	if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
		return nil
	}
	return float64(v)
}

func nanVector() results.Vector3f {
	n := float32(math.NaN())
	return results.Vector3f{X: n, Y: n, Z: n}
}

func anyTrue(b []bool) bool {
	for _, v := range b {
		if v {
			return true
		}
	}
	return false
}

// AttachAdminRoutes mounts tailsql over the database on the tsweb debug
// page of mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.path, db.DB, &tailsql.DBOptions{
		Label: "Tracking results",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())
	return nil
}
