package results

import (
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// Writer persists rows in frame order. Implementations need not be safe
// for concurrent use; the Manager serialises calls.
type Writer interface {
	WriteRows(rows []Row) error
	// Sync makes every row written so far durable.
	Sync() error
	Close() error
}

// OpenWriter creates a file writer for the text or binary format,
// truncating path. An exclusive lock on path+".lock" is held until Close,
// so a second writer on the same path fails. SQLite output is provided by
// the results/sqlite package.
func OpenWriter(path string, cfg Config) (Writer, error) {
	switch cfg.Format {
	case FormatText:
		return newTextWriter(path, cfg)
	case FormatBinary:
		return newBinaryWriter(path, cfg)
	case FormatSQLite:
		return nil, fmt.Errorf("%w: sqlite output must be opened with the results/sqlite package", ErrInvalidArgument)
	}
	return nil, fmt.Errorf("%w: unknown format %v", ErrInvalidArgument, cfg.Format)
}

// outputFile is an os.File guarded by an flock on a sidecar lock file.
type outputFile struct {
	*os.File
	lock *flock.Flock
}

func createLocked(path string) (*outputFile, error) {
	lock, err := LockOutput(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}
	return &outputFile{File: f, lock: lock}, nil
}

// LockOutput takes the exclusive writer lock for path.
func LockOutput(path string) (*flock.Flock, error) {
	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock for %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("output %s is locked by another writer", path)
	}
	return lock, nil
}

func (f *outputFile) Close() error {
	err := f.File.Close()
	if uerr := f.lock.Unlock(); uerr != nil && err == nil {
		err = fmt.Errorf("release lock: %w", uerr)
	}
	return err
}
