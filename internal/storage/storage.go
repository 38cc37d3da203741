package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"flightlog/internal/record"
)

// File is an append-only session log on the local filesystem.
//
// Append is all-or-nothing with respect to the file: a short write is rolled
// back to the previous size so the stream never holds a partial record.
type File struct {
	f      *os.File
	path   string
	size   atomic.Uint64
	closed bool
}

// FileName builds "<prefix>_<yyyymmdd_hhmmss>_<id8>.bin" in UTC.
func FileName(prefix string, now time.Time, id uuid.UUID) string {
	if prefix == "" {
		prefix = "log"
	}
	return fmt.Sprintf("%s_%s_%s.bin", prefix, now.UTC().Format("20060102_150405"), id.String()[:8])
}

// Create makes a new log file (never overwriting) and writes the magic header.
func Create(path string) (*File, error) {
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", path, err)
	}
	sf := &File{f: f, path: path}
	if err := sf.Append(record.Magic[:]); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("storage: write header: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("storage: sync header: %w", err)
	}
	return sf, nil
}

func (sf *File) Path() string { return sf.path }

func (sf *File) Append(p []byte) error {
	if sf.closed {
		return errors.New("storage: file is closed")
	}
	n, err := sf.f.Write(p)
	if err != nil {
		if n > 0 {
			if tErr := sf.f.Truncate(int64(sf.size.Load())); tErr != nil {
				return errors.Join(err, fmt.Errorf("storage: rollback: %w", tErr))
			}
		}
		return err
	}
	sf.size.Add(uint64(n))
	return nil
}

func (sf *File) Sync() error {
	if sf.closed {
		return errors.New("storage: file is closed")
	}
	return sf.f.Sync()
}

func (sf *File) Close() error {
	if sf.closed {
		return nil
	}
	sf.closed = true
	return sf.f.Close()
}

// CurrentSize is safe to call from any goroutine.
func (sf *File) CurrentSize() uint64 { return sf.size.Load() }
