// Package catalog keeps one SQLite row per logging session so flights can be
// found without scanning the log directory.
package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrNotFound = errors.New("catalog: session not found")

const (
	StateLogging  = "logging"
	StateFinished = "finished"
	StateFailed   = "failed"
)

type Session struct {
	ID          uuid.UUID
	Path        string
	State       string
	StartedAt   time.Time
	StoppedAt   time.Time
	ReferencePa float64
	ReferenceSD float64

	BytesWritten  int64
	MotionRecords uint64
	BaroRecords   uint64
	MotionDropped uint64
	BaroDropped   uint64
	Error         string
}

// Summary is what is known about a session once it stops.
type Summary struct {
	StoppedAt     time.Time
	BytesWritten  int64
	MotionRecords uint64
	BaroRecords   uint64
	MotionDropped uint64
	BaroDropped   uint64
	Err           error
}

type Catalog struct {
	db *sql.DB
}

// Open opens (creating if needed) the catalog at path and migrates it to the
// latest schema.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("catalog: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; avoids SQLITE_BUSY between the session goroutine and readers.
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("catalog: %s: %w", p, err)
		}
	}

	c := &Catalog{db: db}
	if err := c.migrateUp(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Catalog) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("catalog: migrations source: %w", err)
	}
	driver, err := sqlite.WithInstance(c.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("catalog: sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	m.Log = migrateLogger{}
	// m is not closed: that would close c.db.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("catalog: migration up failed: %w", err)
	}
	return nil
}

// Version reports the applied schema version.
func (c *Catalog) Version(ctx context.Context) (uint, error) {
	var v uint
	err := c.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&v)
	return v, err
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("catalog: [migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Begin records a session that has started logging.
func (c *Catalog) Begin(ctx context.Context, s Session) error {
	if s.State == "" {
		s.State = StateLogging
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, path, state, started_unix_ms, reference_pa, reference_std_pa)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID.String(), s.Path, s.State, s.StartedAt.UnixMilli(), s.ReferencePa, s.ReferenceSD)
	if err != nil {
		return fmt.Errorf("catalog: insert session %s: %w", s.ID, err)
	}
	return nil
}

// Finish stores the final counters of a session.
func (c *Catalog) Finish(ctx context.Context, id uuid.UUID, sum Summary) error {
	state, msg := StateFinished, ""
	if sum.Err != nil {
		state, msg = StateFailed, sum.Err.Error()
	}
	res, err := c.db.ExecContext(ctx, `
		UPDATE sessions SET
			state = ?, stopped_unix_ms = ?, bytes_written = ?,
			motion_records = ?, baro_records = ?, motion_dropped = ?, baro_dropped = ?,
			error = ?
		WHERE session_id = ?`,
		state, sum.StoppedAt.UnixMilli(), sum.BytesWritten,
		int64(sum.MotionRecords), int64(sum.BaroRecords), int64(sum.MotionDropped), int64(sum.BaroDropped),
		msg, id.String())
	if err != nil {
		return fmt.Errorf("catalog: update session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

const selectSession = `
	SELECT session_id, path, state, started_unix_ms, stopped_unix_ms,
		reference_pa, reference_std_pa, bytes_written,
		motion_records, baro_records, motion_dropped, baro_dropped, error
	FROM sessions`

func (c *Catalog) Get(ctx context.Context, id uuid.UUID) (Session, error) {
	row := c.db.QueryRowContext(ctx, selectSession+" WHERE session_id = ?", id.String())
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, err
}

// Sessions lists sessions, newest first.
func (c *Catalog) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := c.db.QueryContext(ctx, selectSession+" ORDER BY started_unix_ms DESC, rowid DESC")
	if err != nil {
		return nil, fmt.Errorf("catalog: list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(r scanner) (Session, error) {
	var (
		s                    Session
		id                   string
		started              int64
		stopped              sql.NullInt64
		ref, refSD           sql.NullFloat64
		motion, baro, md, bd int64
	)
	err := r.Scan(&id, &s.Path, &s.State, &started, &stopped, &ref, &refSD,
		&s.BytesWritten, &motion, &baro, &md, &bd, &s.Error)
	if err != nil {
		return Session{}, err
	}
	s.ID, err = uuid.Parse(id)
	if err != nil {
		return Session{}, fmt.Errorf("catalog: bad session id %q: %w", id, err)
	}
	s.StartedAt = time.UnixMilli(started).UTC()
	if stopped.Valid {
		s.StoppedAt = time.UnixMilli(stopped.Int64).UTC()
	}
	s.ReferencePa = ref.Float64
	s.ReferenceSD = refSD.Float64
	s.MotionRecords = uint64(motion)
	s.BaroRecords = uint64(baro)
	s.MotionDropped = uint64(md)
	s.BaroDropped = uint64(bd)
	return s, nil
}

// Duration is the logged span of a finished session.
func (s Session) Duration() time.Duration {
	if s.StoppedAt.IsZero() {
		return 0
	}
	return s.StoppedAt.Sub(s.StartedAt)
}
