package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"
)

// Status is the lifecycle state of a journaled run.
type Status string

// Run statuses.
const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

const (
	pragmaTimeout  = 5 * time.Second
	dirPermissions = 0o755
)

var (
	// ErrNotFound is returned by Get for unknown ids.
	ErrNotFound = errors.New("ingestion not found")

	errEmptyPath = errors.New("journal path is empty")
)

// Entry is one ingestion run.
type Entry struct {
	ID            string
	Project       string
	Target        string
	Platform      string
	BuildNumber   int
	ArtifactURL   string
	Status        Status
	Stage         string
	Error         string
	ArchivePath   string
	ArchiveDigest string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Outcome is what Finish records about a run.
type Outcome struct {
	Status        Status
	Stage         string
	Error         string
	ArchivePath   string
	ArchiveDigest string
	FinishedAt    time.Time
}

// Repository persists ingestion runs.
type Repository interface {
	Begin(ctx context.Context, entry Entry) error
	Finish(ctx context.Context, id string, outcome Outcome) error
}

// SQLiteRepository stores runs in the "ingestions" table.
type SQLiteRepository struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema.
func Open(ctx context.Context, path string) (*SQLiteRepository, error) {
	if path == "" {
		return nil, errEmptyPath
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	// Workers write concurrently; let SQLite serialize them.
	db.SetMaxOpenConns(1)

	pctx, cancel := context.WithTimeout(ctx, pragmaTimeout)
	defer cancel()

	if _, err = db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if _, err = db.ExecContext(pctx, `
CREATE TABLE IF NOT EXISTS ingestions (
  id             TEXT PRIMARY KEY,
  project        TEXT NOT NULL,
  target         TEXT NOT NULL,
  platform       TEXT NOT NULL,
  build_number   INTEGER NOT NULL DEFAULT 0,
  artifact_url   TEXT NOT NULL,
  status         TEXT NOT NULL,
  stage          TEXT NOT NULL DEFAULT '',
  error          TEXT NOT NULL DEFAULT '',
  archive_path   TEXT NOT NULL DEFAULT '',
  archive_digest TEXT NOT NULL DEFAULT '',
  started_at     TEXT NOT NULL,
  finished_at    TEXT
);`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("create ingestions table: %w", err)
	}

	if _, err = db.ExecContext(pctx,
		`CREATE INDEX IF NOT EXISTS ingestions_slot ON ingestions(project, target, started_at);`); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("create ingestions index: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Begin inserts a running entry.
func (r *SQLiteRepository) Begin(ctx context.Context, e Entry) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO ingestions(id, project, target, platform, build_number, artifact_url, status, started_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.Project, e.Target, e.Platform, e.BuildNumber, e.ArtifactURL, StatusRunning, formatTime(e.StartedAt))
	if err != nil {
		return fmt.Errorf("begin ingestion %s: %w", e.ID, err)
	}

	return nil
}

// Finish stores the outcome of a run.
func (r *SQLiteRepository) Finish(ctx context.Context, id string, o Outcome) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE ingestions
SET status = ?, stage = ?, error = ?, archive_path = ?, archive_digest = ?, finished_at = ?
WHERE id = ?;
`, o.Status, o.Stage, o.Error, o.ArchivePath, o.ArchiveDigest, formatTime(o.FinishedAt), id)
	if err != nil {
		return fmt.Errorf("finish ingestion %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish ingestion %s: %w", id, err)
	}

	if n == 0 {
		return fmt.Errorf("finish ingestion %s: %w", id, ErrNotFound)
	}

	return nil
}

// Get loads one entry.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (Entry, error) {
	var (
		e          Entry
		status     string
		startedAt  string
		finishedAt sql.NullString
	)

	err := r.db.QueryRowContext(ctx, `
SELECT id, project, target, platform, build_number, artifact_url, status, stage, error,
       archive_path, archive_digest, started_at, finished_at
FROM ingestions WHERE id = ?;
`, id).Scan(&e.ID, &e.Project, &e.Target, &e.Platform, &e.BuildNumber, &e.ArtifactURL, &status,
		&e.Stage, &e.Error, &e.ArchivePath, &e.ArchiveDigest, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}

	if err != nil {
		return Entry{}, fmt.Errorf("get ingestion %s: %w", id, err)
	}

	e.Status = Status(status)

	if e.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return Entry{}, fmt.Errorf("parse started_at: %w", err)
	}

	if finishedAt.Valid {
		if e.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt.String); err != nil {
			return Entry{}, fmt.Errorf("parse finished_at: %w", err)
		}
	}

	return e, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}

	return t.UTC().Format(time.RFC3339Nano)
}
