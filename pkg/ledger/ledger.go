// pkg/ledger/ledger.go
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotRecorded indicates the package has no ledger record
var ErrNotRecorded = errors.New("package not installed")

// Record describes one installed package and the files it owns
type Record struct {
	Name        string
	Version     string
	Source      string
	InstalledAt time.Time
	Files       []string // slash-separated, relative to the packages directory
}

// Ledger stores install records in a SQLite database
type Ledger struct {
	db *sql.DB
}

// Open opens (creating if needed) the ledger database at path
func Open(ctx context.Context, path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	l := &Ledger{db: db}
	if err := l.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS packages (
  name TEXT PRIMARY KEY,
  version TEXT NOT NULL DEFAULT '',
  source TEXT NOT NULL DEFAULT '',
  installed_at TEXT NOT NULL,
  files TEXT NOT NULL DEFAULT '[]'
);
`
	if _, err := l.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create packages table: %w", err)
	}
	return nil
}

// Put inserts or replaces the record for rec.Name
func (l *Ledger) Put(ctx context.Context, rec Record) error {
	files := rec.Files
	if files == nil {
		files = []string{}
	}
	encoded, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("encode files: %w", err)
	}

	const stmt = `
INSERT INTO packages (name, version, source, installed_at, files)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  version=excluded.version,
  source=excluded.source,
  installed_at=excluded.installed_at,
  files=excluded.files;
`
	_, err = l.db.ExecContext(ctx, stmt,
		rec.Name,
		rec.Version,
		rec.Source,
		rec.InstalledAt.UTC().Format(time.RFC3339),
		string(encoded),
	)
	if err != nil {
		return fmt.Errorf("upsert package %s: %w", rec.Name, err)
	}
	return nil
}

// Get returns the record for name or ErrNotRecorded
func (l *Ledger) Get(ctx context.Context, name string) (*Record, error) {
	row := l.db.QueryRowContext(ctx,
		`SELECT name, version, source, installed_at, files FROM packages WHERE name = ?`, name)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotRecorded, name)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes the record for name
func (l *Ledger) Delete(ctx context.Context, name string) error {
	res, err := l.db.ExecContext(ctx, `DELETE FROM packages WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete package %s: %w", name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotRecorded, name)
	}
	return nil
}

// List returns every record ordered by name
func (l *Ledger) List(ctx context.Context) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT name, version, source, installed_at, files FROM packages ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}
	return out, nil
}

// Owners maps every recorded file to the package owning it
func (l *Ledger) Owners(ctx context.Context) (map[string]string, error) {
	records, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	owners := make(map[string]string)
	for _, rec := range records {
		for _, f := range rec.Files {
			owners[f] = rec.Name
		}
	}
	return owners, nil
}

// Close closes the database
func (l *Ledger) Close() error {
	return l.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec         Record
		installedAt string
		files       string
	)
	if err := s.Scan(&rec.Name, &rec.Version, &rec.Source, &installedAt, &files); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan package: %w", err)
	}

	t, err := time.Parse(time.RFC3339, installedAt)
	if err != nil {
		return nil, fmt.Errorf("parse installed_at for %s: %w", rec.Name, err)
	}
	rec.InstalledAt = t

	if err := json.Unmarshal([]byte(files), &rec.Files); err != nil {
		return nil, fmt.Errorf("decode files for %s: %w", rec.Name, err)
	}
	return &rec, nil
}
