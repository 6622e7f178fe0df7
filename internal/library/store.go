// Package library persists the apps the service has imported or signed.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

// Kind separates downloaded packages from re-signed ones.
type Kind string

const (
	KindImported Kind = "imported"
	KindSigned   Kind = "signed"
)

var ErrNotFound = errors.New("app not found")

// App is one package in the library.
type App struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	BundleID  string    `json:"bundle_id"`
	Version   string    `json:"version"`
	Kind      Kind      `json:"kind"`
	Path      string    `json:"path"`
	Icon      string    `json:"icon,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store provides SQLite-backed persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens the SQLite database at dbPath and runs migrations
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and writes are
	// serialised by SQLite anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Library store opened", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Save inserts app, replacing any row with the same id.
func (s *Store) Save(ctx context.Context, app *App) error {
	const query = `
		INSERT OR REPLACE INTO apps (id, name, bundle_id, version, kind, path, icon, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if app.CreatedAt.IsZero() {
		app.CreatedAt = time.Now().UTC()
	}
	if app.Kind == "" {
		app.Kind = KindImported
	}

	_, err := s.db.ExecContext(ctx, query,
		app.ID, app.Name, app.BundleID, app.Version, string(app.Kind), app.Path, app.Icon, app.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save app %s: %w", app.ID, err)
	}
	return nil
}

// Get returns the app with id.
func (s *Store) Get(ctx context.Context, id string) (*App, error) {
	const query = `
		SELECT id, name, bundle_id, version, kind, path, icon, created_at
		FROM apps WHERE id = ?
	`
	app, err := scanApp(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get app %s: %w", id, err)
	}
	return app, nil
}

// List returns apps newest first. An empty kind lists every app.
func (s *Store) List(ctx context.Context, kind Kind) ([]*App, error) {
	query := `
		SELECT id, name, bundle_id, version, kind, path, icon, created_at
		FROM apps
	`
	var args []any
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY created_at DESC, name ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	defer rows.Close()

	apps := []*App{}
	for rows.Next() {
		app, err := scanApp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan app: %w", err)
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate apps: %w", err)
	}
	return apps, nil
}

// Delete removes the app with id.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM apps WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete app %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Count returns how many apps carry id (zero or one).
func (s *Store) Count(ctx context.Context, id string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM apps WHERE id = ?", id).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count app %s: %w", id, err)
	}
	return n, nil
}

// Exists reports whether an app with id has been stored. It has the shape of
// a monitor resolver: an operation succeeded when its app landed here.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	n, err := s.Count(ctx, id)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanApp(row scanner) (*App, error) {
	var (
		app  App
		kind string
		icon sql.NullString
	)
	if err := row.Scan(&app.ID, &app.Name, &app.BundleID, &app.Version, &kind, &app.Path, &icon, &app.CreatedAt); err != nil {
		return nil, err
	}
	app.Kind = Kind(kind)
	app.Icon = icon.String
	return &app, nil
}
