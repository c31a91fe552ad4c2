package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/artpar/kalita/core/record"
	"github.com/artpar/kalita/pkg/jsonx"
	"github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store with SQLite. All entities share one records
// table; data is stored as a JSON document.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at path and applies pending migrations.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Set pragmas for performance
	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrate runs all pending migrations.
func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("query migrations: %w", err)
	}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("scan migration: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var migrations []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			migrations = append(migrations, entry.Name())
		}
	}
	sort.Strings(migrations)

	for _, name := range migrations {
		version := strings.TrimSuffix(name, ".sql")
		if applied[version] {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", name, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", name, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", name, err)
		}
	}

	return nil
}

// Insert stores a new record.
func (s *SQLiteStore) Insert(ctx context.Context, entity string, rec record.Record) error {
	data, err := json.Marshal(rec.Data)
	if err != nil {
		return fmt.Errorf("encode data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (entity, id, version, created_at, updated_at, deleted_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entity, rec.ID, rec.Version, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), formatTimePtr(rec.DeletedAt), string(data))
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrExists
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Get returns a record by id.
func (s *SQLiteStore) Get(ctx context.Context, entity, id string) (record.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, version, created_at, updated_at, deleted_at, data
		FROM records WHERE entity = ? AND id = ?
	`, entity, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, ErrNotFound
	}
	return rec, err
}

// Scan visits records in insertion order.
func (s *SQLiteStore) Scan(ctx context.Context, entity string, fn func(record.Record) bool) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, created_at, updated_at, deleted_at, data
		FROM records WHERE entity = ? ORDER BY seq
	`, entity)
	if err != nil {
		return fmt.Errorf("scan records: %w", err)
	}

	// Buffer the page so fn may query the store without holding the only connection.
	var recs []record.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("scan records: %w", err)
	}
	rows.Close()

	for _, rec := range recs {
		if !fn(rec) {
			break
		}
	}
	return nil
}

// Update applies mutate with a conditional UPDATE on the version column.
func (s *SQLiteStore) Update(ctx context.Context, entity, id string, expected int64, mutate Mutator) (record.Record, error) {
	for {
		cur, err := s.Get(ctx, entity, id)
		if err != nil {
			return record.Record{}, err
		}
		if expected != AnyVersion && cur.Version != expected {
			return record.Record{}, ErrVersionConflict
		}

		next, err := mutate(cur.Clone())
		if errors.Is(err, ErrSkip) {
			return cur, nil
		}
		if err != nil {
			return record.Record{}, err
		}
		next.ID = cur.ID
		next.CreatedAt = cur.CreatedAt
		next.Version = cur.Version + 1

		data, err := json.Marshal(next.Data)
		if err != nil {
			return record.Record{}, fmt.Errorf("encode data: %w", err)
		}

		res, err := s.db.ExecContext(ctx, `
			UPDATE records SET version = ?, updated_at = ?, deleted_at = ?, data = ?
			WHERE entity = ? AND id = ? AND version = ?
		`, next.Version, formatTime(next.UpdatedAt), formatTimePtr(next.DeletedAt), string(data), entity, id, cur.Version)
		if err != nil {
			return record.Record{}, fmt.Errorf("update record: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return record.Record{}, fmt.Errorf("rows affected: %w", err)
		}
		if n == 1 {
			return next, nil
		}
		if expected != AnyVersion {
			return record.Record{}, ErrVersionConflict
		}
	}
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (record.Record, error) {
	var (
		rec                  record.Record
		createdAt, updatedAt string
		deletedAt            sql.NullString
		data                 string
	)
	if err := row.Scan(&rec.ID, &rec.Version, &createdAt, &updatedAt, &deletedAt, &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return record.Record{}, err
		}
		return record.Record{}, fmt.Errorf("scan record: %w", err)
	}

	var err error
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return record.Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return record.Record{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if deletedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, deletedAt.String)
		if err != nil {
			return record.Record{}, fmt.Errorf("parse deleted_at: %w", err)
		}
		rec.DeletedAt = &t
	}
	if rec.Data, err = jsonx.DecodeObject([]byte(data)); err != nil {
		return record.Record{}, fmt.Errorf("decode data: %w", err)
	}
	if rec.Data == nil {
		rec.Data = map[string]any{}
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

var _ Store = (*SQLiteStore)(nil)
