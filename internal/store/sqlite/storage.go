// ABOUTME: SQLite-backed offset store with history
// ABOUTME: Appends every stored offset and serves the newest on load
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/Resonate-Protocol/timesync-go/internal/store"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Storage keeps every stored offset in an SQLite table.
type Storage struct {
	db *sql.DB
}

// New opens the database at dbPath and applies migrations.
// Use ":memory:" for a throwaway database.
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Storage{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func (s *Storage) runMigrations() error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(logrus.StandardLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up failed: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Storage) Close() error {
	return s.db.Close()
}

// LoadOffset returns the most recently stored offset.
func (s *Storage) LoadOffset(ctx context.Context) (int64, bool, error) {
	var offset int64
	err := s.db.QueryRowContext(ctx,
		`SELECT offset_us FROM offsets ORDER BY id DESC LIMIT 1`,
	).Scan(&offset)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to load offset: %w", err)
	}
	return offset, true, nil
}

// StoreOffset appends offset to the history.
func (s *Storage) StoreOffset(ctx context.Context, offset int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO offsets (offset_us, stored_at) VALUES (?, ?)`,
		offset, time.Now().UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("failed to store offset: %w", err)
	}
	return nil
}

// History returns up to limit records, newest first.
func (s *Storage) History(ctx context.Context, limit int) ([]store.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT offset_us, stored_at FROM offsets ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []store.Record
	for rows.Next() {
		var offset, storedAt int64
		if err := rows.Scan(&offset, &storedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		records = append(records, store.Record{
			Offset:   offset,
			StoredAt: time.UnixMicro(storedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return records, nil
}
