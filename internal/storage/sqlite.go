package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/archivext/internal/models"
	"github.com/hyperjump/archivext/internal/recordid"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_records (
		position INTEGER PRIMARY KEY,
		id TEXT NOT NULL,
		date TEXT NOT NULL,
		auteur TEXT NOT NULL,
		code TEXT NOT NULL,
		flag TEXT NOT NULL,
		description TEXT NOT NULL,
		statut TEXT NOT NULL,
		respo TEXT NOT NULL,
		saved_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_session_records_id ON session_records(id);

	CREATE TABLE IF NOT EXISTS archive_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL,
		code TEXT NOT NULL,
		file TEXT NOT NULL,
		archived_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_archive_log_archived_at ON archive_log(archived_at);
	`
	_, err := db.Exec(schema)
	return err
}

// SaveSession replaces the stored session in one transaction.
func (s *SQLiteStorage) SaveSession(ctx context.Context, records []*models.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_records`); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO session_records (position, id, date, auteur, code, flag, description, statut, respo, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for i, r := range records {
		respo := r.Responsible
		if respo == nil {
			respo = []string{}
		}
		respoJSON, err := json.Marshal(respo)
		if err != nil {
			return fmt.Errorf("failed to marshal respo: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, i+1, recordid.ID(r), r.Date, r.Author, r.Code, r.Flag,
			r.Description, r.Status, string(respoJSON), now); err != nil {
			return fmt.Errorf("failed to save record %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}

// LoadSession returns the stored session ordered by position.
func (s *SQLiteStorage) LoadSession(ctx context.Context) ([]*models.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, auteur, code, flag, description, statut, respo
		 FROM session_records ORDER BY position`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		var r models.Record
		var respoJSON string
		if err := rows.Scan(&r.Date, &r.Author, &r.Code, &r.Flag, &r.Description, &r.Status, &respoJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(respoJSON), &r.Responsible); err != nil {
			return nil, fmt.Errorf("failed to unmarshal respo of %s: %w", r.Code, err)
		}
		r.Normalize()
		records = append(records, &r)
	}
	return records, rows.Err()
}

// CountRecords returns the number of records in the stored session.
func (s *SQLiteStorage) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_records`).Scan(&count)
	return count, err
}

// LogArchived appends entries to the archiving log.
func (s *SQLiteStorage) LogArchived(ctx context.Context, entries []ArchivedEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO archive_log (id, code, file, archived_at) VALUES (?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		at := e.ArchivedAt
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Code, e.File, at); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListArchived returns the most recent archiving log entries, newest first.
func (s *SQLiteStorage) ListArchived(ctx context.Context, limit int) ([]ArchivedEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, file, archived_at FROM archive_log ORDER BY seq DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ArchivedEntry
	for rows.Next() {
		var e ArchivedEntry
		if err := rows.Scan(&e.ID, &e.Code, &e.File, &e.ArchivedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountArchived returns the number of archiving log entries.
func (s *SQLiteStorage) CountArchived(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archive_log`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
