package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nijaru/yt-analyze/errors"
	"github.com/nijaru/yt-analyze/models"
)

// The table holds at most one row, pinned to id 1.
const schema = `
CREATE TABLE IF NOT EXISTS current_transcript (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    video_id TEXT NOT NULL,
    text TEXT NOT NULL,
    status TEXT NOT NULL,
    fetched_at DATETIME NOT NULL
);
`

const (
	upsertTranscriptQuery = `
        INSERT INTO current_transcript (id, video_id, text, status, fetched_at)
        VALUES (1, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            video_id = excluded.video_id,
            text = excluded.text,
            status = excluded.status,
            fetched_at = excluded.fetched_at
    `

	getTranscriptQuery = `
        SELECT video_id, text, status, fetched_at
        FROM current_transcript WHERE id = 1
    `

	deleteTranscriptQuery = `
        DELETE FROM current_transcript
    `
)

type DBConfig struct {
	MaxRetries         int
	RetryDelay         time.Duration
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

func DefaultDBConfig() DBConfig {
	return DBConfig{
		MaxRetries:         3,
		RetryDelay:         100 * time.Millisecond,
		MaxConnections:     1,
		MaxIdleConnections: 1,
		ConnMaxLifetime:    time.Hour,
	}
}

type preparedStatements struct {
	upsert *sql.Stmt
	get    *sql.Stmt
	delete *sql.Stmt
}

func (stmts *preparedStatements) prepare(ctx context.Context, db *sql.DB) error {
	const op = "preparedStatements.prepare"

	var err error
	if stmts.upsert, err = db.PrepareContext(ctx, upsertTranscriptQuery); err != nil {
		return errors.Internal(op, err, "failed to prepare upsert statement")
	}
	if stmts.get, err = db.PrepareContext(ctx, getTranscriptQuery); err != nil {
		return errors.Internal(op, err, "failed to prepare get statement")
	}
	if stmts.delete, err = db.PrepareContext(ctx, deleteTranscriptQuery); err != nil {
		return errors.Internal(op, err, "failed to prepare delete statement")
	}
	return nil
}

func (stmts *preparedStatements) close() {
	for _, stmt := range []*sql.Stmt{stmts.upsert, stmts.get, stmts.delete} {
		if stmt != nil {
			stmt.Close()
		}
	}
}

type SQLiteStore struct {
	db         *sql.DB
	config     DBConfig
	statements preparedStatements
}

func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	const op = "SQLiteStore.New"

	db, err := initDB(dbPath)
	if err != nil {
		return nil, err
	}

	cfg := DefaultDBConfig()
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	s := &SQLiteStore{db: db, config: cfg}
	if err := s.statements.prepare(ctx, db); err != nil {
		s.statements.close()
		db.Close()
		return nil, errors.Internal(op, err, failedMessage)
	}
	return s, nil
}

func initDB(dbPath string) (*sql.DB, error) {
	const op = "sqlite.initDB"

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, errors.Internal(op, err, "failed to create database directory")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Internal(op, err, "failed to open database")
	}

	if err := configurePragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Internal(op, err, "failed to create schema")
	}

	return db, nil
}

func configurePragmas(db *sql.DB) error {
	const op = "sqlite.configurePragmas"

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return errors.Internal(op, err, fmt.Sprintf("failed to set pragma: %s", pragma))
		}
	}
	return nil
}

func isLockError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "database is locked") ||
		strings.Contains(err.Error(), "database table is locked"))
}

// withRetry retries fn while SQLite reports lock contention.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for i := 0; i < s.config.MaxRetries; i++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isLockError(lastErr) {
			return opFailed(op, lastErr)
		}
		select {
		case <-ctx.Done():
			return opFailed(op, ctx.Err())
		case <-time.After(s.config.RetryDelay * time.Duration(i+1)):
		}
	}
	return opFailed(op, lastErr)
}

func (s *SQLiteStore) Save(ctx context.Context, t *models.Transcript) error {
	const op = "SQLiteStore.Save"
	return s.withRetry(ctx, op, func() error {
		_, err := s.statements.upsert.ExecContext(ctx,
			t.VideoID,
			t.Text,
			string(t.Status),
			t.FetchedAt.UTC(),
		)
		return err
	})
}

func (s *SQLiteStore) Read(ctx context.Context) (*models.Transcript, error) {
	const op = "SQLiteStore.Read"

	t := &models.Transcript{}
	err := s.withRetry(ctx, op, func() error {
		var status string
		err := s.statements.get.QueryRowContext(ctx).Scan(&t.VideoID, &t.Text, &status, &t.FetchedAt)
		if err == sql.ErrNoRows {
			*t = models.Transcript{}
			return nil
		}
		t.Status = models.Status(status)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLiteStore) Delete(ctx context.Context) error {
	const op = "SQLiteStore.Delete"
	return s.withRetry(ctx, op, func() error {
		_, err := s.statements.delete.ExecContext(ctx)
		return err
	})
}

func (s *SQLiteStore) Close() error {
	s.statements.close()
	return s.db.Close()
}
