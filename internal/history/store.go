// Package history keeps a hash-chained record of completed runs in SQLite.
// Each record's hash covers its fields plus the previous record's hash, so
// Verify detects any mutation of stored history.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"stagehand/internal/core"
	"stagehand/internal/storage"
)

// ErrNotFound is returned when no record matches a run id.
var ErrNotFound = errors.New("run not found")

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) a history database. Use ":memory:" for an
// in-memory store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize history schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		pipeline TEXT NOT NULL,
		status TEXT NOT NULL,
		started INTEGER NOT NULL,
		finished INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		stages TEXT NOT NULL,
		captured TEXT NOT NULL DEFAULT '',
		log_hash TEXT NOT NULL DEFAULT '',
		prev_hash TEXT NOT NULL,
		hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_pipeline ON runs(pipeline);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Append chains and persists a record, returning it with Seq, PrevHash and
// Hash filled in.
func (s *Store) Append(ctx context.Context, rec Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev string
	err := s.db.QueryRowContext(ctx, "SELECT hash FROM runs ORDER BY seq DESC LIMIT 1").Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("read chain tail: %w", err)
	}
	rec.PrevHash = prev
	rec.Hash = rec.computeHash()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, pipeline, status, started, finished, error, stages, captured, log_hash, prev_hash, hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Pipeline, rec.Status, rec.Started.Unix(), rec.Finished.Unix(),
		rec.Error, rec.Stages, rec.Captured, rec.LogHash, rec.PrevHash, rec.Hash,
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert run record: %w", err)
	}
	rec.Seq, _ = res.LastInsertId()
	return rec, nil
}

// AppendResult records a finished run, folding in the digest of its step
// logs when a log directory was kept.
func (s *Store) AppendResult(ctx context.Context, res *core.RunResult) (Record, error) {
	logHash := ""
	if res.LogDir != "" {
		h, err := storage.DigestDir(res.LogDir)
		if err != nil {
			slog.Warn("hashing run logs failed", "run", res.ID, "error", err)
		} else {
			logHash = h
		}
	}
	rec, err := FromResult(res, logHash)
	if err != nil {
		return Record{}, fmt.Errorf("encode run record: %w", err)
	}
	return s.Append(ctx, rec)
}

// List returns the most recent records, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, id, pipeline, status, started, finished, error, stages, captured, log_hash, prev_hash, hash FROM runs ORDER BY seq DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Get returns the record of one run id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, id, pipeline, status, started, finished, error, stages, captured, log_hash, prev_hash, hash FROM runs WHERE id = ?",
		id,
	)
	if err != nil {
		return Record{}, fmt.Errorf("query run: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[0], nil
}

// Verify walks the whole chain oldest-first, recomputing every hash and
// checking the previous-hash links. It fails on the first mismatch.
func (s *Store) Verify(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, id, pipeline, status, started, finished, error, stages, captured, log_hash, prev_hash, hash FROM runs ORDER BY seq ASC",
	)
	if err != nil {
		return fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return err
	}

	prev := ""
	for _, rec := range recs {
		if rec.PrevHash != prev {
			return fmt.Errorf("chain broken at run %s: prev hash mismatch", rec.ID)
		}
		if got := rec.computeHash(); got != rec.Hash {
			return fmt.Errorf("record tampered at run %s: hash mismatch", rec.ID)
		}
		prev = rec.Hash
	}
	return nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var recs []Record
	for rows.Next() {
		var rec Record
		var started, finished int64
		if err := rows.Scan(&rec.Seq, &rec.ID, &rec.Pipeline, &rec.Status, &started, &finished,
			&rec.Error, &rec.Stages, &rec.Captured, &rec.LogHash, &rec.PrevHash, &rec.Hash); err != nil {
			return nil, fmt.Errorf("scan run record: %w", err)
		}
		rec.Started = time.Unix(started, 0)
		rec.Finished = time.Unix(finished, 0)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
