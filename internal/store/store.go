package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"

	"github.com/valpere/storetran/internal"
)

type Store struct {
	db *sql.DB
}

// New opens the database at dbPath. Workers share one connection and a busy
// timeout covers other processes holding the file.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS translation_memory (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		locale TEXT NOT NULL,
		field TEXT NOT NULL,
		max_length INTEGER NOT NULL DEFAULT 0,
		keywords BOOLEAN NOT NULL DEFAULT FALSE,
		refinement TEXT NOT NULL DEFAULT '',
		source_text TEXT NOT NULL,
		translated_text TEXT NOT NULL,
		usage_count INTEGER DEFAULT 1,
		invalidated BOOLEAN DEFAULT FALSE,
		last_used TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	-- runs records one localization job against one App Store Connect parent
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		parent_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		seed TEXT,
		dry_run BOOLEAN DEFAULT FALSE,
		succeeded INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL
	);

	-- run_locales stores the per-locale outcome of a run
	CREATE TABLE IF NOT EXISTS run_locales (
		run_id TEXT NOT NULL,
		locale TEXT NOT NULL,
		success BOOLEAN NOT NULL,
		error TEXT,
		fields TEXT,
		PRIMARY KEY (run_id, locale),
		FOREIGN KEY (run_id) REFERENCES runs(id)
	);

	CREATE INDEX IF NOT EXISTS idx_memory_locale ON translation_memory(locale);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// MemoryKey identifies a cached translation. Two requests share a key only
// when every input that shapes the provider output is the same.
func MemoryKey(provider, model string, req internal.TranslationRequest) string {
	h := sha256.New()
	for _, part := range []string{
		strings.ToLower(provider),
		model,
		req.Locale,
		req.Field,
		strconv.Itoa(req.MaxLength),
		strconv.FormatBool(req.Keywords),
		normalizeText(req.Refinement),
		normalizeText(req.SourceText),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Lookup returns the remembered translation for req and bumps its usage.
// Invalidated entries are misses. A failed usage bump still reports the hit,
// together with an ErrUsageNotRecorded error.
func (s *Store) Lookup(ctx context.Context, provider, model string, req internal.TranslationRequest) (string, bool, error) {
	id := MemoryKey(provider, model, req)

	var text string
	err := s.db.QueryRowContext(ctx,
		`SELECT translated_text FROM translation_memory WHERE id = ? AND NOT invalidated`, id).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE translation_memory SET usage_count = usage_count + 1, last_used = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		return text, true, fmt.Errorf("%w: %v", ErrUsageNotRecorded, err)
	}
	return text, true, nil
}

// Remember stores translation for req, replacing any previous entry.
func (s *Store) Remember(ctx context.Context, provider, model string, req internal.TranslationRequest, translation string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO translation_memory
			(id, provider, model, locale, field, max_length, keywords, refinement, source_text, translated_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		MemoryKey(provider, model, req), strings.ToLower(provider), model, req.Locale, req.Field,
		req.MaxLength, req.Keywords, req.Refinement, normalizeText(req.SourceText), translation)
	return err
}

// MemoryEntry is a row of the translation memory.
type MemoryEntry struct {
	ID          string
	Provider    string
	Model       string
	Locale      string
	Field       string
	SourceText  string
	Translation string
	UsageCount  int
	Invalidated bool
	LastUsed    time.Time
}

// CacheStats summarizes the translation memory and run history.
type CacheStats struct {
	TotalEntries   int
	ActiveEntries  int
	InvalidEntries int
	TotalUsage     int
	Runs           int
}

// InvalidateMemory marks an entry so it is no longer served.
func (s *Store) InvalidateMemory(ctx context.Context, id string) error {
	return s.expectRow(s.db.ExecContext(ctx,
		`UPDATE translation_memory SET invalidated = TRUE WHERE id = ?`, id))
}

// InvalidateLocale marks every entry of one locale and returns how many changed.
func (s *Store) InvalidateLocale(ctx context.Context, locale string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE translation_memory SET invalidated = TRUE WHERE locale = ? AND NOT invalidated`, locale)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	return s.expectRow(s.db.ExecContext(ctx, `DELETE FROM translation_memory WHERE id = ?`, id))
}

// ClearMemory removes every memory entry and returns how many were deleted.
func (s *Store) ClearMemory(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM translation_memory`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListMemory returns memory entries ordered by most recently used. An empty
// locale lists all of them.
func (s *Store) ListMemory(ctx context.Context, locale string) ([]MemoryEntry, error) {
	query := `SELECT id, provider, model, locale, field, source_text, translated_text, usage_count, invalidated, last_used FROM translation_memory`
	var args []any
	if locale != "" {
		query += ` WHERE locale = ?`
		args = append(args, locale)
	}
	query += ` ORDER BY last_used DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		if err := rows.Scan(&e.ID, &e.Provider, &e.Model, &e.Locale, &e.Field, &e.SourceText, &e.Translation, &e.UsageCount, &e.Invalidated, &e.LastUsed); err != nil {
			return nil, err
		}
		results = append(results, e)
	}

	return results, rows.Err()
}

// Stats returns summary statistics for the translation memory.
func (s *Store) Stats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN NOT invalidated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN invalidated THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(usage_count), 0),
			(SELECT COUNT(*) FROM runs)
		FROM translation_memory`).Scan(
		&stats.TotalEntries,
		&stats.ActiveEntries,
		&stats.InvalidEntries,
		&stats.TotalUsage,
		&stats.Runs,
	)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Run is a recorded localization job.
type Run struct {
	ID         string
	Kind       string
	ParentID   string
	Provider   string
	Model      string
	Seed       *int64
	DryRun     bool
	Succeeded  int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// SaveRun records a run and its per-locale results in one transaction. A run
// without an ID gets a fresh one, which is returned.
func (s *Store) SaveRun(ctx context.Context, run Run, results []internal.TranslationResult) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var seed sql.NullString
	if run.Seed != nil {
		seed = sql.NullString{String: strconv.FormatInt(*run.Seed, 10), Valid: true}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, kind, parent_id, provider, model, seed, dry_run, succeeded, failed, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.ParentID, run.Provider, run.Model, seed, run.DryRun,
		run.Succeeded, run.Failed, run.StartedAt.UTC(), run.FinishedAt.UTC())
	if err != nil {
		return "", fmt.Errorf("failed to save run: %w", err)
	}

	for _, r := range results {
		fields, err := json.Marshal(r.Fields)
		if err != nil {
			return "", err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO run_locales (run_id, locale, success, error, fields) VALUES (?, ?, ?, ?, ?)`,
			run.ID, r.Locale, r.Success, r.Error, string(fields))
		if err != nil {
			return "", fmt.Errorf("failed to save result for %s: %w", r.Locale, err)
		}
	}

	return run.ID, tx.Commit()
}

// ListRuns returns the most recent runs first. A limit of zero returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT id, kind, parent_id, provider, model, seed, dry_run, succeeded, failed, started_at, finished_at FROM runs ORDER BY started_at DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run and its per-locale results ordered by locale.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, []internal.TranslationResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, parent_id, provider, model, seed, dry_run, succeeded, failed, started_at, finished_at FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT locale, success, COALESCE(error, ''), COALESCE(fields, '') FROM run_locales WHERE run_id = ? ORDER BY locale`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var results []internal.TranslationResult
	for rows.Next() {
		var r internal.TranslationResult
		var fields string
		if err := rows.Scan(&r.Locale, &r.Success, &r.Error, &fields); err != nil {
			return nil, nil, err
		}
		if fields != "" && fields != "null" {
			if err := json.Unmarshal([]byte(fields), &r.Fields); err != nil {
				return nil, nil, fmt.Errorf("corrupt fields for %s: %w", r.Locale, err)
			}
		}
		results = append(results, r)
	}
	return &run, results, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var seed sql.NullString
	err := row.Scan(&r.ID, &r.Kind, &r.ParentID, &r.Provider, &r.Model, &seed, &r.DryRun,
		&r.Succeeded, &r.Failed, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		return r, err
	}
	if seed.Valid {
		v, err := strconv.ParseInt(seed.String, 10, 64)
		if err != nil {
			return r, fmt.Errorf("corrupt seed %q: %w", seed.String, err)
		}
		r.Seed = &v
	}
	return r, nil
}

func (s *Store) expectRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ErrNotFound is returned when an operation targets a missing memory entry.
var ErrNotFound = errors.New("entry not found")

// ErrUsageNotRecorded accompanies a memory hit whose usage count could not be updated.
var ErrUsageNotRecorded = errors.New("usage not recorded")

// normalizeText applies Unicode NFC normalization and trims whitespace so
// equivalent strings share a memory key.
func normalizeText(text string) string {
	return norm.NFC.String(strings.TrimSpace(text))
}
