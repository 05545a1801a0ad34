package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tubemux/internal/config"
	"tubemux/internal/job"
	"tubemux/internal/services"
)

// Store is the SQLite-backed outcome ledger.
type Store struct {
	db   *sql.DB
	path string
}

// Record is one terminal outcome.
type Record struct {
	ItemID      string             `json:"item_id"`
	BatchID     string             `json:"batch_id,omitempty"`
	SourceRef   string             `json:"source_ref"`
	Title       string             `json:"title,omitempty"`
	EncodingID  string             `json:"encoding_id,omitempty"`
	Stage       job.Stage          `json:"stage"`
	ErrorKind   services.ErrorKind `json:"error_kind,omitempty"`
	ErrorDetail string             `json:"error_detail,omitempty"`
	Attempts    int                `json:"attempts"`
	CreatedAt   time.Time          `json:"created_at"`
	FinishedAt  time.Time          `json:"finished_at"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Stage   job.Stage
	BatchID string
	Limit   int
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
	defaultListLimit        = 50
)

// Open connects to the ledger at cfg.History.Path, creating it on first use.
func Open(cfg *config.Config) (*Store, error) {
	path := strings.TrimSpace(cfg.History.Path)
	if path == "" {
		return nil, services.Wrap(services.ErrConfiguration, "history", "open", "history.path is empty", nil)
	}
	return OpenPath(path)
}

// OpenPath connects to the ledger at path.
func OpenPath(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores the outcome of a terminal item. Recording the same item
// again replaces the earlier row.
func (s *Store) Record(ctx context.Context, snap job.Snapshot) error {
	if !snap.Stage.IsTerminal() {
		return fmt.Errorf("record %s: stage %s is not terminal", snap.ID, snap.Stage)
	}
	finished := snap.FinishedAt
	if finished.IsZero() {
		finished = snap.UpdatedAt
	}
	encoding := ""
	if snap.Encoding.Set {
		encoding = snap.Encoding.Value
	}
	return s.execWithRetry(ctx, `
INSERT INTO job_outcomes (item_id, batch_id, source_ref, title, encoding_id, stage, error_kind, error_detail, attempts, created_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(item_id) DO UPDATE SET
    stage = excluded.stage,
    title = excluded.title,
    encoding_id = excluded.encoding_id,
    error_kind = excluded.error_kind,
    error_detail = excluded.error_detail,
    attempts = excluded.attempts,
    finished_at = excluded.finished_at`,
		snap.ID, snap.BatchID, snap.SourceRef, snap.Title(), encoding,
		string(snap.Stage), string(snap.ErrorKind), snap.ErrorDetail, snap.Attempts,
		formatTime(snap.CreatedAt), formatTime(finished),
	)
}

// List returns outcomes, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Record, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Stage != "" {
		clauses = append(clauses, "stage = ?")
		args = append(args, string(filter.Stage))
	}
	if filter.BatchID != "" {
		clauses = append(clauses, "batch_id = ?")
		args = append(args, filter.BatchID)
	}
	query := `SELECT item_id, batch_id, source_ref, title, encoding_id, stage, error_kind, error_detail, attempts, created_at, finished_at FROM job_outcomes`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	query += " ORDER BY finished_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec                 Record
			stage, kind         string
			created, finishedAt string
		)
		if err := rows.Scan(&rec.ItemID, &rec.BatchID, &rec.SourceRef, &rec.Title, &rec.EncodingID, &stage, &kind, &rec.ErrorDetail, &rec.Attempts, &created, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		rec.Stage = job.Stage(stage)
		rec.ErrorKind = services.ErrorKind(kind)
		rec.CreatedAt = parseTime(created)
		rec.FinishedAt = parseTime(finishedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Stats counts outcomes per terminal stage.
func (s *Store) Stats(ctx context.Context) (map[job.Stage]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT stage, COUNT(1) FROM job_outcomes GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("history stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[job.Stage]int)
	for rows.Next() {
		var (
			stage string
			count int
		)
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		stats[job.Stage(stage)] = count
	}
	return stats, rows.Err()
}

// Clear removes every outcome and reports how many rows were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)
	var removed int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM job_outcomes`)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return removed, nil
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := range busyRetryAttempts {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
