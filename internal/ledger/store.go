// Package ledger persists which (sequence number, order key) pairs have
// already been propagated to the CRM. It is the crash-safe bookkeeping
// behind the at-most-once comment guarantee: the pair is unique in the
// database, so restarted passes can never record a propagation twice.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".

	"github.com/paulohaalves-github/update-bitrix/internal/gspn"
)

const walJournalSizeLimit = 67108864 // 64 MiB WAL journal size limit

const (
	sqlExists = `SELECT 1 FROM propagations WHERE seq_no = ? AND order_key = ?`
	sqlInsert = `INSERT OR IGNORE INTO propagations (seq_no, order_key) VALUES (?, ?)`
	sqlCount  = `SELECT COUNT(*) FROM propagations`
)

// Store records propagated interactions in a local SQLite database with
// WAL mode. It is owned by the driver loop: opened once at startup, closed
// at shutdown, and not safe for concurrent use (the engine is sequential).
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	existsStmt *sql.Stmt
	insertStmt *sql.Stmt
}

// Open opens (creating if needed) the ledger database at dbPath, applies
// migrations, and prepares the hot statements. Use ":memory:" in tests.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("ledger: open sqlite: %w", err)
	}

	if err := setPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if s.existsStmt, err = db.PrepareContext(ctx, sqlExists); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: prepare exists: %w", err)
	}

	if s.insertStmt, err = db.PrepareContext(ctx, sqlInsert); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: prepare insert: %w", err)
	}

	logger.Info("propagation ledger ready", slog.String("path", dbPath))

	return s, nil
}

// setPragmas configures SQLite for WAL mode and durability.
func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("ledger: %s: %w", p, err)
		}
	}

	return nil
}

// Close releases the prepared statements and the database handle.
func (s *Store) Close() error {
	if s.existsStmt != nil {
		s.existsStmt.Close()
	}

	if s.insertStmt != nil {
		s.insertStmt.Close()
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("ledger: close: %w", err)
	}

	s.logger.Info("propagation ledger closed")

	return nil
}

// IsPropagated reports whether the pair has already been recorded.
func (s *Store) IsPropagated(ctx context.Context, seqNo int64, orderKey string) (bool, error) {
	var one int

	err := s.existsStmt.QueryRowContext(ctx, seqNo, orderKey).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("ledger: lookup %d/%s: %w", seqNo, orderKey, err)
	}

	return true, nil
}

// MarkPropagated records the pair if absent. It returns true when a new
// row was created and false when the pair was already present — the second
// call is an idempotent no-op, not an error.
func (s *Store) MarkPropagated(ctx context.Context, seqNo int64, orderKey string) (bool, error) {
	res, err := s.insertStmt.ExecContext(ctx, seqNo, orderKey)
	if err != nil {
		return false, fmt.Errorf("ledger: record %d/%s: %w", seqNo, orderKey, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ledger: record %d/%s: %w", seqNo, orderKey, err)
	}

	return n > 0, nil
}

// FilterNew returns the subsequence of rows not yet recorded, preserving
// input order. Rows without a sequence number are malformed source data:
// they are logged and skipped, never recorded and never retried. A lookup
// error leaves the row in the output — the later insert is idempotent, so
// failing open risks only a redundant no-op, while failing closed could
// silently drop a never-propagated row.
func (s *Store) FilterNew(ctx context.Context, rows []gspn.LogRow, orderKey string) []gspn.LogRow {
	var out []gspn.LogRow

	for _, row := range rows {
		if row.SeqNo <= 0 {
			s.logger.Warn("log row without sequence number, skipping",
				slog.String("order_key", orderKey),
				slog.String("changed_date", row.ChangedDate),
			)

			continue
		}

		done, err := s.IsPropagated(ctx, row.SeqNo, orderKey)
		if err != nil {
			s.logger.Error("ledger lookup failed, keeping row",
				slog.Int64("seq_no", row.SeqNo),
				slog.String("order_key", orderKey),
				slog.String("error", err.Error()),
			)

			out = append(out, row)

			continue
		}

		if !done {
			out = append(out, row)
		}
	}

	return out
}

// Pair is one (sequence number, order key) ledger entry for batch inserts.
type Pair struct {
	SeqNo    int64
	OrderKey string
}

// MarkBatch records every pair best-effort. Each insert is independently
// idempotent; a failure does not roll back earlier inserts. The first
// error is returned after all pairs have been attempted.
func (s *Store) MarkBatch(ctx context.Context, pairs []Pair) error {
	var firstErr error

	for _, p := range pairs {
		if _, err := s.MarkPropagated(ctx, p.SeqNo, p.OrderKey); err != nil {
			s.logger.Error("batch record failed",
				slog.Int64("seq_no", p.SeqNo),
				slog.String("order_key", p.OrderKey),
				slog.String("error", err.Error()),
			)

			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// Count returns the total number of recorded propagations.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64

	if err := s.db.QueryRowContext(ctx, sqlCount).Scan(&n); err != nil {
		return 0, fmt.Errorf("ledger: count: %w", err)
	}

	return n, nil
}
