// Package sqlite implements the record store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"github.com/JakeFAU/appstore-crawler/internal/model"
	"github.com/JakeFAU/appstore-crawler/internal/storage"
)

// Config controls how the database file is opened.
type Config struct {
	// Path is a file path or ":memory:".
	Path         string
	PruneOrphans bool
	Logger       *zap.Logger
}

// Store appends records to one table per kind. Every batch commits in its own
// transaction and the journal runs in WAL mode, so a crash keeps every batch
// that was already committed.
type Store struct {
	db     *sql.DB
	prune  bool
	logger *zap.Logger
}

var _ storage.ReadStore = (*Store)(nil)

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA foreign_keys = ON",
}

// Open opens (creating if needed) the database and ensures every table exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if cfg.Path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	s, err := New(ctx, db, cfg.PruneOrphans, cfg.Logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open handle, applies pragmas and migrates the schema.
func New(ctx context.Context, db *sql.DB, pruneOrphans bool, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	for _, spec := range storage.Specs() {
		for _, stmt := range storage.SQLite.CreateTable(spec) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return nil, fmt.Errorf("migrate %s: %w", spec.Table, err)
			}
		}
	}
	return &Store{db: db, prune: pruneOrphans, logger: logger.Named("sqlite")}, nil
}

// Append inserts records of one kind in a single transaction. Either every
// record is committed or none is.
func (s *Store) Append(ctx context.Context, kind model.Kind, records []model.Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	spec := storage.Spec(kind)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", spec.Table, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, storage.SQLite.Insert(spec))
	if err != nil {
		return fmt.Errorf("prepare %s insert: %w", spec.Table, err)
	}
	defer stmt.Close() //nolint:errcheck // closed with the transaction

	for _, rec := range records {
		if rec.Kind() != kind {
			return fmt.Errorf("append %s: got %s record", spec.Table, rec.Kind())
		}
		vals, err := storage.Values(rec)
		if err != nil {
			return fmt.Errorf("encode %s: %w", spec.Table, err)
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			return fmt.Errorf("insert %s: %w", spec.Table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", spec.Table, err)
	}
	return nil
}

// Reconcile removes every row but the latest per natural key and, when
// configured, rows whose parent is gone. Failures on a table are logged and
// skipped; a missing table has nothing to reconcile.
func (s *Store) Reconcile(ctx context.Context) (storage.ReconcileResult, error) {
	res := storage.ReconcileResult{Removed: map[string]int64{}, Pruned: map[string]int64{}}
	for _, spec := range storage.Specs() {
		exists, err := s.tableExists(ctx, spec.Table)
		if err != nil || !exists {
			res.Skipped = append(res.Skipped, spec.Table)
			continue
		}
		n, err := s.exec(ctx, storage.SQLite.Dedup(spec))
		if err != nil {
			s.logger.Warn("dedup failed", zap.String("table", spec.Table), zap.Error(err))
			res.Skipped = append(res.Skipped, spec.Table)
			continue
		}
		res.Removed[spec.Table] = n
	}
	if s.prune {
		for _, spec := range storage.Specs() {
			for _, stmt := range storage.SQLite.Prune(spec) {
				n, err := s.exec(ctx, stmt)
				if err != nil {
					s.logger.Warn("prune failed", zap.String("table", spec.Table), zap.Error(err))
					continue
				}
				res.Pruned[spec.Table] += n
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("reconcile: %w", err)
	}
	return res, nil
}

// Load reads every row of kind in insertion order.
func (s *Store) Load(ctx context.Context, kind model.Kind) ([]model.Record, error) {
	spec := storage.Spec(kind)
	rows, err := s.db.QueryContext(ctx, storage.SQLite.Select(spec))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", spec.Table, err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	var out []model.Record
	for rows.Next() {
		vals := make([]any, len(spec.Columns))
		ptrs := make([]any, len(vals))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", spec.Table, err)
		}
		rec, err := storage.Decode(kind, vals)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", spec.Table, err)
	}
	return out, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

func (s *Store) tableExists(ctx context.Context, table string) (bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup %s: %w", table, err)
	}
	return true, nil
}

func (s *Store) exec(ctx context.Context, stmt string) (int64, error) {
	res, err := s.db.ExecContext(ctx, stmt)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil //nolint:nilerr // row counts are informational
	}
	return n, nil
}
