// Package postgres implements the record store on Postgres through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/appstore-crawler/internal/model"
	"github.com/JakeFAU/appstore-crawler/internal/storage"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	PruneOrphans    bool
	Logger          *zap.Logger
}

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store writes records into one table per kind. Each table carries a seq
// BIGSERIAL column that orders physical inserts for reconciliation.
type Store struct {
	pool   Pool
	prune  bool
	logger *zap.Logger
}

var _ storage.ReadStore = (*Store)(nil)

// New connects to Postgres and migrates the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(pool, cfg.PruneOrphans, cfg.Logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool without migrating.
func NewWithPool(pool Pool, pruneOrphans bool, logger *zap.Logger) (*Store, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, prune: pruneOrphans, logger: logger.Named("postgres")}, nil
}

// Migrate creates every table and natural-key index that does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, spec := range storage.Specs() {
		for _, stmt := range storage.Postgres.CreateTable(spec) {
			if _, err := s.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migrate %s: %w", spec.Table, err)
			}
		}
	}
	return nil
}

// Append inserts records of one kind inside a single transaction.
func (s *Store) Append(ctx context.Context, kind model.Kind, records []model.Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	spec := storage.Spec(kind)
	query := storage.Postgres.Insert(spec)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin %s: %w", spec.Table, err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Warn("rollback failed", zap.String("table", spec.Table), zap.Error(rbErr))
			}
		}
	}()

	for _, rec := range records {
		if rec.Kind() != kind {
			return fmt.Errorf("append %s: got %s record", spec.Table, rec.Kind())
		}
		vals, err := storage.Values(rec)
		if err != nil {
			return fmt.Errorf("encode %s: %w", spec.Table, err)
		}
		if _, err := tx.Exec(ctx, query, vals...); err != nil {
			return fmt.Errorf("insert %s: %w", spec.Table, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", spec.Table, err)
	}
	return nil
}

// Reconcile keeps the newest row per natural key in every existing table.
// Per-table failures are logged and reported as skipped.
func (s *Store) Reconcile(ctx context.Context) (storage.ReconcileResult, error) {
	res := storage.ReconcileResult{Removed: map[string]int64{}, Pruned: map[string]int64{}}
	for _, spec := range storage.Specs() {
		var exists bool
		if err := s.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", spec.Table).Scan(&exists); err != nil || !exists {
			res.Skipped = append(res.Skipped, spec.Table)
			continue
		}
		tag, err := s.pool.Exec(ctx, storage.Postgres.Dedup(spec))
		if err != nil {
			s.logger.Warn("dedup failed", zap.String("table", spec.Table), zap.Error(err))
			res.Skipped = append(res.Skipped, spec.Table)
			continue
		}
		res.Removed[spec.Table] = tag.RowsAffected()
	}
	if s.prune {
		for _, spec := range storage.Specs() {
			for _, stmt := range storage.Postgres.Prune(spec) {
				tag, err := s.pool.Exec(ctx, stmt)
				if err != nil {
					s.logger.Warn("prune failed", zap.String("table", spec.Table), zap.Error(err))
					continue
				}
				res.Pruned[spec.Table] += tag.RowsAffected()
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("reconcile: %w", err)
	}
	return res, nil
}

// Load reads every row of kind ordered by seq.
func (s *Store) Load(ctx context.Context, kind model.Kind) ([]model.Record, error) {
	spec := storage.Spec(kind)
	rows, err := s.pool.Query(ctx, storage.Postgres.Select(spec))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", spec.Table, err)
	}
	defer rows.Close()

	var out []model.Record
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
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

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
