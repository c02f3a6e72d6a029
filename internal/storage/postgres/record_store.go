// Package postgres provides the Postgres-backed listing record store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/property-monitor/internal/listing"
	"github.com/JakeFAU/property-monitor/internal/store"
)

const (
	defaultTable  = "properties"
	savepointName = "propmon_insert"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for listing records.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type pool interface {
	Begin(context.Context) (pgx.Tx, error)
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// RecordStore persists listing records with a unique link column.
type RecordStore struct {
	pool  pool
	table string
}

var _ store.RecordStore = (*RecordStore)(nil)

// New connects to Postgres and creates the records table if missing.
func New(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("store.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &RecordStore{pool: p, table: table}
	if err := s.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
// The schema is not touched.
func NewWithPool(p pool, table string) (*RecordStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the records table when it does not exist.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	price TEXT,
	address TEXT,
	description TEXT,
	bedrooms TEXT,
	link TEXT NOT NULL UNIQUE,
	scraped_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// Begin opens a transaction-backed batch.
func (s *RecordStore) Begin(ctx context.Context) (store.Batch, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &recordBatch{tx: tx, table: s.table}, nil
}

// List returns every committed record ordered by id.
func (s *RecordStore) List(ctx context.Context) ([]listing.StoredRecord, error) {
	query := fmt.Sprintf(`
SELECT id, price, address, description, bedrooms, link, scraped_at
FROM %s
ORDER BY id`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []listing.StoredRecord
	for rows.Next() {
		var rec listing.StoredRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Price,
			&rec.Address,
			&rec.Description,
			&rec.Bedrooms,
			&rec.Link,
			&rec.ScrapedAt,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.ScrapedAt = rec.ScrapedAt.UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

type recordBatch struct {
	tx    pgx.Tx
	table string
	done  bool
}

// InsertIgnore runs inside a savepoint so a failing row leaves the
// transaction usable for the rest of the batch.
func (b *recordBatch) InsertIgnore(ctx context.Context, rec listing.Record) (bool, error) {
	if b.done {
		return false, store.ErrBatchDone
	}
	if _, err := b.tx.Exec(ctx, "SAVEPOINT "+savepointName); err != nil {
		return false, fmt.Errorf("savepoint: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (price, address, description, bedrooms, link)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (link) DO NOTHING`, b.table)
	tag, err := b.tx.Exec(ctx, query, rec.Price, rec.Address, rec.Description, rec.Bedrooms, rec.Link)
	if err != nil {
		if _, rbErr := b.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+savepointName); rbErr != nil {
			return false, fmt.Errorf("insert record: %w (rollback to savepoint: %v)", err, rbErr)
		}
		return false, fmt.Errorf("insert record: %w", err)
	}
	if _, err := b.tx.Exec(ctx, "RELEASE SAVEPOINT "+savepointName); err != nil {
		return false, fmt.Errorf("release savepoint: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (b *recordBatch) Commit(ctx context.Context) error {
	if b.done {
		return store.ErrBatchDone
	}
	b.done = true
	if err := b.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (b *recordBatch) Rollback(ctx context.Context) error {
	if b.done {
		return nil
	}
	b.done = true
	if err := b.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}
