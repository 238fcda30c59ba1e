// Package postgres upserts record batches into a relational table keyed by
// the period label.
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

	"github.com/JakeFAU/mylist-importer/internal/metrics"
	"github.com/JakeFAU/mylist-importer/internal/mylist"
	"github.com/JakeFAU/mylist-importer/internal/sink"
)

// Name is the registry name of this sink.
const Name = "postgres"

const defaultTable = "monthly_playlists"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and target table.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Deps are the collaborators used to mint rows.
type Deps struct {
	Hasher mylist.Hasher
	IDs    mylist.IDGenerator
	Clock  mylist.Clock
}

type queryExecCloser interface {
	QueryRow(context.Context, string, ...any) pgx.Row
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Ping(context.Context) error
	Close()
}

// Sink stores one row per label with the records as JSONB.
type Sink struct {
	pool  queryExecCloser
	table string
	deps  Deps
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config, deps Deps) (*Sink, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Sink{pool: pool, table: table, deps: deps}, nil
}

// NewWithPool constructs a sink from an existing pool (primarily for testing).
func NewWithPool(pool queryExecCloser, table string, deps Deps) (*Sink, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	t, err := tableName(table)
	if err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &Sink{pool: pool, table: t, deps: deps}, nil
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

func (d Deps) validate() error {
	if d.IDs == nil {
		return fmt.Errorf("id generator is required")
	}
	if d.Clock == nil {
		return fmt.Errorf("clock is required")
	}
	return nil
}

// Name implements mylist.Sink.
func (s *Sink) Name() string { return Name }

// Close releases the underlying pool resources.
func (s *Sink) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks the database connection.
func (s *Sink) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// EnsureSchema creates the target table when it does not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id           UUID PRIMARY KEY,
	year_month   TEXT NOT NULL UNIQUE,
	videos       JSONB NOT NULL,
	digest       TEXT NOT NULL,
	record_count INTEGER NOT NULL,
	run_id       TEXT NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Write looks up the row for batch.Label and updates it, or inserts a new
// row with a fresh id.
func (s *Sink) Write(ctx context.Context, batch mylist.Batch) (mylist.SinkResult, error) {
	if s == nil || s.pool == nil {
		return mylist.SinkResult{}, fmt.Errorf("postgres sink is not configured")
	}
	if batch.Label == "" {
		return mylist.SinkResult{}, fmt.Errorf("label is required")
	}
	payload, err := sink.Encode(batch.Records, s.deps.Hasher)
	if err != nil {
		return mylist.SinkResult{}, err
	}
	now := s.deps.Clock.Now()

	id, err := s.find(ctx, batch.Label)
	if err != nil {
		return mylist.SinkResult{}, err
	}

	action := mylist.ActionUpdated
	if id == "" {
		action = mylist.ActionCreated
		if id, err = s.deps.IDs.NewID(); err != nil {
			return mylist.SinkResult{}, fmt.Errorf("generate row id: %w", err)
		}
		if err := s.insert(ctx, id, batch, payload, now); err != nil {
			return mylist.SinkResult{}, err
		}
	} else if err := s.update(ctx, id, batch, payload, now); err != nil {
		return mylist.SinkResult{}, err
	}

	metrics.ObserveSinkWrite(Name, action)
	return mylist.SinkResult{
		Sink:   Name,
		Target: fmt.Sprintf("postgres://%s/%s", s.table, id),
		Action: action,
		ID:     id,
		Digest: payload.Digest,
		Count:  len(batch.Records),
	}, nil
}

func (s *Sink) find(ctx context.Context, label string) (string, error) {
	query := fmt.Sprintf(`SELECT id FROM %s WHERE year_month = $1`, s.table)
	var id string
	if err := s.pool.QueryRow(ctx, query, label).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("select row: %w", err)
	}
	return id, nil
}

func (s *Sink) insert(ctx context.Context, id string, batch mylist.Batch, payload sink.Payload, now time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	year_month,
	videos,
	digest,
	record_count,
	run_id,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7
)`, s.table)
	args := []any{id, batch.Label, payload.Data, payload.Digest, len(batch.Records), batch.RunID, now}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert row: %w", err)
	}
	return nil
}

func (s *Sink) update(ctx context.Context, id string, batch mylist.Batch, payload sink.Payload, now time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s SET
	videos = $2,
	digest = $3,
	record_count = $4,
	run_id = $5,
	updated_at = $6
WHERE id = $1`, s.table)
	args := []any{id, payload.Data, payload.Digest, len(batch.Records), batch.RunID, now}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update row %s: %w", id, mylist.ErrNotFound)
	}
	return nil
}
