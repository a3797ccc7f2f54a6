// Package postgres provides a Postgres-backed job store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sheet-similarity/internal/sheetsim"
)

const (
	defaultTable     = "similarity_jobs"
	defaultListLimit = 20
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var jobColumns = []string{
	"id", "status", "spreadsheet_id", "sheet_name",
	"progress", "result", "error", "created_at", "updated_at",
}

// Config controls the Postgres connection pool used for job rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// JobStore implements sheetsim.JobStore on a single table.
type JobStore struct {
	pool  Pool
	table string
	clock sheetsim.Clock
}

// NewJobStore connects to Postgres using cfg.
func NewJobStore(ctx context.Context, cfg Config, clock sheetsim.Clock) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
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
	store, err := NewJobStoreWithPool(pool, cfg.Table, clock)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewJobStoreWithPool constructs a store from an existing pool.
func NewJobStoreWithPool(pool Pool, table string, clock sheetsim.Clock) (*JobStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if clock == nil {
		clock = utcClock{}
	}
	return &JobStore{pool: pool, table: table, clock: clock}, nil
}

// Close releases the pool.
func (s *JobStore) Close() {
	s.pool.Close()
}

// Migrate creates the jobs table when missing.
func (s *JobStore) Migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id             TEXT PRIMARY KEY,
			status         TEXT NOT NULL,
			spreadsheet_id TEXT NOT NULL,
			sheet_name     TEXT NOT NULL,
			progress       JSONB NOT NULL DEFAULT 'null',
			result         JSONB NOT NULL DEFAULT 'null',
			error          TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL,
			updated_at     TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_created_at_idx ON %[1]s (created_at DESC);`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("migrate %s: %w", s.table, err)
	}
	return nil
}

// CreateJob inserts a queued job.
func (s *JobStore) CreateJob(ctx context.Context, id string, meta sheetsim.JobMetadata) (sheetsim.Job, error) {
	now := s.clock.Now()
	job := sheetsim.Job{
		ID:        id,
		Status:    sheetsim.JobStatusQueued,
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
	query, args, err := psql.Insert(s.table).
		Columns(jobColumns...).
		Values(id, string(job.Status), meta.SpreadsheetID, meta.SheetName, []byte("null"), []byte("null"), "", now, now).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return sheetsim.Job{}, fmt.Errorf("build insert: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return sheetsim.Job{}, fmt.Errorf("insert job %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return sheetsim.Job{}, fmt.Errorf("create job %s: %w", id, sheetsim.ErrJobExists)
	}
	return job, nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, id string) (sheetsim.Job, error) {
	query, args, err := psql.Select(jobColumns...).From(s.table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return sheetsim.Job{}, fmt.Errorf("build select: %w", err)
	}
	job, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return sheetsim.Job{}, sheetsim.ErrJobNotFound
	}
	if err != nil {
		return sheetsim.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// UpdateJob merges the supplied fields under a row lock. Unknown ids are ignored.
func (s *JobStore) UpdateJob(ctx context.Context, id string, update sheetsim.JobUpdate) error {
	lockQuery, lockArgs, err := psql.Select("status").From(s.table).Where(sq.Eq{"id": id}).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return fmt.Errorf("build lock: %w", err)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update %s: %w", id, err)
	}

	var current string
	if err := tx.QueryRow(ctx, lockQuery, lockArgs...).Scan(&current); err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("lock job %s: %w", id, err)
	}
	status := sheetsim.JobStatus(current)
	if update.Status != "" {
		if !status.CanTransition(update.Status) {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("job %s %s -> %s: %w", id, status, update.Status, sheetsim.ErrInvalidTransition)
		}
	} else if status.Terminal() {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("job %s is %s: %w", id, status, sheetsim.ErrInvalidTransition)
	}

	builder := psql.Update(s.table)
	if update.Status != "" {
		builder = builder.Set("status", string(update.Status))
	}
	if update.Progress != nil {
		builder = builder.Set("progress", mustJSON(update.Progress))
	}
	if update.Result != nil {
		builder = builder.Set("result", mustJSON(update.Result))
	}
	if update.Error != nil {
		builder = builder.Set("error", *update.Error)
	}
	query, args, err := builder.Set("updated_at", s.clock.Now()).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("build update: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update %s: %w", id, err)
	}
	return nil
}

// ListJobs returns the most recently created jobs first.
func (s *JobStore) ListJobs(ctx context.Context, limit int) ([]sheetsim.Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query, args, err := psql.Select(jobColumns...).
		From(s.table).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []sheetsim.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

// EvictJobs deletes jobs created more than maxAge ago.
func (s *JobStore) EvictJobs(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-maxAge)
	query, args, err := psql.Delete(s.table).Where(sq.Lt{"created_at": cutoff}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build evict: %w", err)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("evict jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanJob(row pgx.Row) (sheetsim.Job, error) {
	var (
		job              sheetsim.Job
		status           string
		progress, result []byte
	)
	err := row.Scan(
		&job.ID, &status, &job.Metadata.SpreadsheetID, &job.Metadata.SheetName,
		&progress, &result, &job.Error, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return sheetsim.Job{}, err
	}
	job.Status = sheetsim.JobStatus(status)
	if err := json.Unmarshal(orNull(progress), &job.Progress); err != nil {
		return sheetsim.Job{}, fmt.Errorf("decode progress: %w", err)
	}
	if err := json.Unmarshal(orNull(result), &job.Result); err != nil {
		return sheetsim.Job{}, fmt.Errorf("decode result: %w", err)
	}
	return job, nil
}

func orNull(b []byte) []byte {
	if len(b) == 0 {
		return []byte("null")
	}
	return b
}

// mustJSON encodes the plain structs stored in JSON columns; they cannot fail to marshal.
func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal %T: %v", v, err))
	}
	return b
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
