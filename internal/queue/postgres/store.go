// Package postgres implements queue.Store against PostgreSQL, using
// database/sql with the pgx stdlib driver and goose for embedded
// migrations, the same connection-bootstrap pattern rezkam-mono's
// internal/storage/sql/connection.go uses for its own store.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/pressly/goose/v3"

	"github.com/imrahulmane/job-queue/internal/queue"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// PoolConfig holds connection pool tuning; zero values fall back to
// defaults.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Store is a PostgreSQL-backed queue.Store.
type Store struct {
	db *sql.DB
}

var _ queue.Store = (*Store)(nil)

// Open connects to dsn, applies pool settings, verifies the connection, and
// runs embedded migrations before returning a ready Store.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxOpenConns := pool.MaxOpenConns
	if maxOpenConns <= 0 {
		maxOpenConns = 25
	}
	maxIdleConns := pool.MaxIdleConns
	if maxIdleConns <= 0 {
		maxIdleConns = 5
	}
	connMaxLifetime := pool.ConnMaxLifetime
	if connMaxLifetime <= 0 {
		connMaxLifetime = 5 * time.Minute
	}
	connMaxIdleTime := pool.ConnMaxIdleTime
	if connMaxIdleTime <= 0 {
		connMaxIdleTime = time.Minute
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	goose.SetBaseFS(embedMigrations)
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Enqueue(ctx context.Context, spec queue.EnqueueSpec) (queue.Job, error) {
	jobs, err := s.EnqueueBulk(ctx, []queue.EnqueueSpec{spec})
	if err != nil {
		return queue.Job{}, err
	}
	return jobs[0], nil
}

func (s *Store) EnqueueBulk(ctx context.Context, specs []queue.EnqueueSpec) ([]queue.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	out := make([]queue.Job, 0, len(specs))
	for _, spec := range specs {
		queueName := spec.QueueName
		if queueName == "" {
			queueName = queue.DefaultQueue
		}
		maxTries := spec.MaxTries
		if maxTries <= 0 {
			maxTries = 3
		}
		scheduledAt := time.Now().UTC()
		if spec.ScheduledAt != nil {
			scheduledAt = spec.ScheduledAt.UTC()
		}
		payload := spec.Payload
		if payload == nil {
			payload = json.RawMessage(`{}`)
		}

		var job queue.Job
		row := tx.QueryRowContext(ctx, `
			INSERT INTO jobs (queue_name, job_type, payload, status, scheduled_at, max_tries)
			VALUES ($1, $2, $3, 'pending', $4, $5)
			RETURNING id, queue_name, job_type, payload, status, scheduled_at, attempts, max_tries, created_at, updated_at, is_deleted, deleted_at
		`, queueName, spec.JobType, []byte(payload), scheduledAt, maxTries)
		if err := scanJob(row, &job); err != nil {
			return nil, fmt.Errorf("insert job: %w", err)
		}
		out = append(out, job)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int64) (queue.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, queue_name, job_type, payload, status, scheduled_at, attempts, max_tries, created_at, updated_at, is_deleted, deleted_at
		FROM jobs WHERE id = $1 AND is_deleted = false
	`, id)
	var job queue.Job
	if err := scanJob(row, &job); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return queue.Job{}, queue.ErrJobNotFound
		}
		return queue.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *Store) Update(ctx context.Context, id int64, upd queue.Update) (queue.Job, error) {
	sets := []string{"updated_at = now()"}
	var args []any

	if upd.Payload != nil {
		args = append(args, []byte(*upd.Payload))
		sets = append(sets, fmt.Sprintf("payload = $%d", len(args)))
	}
	if upd.ScheduledAt != nil {
		args = append(args, upd.ScheduledAt.UTC())
		sets = append(sets, fmt.Sprintf("scheduled_at = $%d", len(args)))
	}
	if upd.MaxTries != nil {
		args = append(args, *upd.MaxTries)
		sets = append(sets, fmt.Sprintf("max_tries = $%d", len(args)))
	}

	args = append(args, id)
	setClause := sets[0]
	for _, c := range sets[1:] {
		setClause += ", " + c
	}
	q := fmt.Sprintf(`
		UPDATE jobs SET %s
		WHERE id = $%d AND is_deleted = false
		RETURNING id, queue_name, job_type, payload, status, scheduled_at, attempts, max_tries, created_at, updated_at, is_deleted, deleted_at
	`, setClause, len(args))

	row := s.db.QueryRowContext(ctx, q, args...)
	var job queue.Job
	if err := scanJob(row, &job); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return queue.Job{}, queue.ErrJobNotFound
		}
		return queue.Job{}, fmt.Errorf("update job: %w", err)
	}
	return job, nil
}

func (s *Store) List(ctx context.Context, filter queue.Filter, limit, offset int) ([]queue.Job, error) {
	where, args := buildFilter(filter)
	args = append(args, limit, offset)
	q := fmt.Sprintf(`
		SELECT id, queue_name, job_type, payload, status, scheduled_at, attempts, max_tries, created_at, updated_at, is_deleted, deleted_at
		FROM jobs WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []queue.Job
	for rows.Next() {
		var job queue.Job
		if err := scanJobRows(rows, &job); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Store) Count(ctx context.Context, filter queue.Filter) (int64, error) {
	where, args := buildFilter(filter)
	q := fmt.Sprintf(`SELECT count(*) FROM jobs WHERE %s`, where)
	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return n, nil
}

func buildFilter(filter queue.Filter) (string, []any) {
	clauses := []string{"is_deleted = false"}
	var args []any
	if filter.QueueName != "" {
		args = append(args, filter.QueueName)
		clauses = append(clauses, fmt.Sprintf("queue_name = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.JobType != "" {
		args = append(args, filter.JobType)
		clauses = append(clauses, fmt.Sprintf("job_type = $%d", len(args)))
	}
	where := clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

func (s *Store) Stats(ctx context.Context) (queue.Stats, error) {
	stats := queue.Stats{
		PerStatus: make(map[queue.Status]int64),
		PerQueue:  make(map[string]int64),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT status, count(*) FROM jobs WHERE is_deleted = false GROUP BY status
	`)
	if err != nil {
		return stats, fmt.Errorf("stats by status: %w", err)
	}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return stats, fmt.Errorf("scan status stats: %w", err)
		}
		stats.PerStatus[queue.Status(status)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT queue_name, count(*) FROM jobs WHERE is_deleted = false GROUP BY queue_name
	`)
	if err != nil {
		return stats, fmt.Errorf("stats by queue: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var n int64
		if err := rows.Scan(&name, &n); err != nil {
			return stats, fmt.Errorf("scan queue stats: %w", err)
		}
		stats.PerQueue[name] = n
	}
	return stats, rows.Err()
}

// ClaimNext implements the atomic claim protocol: a single UPDATE whose
// target row is chosen by a FOR UPDATE SKIP LOCKED subquery ordered by
// (scheduled_at, id), so concurrent claimants never contend on the same
// row and never block on one another.
func (s *Store) ClaimNext(ctx context.Context, queues []string) (queue.Job, error) {
	if len(queues) == 0 {
		queues = []string{queue.DefaultQueue}
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'running', attempts = attempts + 1, updated_at = now()
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND queue_name = ANY($1)
			  AND scheduled_at <= now()
			  AND is_deleted = false
			ORDER BY scheduled_at ASC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, queue_name, job_type, payload, status, scheduled_at, attempts, max_tries, created_at, updated_at, is_deleted, deleted_at
	`, queues)

	var job queue.Job
	if err := scanJob(row, &job); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return queue.Job{}, queue.ErrJobNotFound
		}
		return queue.Job{}, fmt.Errorf("claim next job: %w", err)
	}
	return job, nil
}

func (s *Store) MarkCompleted(ctx context.Context, id int64, result map[string]any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed',
		    payload = payload || jsonb_build_object('result', $2::jsonb),
		    updated_at = now()
		WHERE id = $1 AND is_deleted = false
	`, id, resultJSON)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return requireRowsAffected(res)
}

func (s *Store) MarkFailed(ctx context.Context, id int64, failure queue.FailureEntry, retryAt *time.Time) error {
	entryJSON, err := json.Marshal(failure)
	if err != nil {
		return fmt.Errorf("marshal failure entry: %w", err)
	}

	status := "failed"
	var scheduledAtExpr string
	args := []any{id, entryJSON}
	if retryAt != nil {
		status = "pending"
		args = append(args, retryAt.UTC())
		scheduledAtExpr = ", scheduled_at = $3"
	}

	q := fmt.Sprintf(`
		UPDATE jobs
		SET status = '%s',
		    payload = jsonb_set(
		        payload,
		        '{errors}',
		        COALESCE(payload->'errors', '[]'::jsonb) || $2::jsonb,
		        true
		    ),
		    updated_at = now()%s
		WHERE id = $1 AND is_deleted = false
	`, status, scheduledAtExpr)

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireRowsAffected(res)
}

func (s *Store) Cancel(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'cancelled', updated_at = now(), is_deleted = true, deleted_at = now()
		WHERE id = $1 AND status = 'pending' AND is_deleted = false
	`, id)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// A soft-deleted (already cancelled) row still exists, so a repeat
		// cancel is reported as not cancellable rather than not found.
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check job: %w", err)
		}
		if !exists {
			return queue.ErrJobNotFound
		}
		return queue.ErrNotCancellable
	}
	return nil
}

func (s *Store) ResetStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', updated_at = now()
		WHERE status = 'running' AND updated_at < now() - $1::interval AND is_deleted = false
	`, fmt.Sprintf("%d seconds", int64(staleAfter.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("reset stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *Store) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status = 'completed' AND updated_at < now() - $1::interval
	`, fmt.Sprintf("%d seconds", int64(olderThan.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("cleanup completed jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *Store) RetryFailedJob(ctx context.Context, id int64, resetAttempts bool) (queue.Job, error) {
	attemptsExpr := ""
	if resetAttempts {
		attemptsExpr = ", attempts = 0"
	}
	q := fmt.Sprintf(`
		UPDATE jobs
		SET status = 'pending', scheduled_at = now(), updated_at = now()%s
		WHERE id = $1 AND status = 'failed' AND is_deleted = false
		RETURNING id, queue_name, job_type, payload, status, scheduled_at, attempts, max_tries, created_at, updated_at, is_deleted, deleted_at
	`, attemptsExpr)

	row := s.db.QueryRowContext(ctx, q, id)
	var job queue.Job
	if err := scanJob(row, &job); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.Get(ctx, id); getErr != nil {
				return queue.Job{}, getErr
			}
			return queue.Job{}, queue.ErrNotRetryable
		}
		return queue.Job{}, fmt.Errorf("retry failed job: %w", err)
	}
	return job, nil
}

func requireRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return queue.ErrJobNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner, job *queue.Job) error {
	return scanJobRows(row, job)
}

func scanJobRows(row scanner, job *queue.Job) error {
	var payload []byte
	var status string
	if err := row.Scan(
		&job.ID, &job.QueueName, &job.JobType, &payload, &status,
		&job.ScheduledAt, &job.Attempts, &job.MaxTries,
		&job.CreatedAt, &job.UpdatedAt, &job.IsDeleted, &job.DeletedAt,
	); err != nil {
		return err
	}
	job.Payload = json.RawMessage(payload)
	job.Status = queue.Status(status)
	return nil
}

