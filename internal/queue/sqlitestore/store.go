// Package sqlitestore implements queue.Store against SQLite, using
// database/sql with the modernc.org/sqlite driver and goose for embedded
// migrations, the same pattern postgres.Store uses.
//
// SQLite has no "SELECT ... FOR UPDATE SKIP LOCKED": it serializes writers
// at the database-file level instead. ClaimNext here emulates the same
// observable contract (at most one claimant per row, no claimant blocks
// behind another claimant's handler code) with a transaction on the
// store's single pooled connection that reads the candidate row's id and
// conditionally updates it by id; that single connection and SQLite's
// writer lock supply the mutual
// exclusion that Postgres gets from SKIP LOCKED. This makes concurrent
// pollers serialize briefly on the claim statement rather than skip past
// each other, which is the documented degraded path for a store without a
// native skip-locked primitive (see SPEC_FULL.md's domain stack notes).
// This backend is intended for fast non-Postgres unit tests of the
// enqueue/get/list/stats paths, not for production claim-protocol load.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/imrahulmane/job-queue/internal/queue"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store is a SQLite-backed queue.Store.
type Store struct {
	db *sql.DB
}

var _ queue.Store = (*Store)(nil)

// Open connects to path (a file path, or ":memory:") and runs embedded
// migrations before returning a ready Store. SQLite only tolerates a single
// writer at a time, so the pool is capped at one open connection; readers
// and writers share it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

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
	if err := goose.SetDialect(goose.DialectSQLite3); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	goose.SetBaseFS(embedMigrations)
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const timeLayout = "2006-01-02 15:04:05.999999999-07:00"

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
		now := time.Now().UTC()

		res, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (queue_name, job_type, payload, status, scheduled_at, max_tries, created_at, updated_at)
			VALUES (?, ?, ?, 'pending', ?, ?, ?, ?)
		`, queueName, spec.JobType, string(payload), formatTime(scheduledAt), maxTries, formatTime(now), formatTime(now))
		if err != nil {
			return nil, fmt.Errorf("insert job: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("last insert id: %w", err)
		}

		var job queue.Job
		row := tx.QueryRowContext(ctx, selectColumns+` FROM jobs WHERE id = ?`, id)
		if err := scanJob(row, &job); err != nil {
			return nil, fmt.Errorf("read inserted job: %w", err)
		}
		out = append(out, job)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id int64) (queue.Job, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM jobs WHERE id = ? AND is_deleted = 0`, id)
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
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now().UTC())}

	if upd.Payload != nil {
		sets = append(sets, "payload = ?")
		args = append(args, string(*upd.Payload))
	}
	if upd.ScheduledAt != nil {
		sets = append(sets, "scheduled_at = ?")
		args = append(args, formatTime(upd.ScheduledAt.UTC()))
	}
	if upd.MaxTries != nil {
		sets = append(sets, "max_tries = ?")
		args = append(args, *upd.MaxTries)
	}
	args = append(args, id)

	q := fmt.Sprintf(`UPDATE jobs SET %s WHERE id = ? AND is_deleted = 0`, strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return queue.Job{}, fmt.Errorf("update job: %w", err)
	}
	if err := requireRowsAffected(res); err != nil {
		return queue.Job{}, err
	}
	return s.Get(ctx, id)
}

func (s *Store) List(ctx context.Context, filter queue.Filter, limit, offset int) ([]queue.Job, error) {
	where, args := buildFilter(filter)
	args = append(args, limit, offset)
	q := selectColumns + fmt.Sprintf(` FROM jobs WHERE %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, where)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []queue.Job
	for rows.Next() {
		var job queue.Job
		if err := scanJob(rows, &job); err != nil {
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
	clauses := []string{"is_deleted = 0"}
	var args []any
	if filter.QueueName != "" {
		clauses = append(clauses, "queue_name = ?")
		args = append(args, filter.QueueName)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.JobType != "" {
		clauses = append(clauses, "job_type = ?")
		args = append(args, filter.JobType)
	}
	return strings.Join(clauses, " AND "), args
}

func (s *Store) Stats(ctx context.Context) (queue.Stats, error) {
	stats := queue.Stats{
		PerStatus: make(map[queue.Status]int64),
		PerQueue:  make(map[string]int64),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, count(*) FROM jobs WHERE is_deleted = 0 GROUP BY status`)
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

	rows, err = s.db.QueryContext(ctx, `SELECT queue_name, count(*) FROM jobs WHERE is_deleted = 0 GROUP BY queue_name`)
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

// ClaimNext picks the oldest-scheduled eligible job and claims it inside a
// single transaction. SQLite grants only one writer at a time, so the
// SELECT-then-UPDATE here cannot race with another ClaimNext call the way
// it would under a store with real row-level concurrency; the transaction
// exists to keep the read-then-write atomic with respect to any concurrent
// reader observing the row between steps.
func (s *Store) ClaimNext(ctx context.Context, queues []string) (queue.Job, error) {
	if len(queues) == 0 {
		queues = []string{queue.DefaultQueue}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return queue.Job{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	placeholders := make([]string, len(queues))
	args := make([]any, 0, len(queues)+1)
	for i, q := range queues {
		placeholders[i] = "?"
		args = append(args, q)
	}
	args = append(args, formatTime(time.Now().UTC()))

	q := fmt.Sprintf(`
		SELECT id FROM jobs
		WHERE status = 'pending' AND queue_name IN (%s) AND scheduled_at <= ? AND is_deleted = 0
		ORDER BY scheduled_at ASC, id ASC
		LIMIT 1
	`, strings.Join(placeholders, ","))

	var id int64
	if err := tx.QueryRowContext(ctx, q, args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return queue.Job{}, queue.ErrJobNotFound
		}
		return queue.Job{}, fmt.Errorf("select claimable job: %w", err)
	}

	now := formatTime(time.Now().UTC())
	res, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = 'running', attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, now, id)
	if err != nil {
		return queue.Job{}, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return queue.Job{}, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return queue.Job{}, queue.ErrJobNotFound
	}

	var job queue.Job
	row := tx.QueryRowContext(ctx, selectColumns+` FROM jobs WHERE id = ?`, id)
	if err := scanJob(row, &job); err != nil {
		return queue.Job{}, fmt.Errorf("read claimed job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return queue.Job{}, fmt.Errorf("commit tx: %w", err)
	}
	return job, nil
}

func (s *Store) MarkCompleted(ctx context.Context, id int64, result map[string]any) error {
	job, err := s.getRaw(ctx, id)
	if err != nil {
		return err
	}

	merged, err := mergeJSONKey(job.Payload, "result", result)
	if err != nil {
		return fmt.Errorf("merge result into payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'completed', payload = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 0
	`, merged, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return requireRowsAffected(res)
}

func (s *Store) MarkFailed(ctx context.Context, id int64, failure queue.FailureEntry, retryAt *time.Time) error {
	job, err := s.getRaw(ctx, id)
	if err != nil {
		return err
	}

	var errs []queue.FailureEntry
	if existing, ok := extractJSONKey(job.Payload, "errors"); ok {
		_ = json.Unmarshal(existing, &errs)
	}
	errs = append(errs, failure)
	merged, err := mergeJSONKey(job.Payload, "errors", errs)
	if err != nil {
		return fmt.Errorf("append failure entry: %w", err)
	}

	status := "failed"
	scheduledAt := job.ScheduledAt
	if retryAt != nil {
		status = "pending"
		scheduledAt = *retryAt
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, payload = ?, scheduled_at = ?, updated_at = ?
		WHERE id = ? AND is_deleted = 0
	`, status, merged, formatTime(scheduledAt.UTC()), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireRowsAffected(res)
}

func (s *Store) Cancel(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'cancelled', is_deleted = 1, deleted_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending' AND is_deleted = 0
	`, formatTime(time.Now().UTC()), formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		// getRaw also sees soft-deleted rows, so a repeat cancel of an
		// already cancelled job is reported as not cancellable.
		if _, getErr := s.getRaw(ctx, id); getErr != nil {
			return getErr
		}
		return queue.ErrNotCancellable
	}
	return nil
}

func (s *Store) ResetStale(ctx context.Context, staleAfter time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-staleAfter)
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', updated_at = ?
		WHERE status = 'running' AND updated_at < ? AND is_deleted = 0
	`, formatTime(time.Now().UTC()), formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("reset stale jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) CleanupCompleted(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE status = 'completed' AND updated_at < ?
	`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("cleanup completed jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) RetryFailedJob(ctx context.Context, id int64, resetAttempts bool) (queue.Job, error) {
	set := "status = 'pending', scheduled_at = ?, updated_at = ?"
	args := []any{formatTime(time.Now().UTC()), formatTime(time.Now().UTC())}
	if resetAttempts {
		set += ", attempts = 0"
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE jobs SET %s WHERE id = ? AND status = 'failed' AND is_deleted = 0
	`, set), args...)
	if err != nil {
		return queue.Job{}, fmt.Errorf("retry failed job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return queue.Job{}, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, getErr := s.Get(ctx, id); getErr != nil {
			return queue.Job{}, getErr
		}
		return queue.Job{}, queue.ErrNotRetryable
	}
	return s.Get(ctx, id)
}

// getRaw fetches a job by id ignoring soft-delete, with the same error
// mapping as Get. The mark helpers use it on rows still running (never
// soft-deleted at that point); Cancel uses it to tell an already cancelled
// job apart from a missing one.
func (s *Store) getRaw(ctx context.Context, id int64) (queue.Job, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM jobs WHERE id = ?`, id)
	var job queue.Job
	if err := scanJob(row, &job); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return queue.Job{}, queue.ErrJobNotFound
		}
		return queue.Job{}, fmt.Errorf("get job: %w", err)
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

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

const selectColumns = `SELECT id, queue_name, job_type, payload, status, scheduled_at, attempts, max_tries, created_at, updated_at, is_deleted, deleted_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner, job *queue.Job) error {
	var payload string
	var status string
	var scheduledAt, createdAt, updatedAt string
	var deletedAt sql.NullString
	var isDeleted int

	if err := row.Scan(
		&job.ID, &job.QueueName, &job.JobType, &payload, &status,
		&scheduledAt, &job.Attempts, &job.MaxTries,
		&createdAt, &updatedAt, &isDeleted, &deletedAt,
	); err != nil {
		return err
	}

	job.Payload = json.RawMessage(payload)
	job.Status = queue.Status(status)
	job.IsDeleted = isDeleted != 0

	var err error
	if job.ScheduledAt, err = parseTime(scheduledAt); err != nil {
		return fmt.Errorf("parse scheduled_at: %w", err)
	}
	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return fmt.Errorf("parse created_at: %w", err)
	}
	if job.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return fmt.Errorf("parse updated_at: %w", err)
	}
	if deletedAt.Valid {
		t, err := parseTime(deletedAt.String)
		if err != nil {
			return fmt.Errorf("parse deleted_at: %w", err)
		}
		job.DeletedAt = &t
	}
	return nil
}

// mergeJSONKey decodes payload as an object, sets key to value, and
// re-encodes it, preserving every other key untouched.
func mergeJSONKey(payload json.RawMessage, key string, value any) (string, error) {
	obj := map[string]json.RawMessage{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &obj); err != nil {
			return "", fmt.Errorf("decode payload: %w", err)
		}
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", key, err)
	}
	obj[key] = encoded
	merged, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(merged), nil
}

func extractJSONKey(payload json.RawMessage, key string) (json.RawMessage, bool) {
	obj := map[string]json.RawMessage{}
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, false
	}
	v, ok := obj[key]
	return v, ok
}
