package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultMaxAttempts = 4

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const entryColumns = `entry_id, job_id, job_type, queue, record, status, attempt, max_attempts,
  created_at, started_at, completed_at, next_retry_at, last_error`

type Queue struct {
	db  *sql.DB
	now func() time.Time
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db, now: time.Now}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// Enqueue builds a new record from req and stores it. Returns the job id.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.Type == "" {
		return "", fmt.Errorf("job type is empty")
	}
	if req.Queue == "" {
		return "", fmt.Errorf("queue is empty")
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	rec := Record{
		FieldID:        jobID,
		FieldType:      req.Type,
		FieldQueue:     req.Queue,
		FieldCreatedAt: formatTime(q.now()),
	}
	if len(req.Args) > 0 {
		var args any
		if err := json.Unmarshal(req.Args, &args); err != nil {
			return "", fmt.Errorf("decode args: %w", err)
		}
		rec[FieldArgs] = args
	}

	if _, err := q.Push(ctx, rec, req.MaxAttempts); err != nil {
		return "", err
	}
	return jobID, nil
}

// Push stores rec into the queue named by its queue field and returns the new
// entry id. Every field is kept verbatim except enqueued_at, which is stamped
// with the push time. rec itself is not modified.
func (q *Queue) Push(ctx context.Context, rec Record, maxAttempts int) (string, error) {
	if rec.ID() == "" {
		return "", fmt.Errorf("record id is empty")
	}
	if rec.Type() == "" {
		return "", fmt.Errorf("record type is empty")
	}
	if rec.Queue() == "" {
		return "", fmt.Errorf("record queue is empty")
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	now := formatTime(q.now())
	stored := make(Record, len(rec)+1)
	maps.Copy(stored, rec)
	stored[FieldEnqueuedAt] = now

	raw, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	entryID := uuid.NewString()
	_, err = q.db.ExecContext(ctx, `
INSERT INTO job_queue(entry_id, job_id, job_type, queue, record, status, attempt, max_attempts, created_at)
VALUES(?, ?, ?, ?, ?, ?, 1, ?, ?);
`, entryID, rec.ID(), rec.Type(), rec.Queue(), string(raw), StatusQueued, maxAttempts, now)
	if err != nil {
		return "", fmt.Errorf("push job: %w", err)
	}
	return entryID, nil
}

// Dequeue claims the oldest ready entry among queues and marks it running.
// Returns (nil, nil) if nothing is ready.
func (q *Queue) Dequeue(ctx context.Context, queues []string) (*Entry, error) {
	if len(queues) == 0 {
		return nil, fmt.Errorf("no queues to dequeue from")
	}
	nowS := formatTime(q.now())

	args := make([]any, 0, len(queues)+4)
	args = append(args, StatusQueued, nowS)
	for _, name := range queues {
		args = append(args, name)
	}
	args = append(args, StatusRunning, nowS)

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(queues)), ",")
	row := q.db.QueryRowContext(ctx, `
WITH next AS (
  SELECT entry_id
  FROM job_queue
  WHERE status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?) AND queue IN (`+placeholders+`)
  ORDER BY created_at ASC, rowid ASC
  LIMIT 1
)
UPDATE job_queue
SET status = ?, started_at = ?
WHERE entry_id IN (SELECT entry_id FROM next)
RETURNING `+entryColumns+`;
`, args...)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	return e, nil
}

// Complete marks an entry terminal.
func (q *Queue) Complete(ctx context.Context, entryID string, status Status, lastError *string) error {
	if entryID == "" {
		return fmt.Errorf("entryID is empty")
	}
	if !status.Terminal() {
		return fmt.Errorf("invalid terminal status: %q", status)
	}

	res, err := q.db.ExecContext(ctx, `
UPDATE job_queue
SET status = ?, completed_at = ?, last_error = ?
WHERE entry_id = ?;
`, status, formatTime(q.now()), lastError, entryID)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return requireOneRow(res)
}

// Retry puts a running entry back in its queue, ready at the given time.
func (q *Queue) Retry(ctx context.Context, entryID string, lastError string, at time.Time) error {
	if entryID == "" {
		return fmt.Errorf("entryID is empty")
	}

	res, err := q.db.ExecContext(ctx, `
UPDATE job_queue
SET status = ?, attempt = attempt + 1, next_retry_at = ?, started_at = NULL, last_error = ?
WHERE entry_id = ?;
`, StatusQueued, formatTime(at), lastError, entryID)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	return requireOneRow(res)
}

// GetEntry loads a single entry by id.
func (q *Queue) GetEntry(ctx context.Context, entryID string) (*Entry, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM job_queue WHERE entry_id = ?;`, entryID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return e, nil
}

// EntriesForJob returns every entry recorded for a job id, oldest first.
func (q *Queue) EntriesForJob(ctx context.Context, jobID string) ([]*Entry, error) {
	return q.list(ctx, `SELECT `+entryColumns+` FROM job_queue WHERE job_id = ? ORDER BY created_at ASC, rowid ASC;`, jobID)
}

// ListQueued returns the queued entries of a single queue, oldest first.
func (q *Queue) ListQueued(ctx context.Context, queue string) ([]*Entry, error) {
	return q.list(ctx, `SELECT `+entryColumns+` FROM job_queue WHERE status = ? AND queue = ? ORDER BY created_at ASC, rowid ASC;`, StatusQueued, queue)
}

// Depth returns the number of queued entries across all queues.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_queue WHERE status = ?;`, StatusQueued).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

func (q *Queue) list(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var (
		e            Entry
		rawRecord    string
		statusS      string
		createdAtS   string
		startedAtS   sql.NullString
		completedAtS sql.NullString
		nextRetryAtS sql.NullString
		lastError    sql.NullString
	)
	err := s.Scan(
		&e.EntryID, &e.JobID, &e.Type, &e.Queue, &rawRecord, &statusS, &e.Attempt, &e.MaxAttempts,
		&createdAtS, &startedAtS, &completedAtS, &nextRetryAtS, &lastError,
	)
	if err != nil {
		return nil, err
	}

	rec, err := DecodeRecord([]byte(rawRecord))
	if err != nil {
		return nil, fmt.Errorf("decode record for entry %s: %w", e.EntryID, err)
	}
	e.Record = rec
	e.Status = Status(statusS)
	if t, err := time.Parse(timeLayout, createdAtS); err == nil {
		e.CreatedAt = t
	}
	e.StartedAt = parseNullTime(startedAtS)
	e.CompletedAt = parseNullTime(completedAtS)
	e.NextRetryAt = parseNullTime(nextRetryAtS)
	if lastError.Valid {
		e.LastError = &lastError.String
	}
	return &e, nil
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}
