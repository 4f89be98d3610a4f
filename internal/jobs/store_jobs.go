package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Create inserts a new job. A missing ID is generated and a zero Status
// becomes queued. Exactly one of UploadFilename and FetchURL must be set and
// must agree with InputType.
func (s *Store) Create(ctx context.Context, job *Job) (string, error) {
	if job == nil {
		return "", errors.New("nil job")
	}
	if err := validateInput(job); err != nil {
		return "", err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = StatusQueued
	}
	if job.Status != StatusQueued {
		return "", fmt.Errorf("%w: new jobs start queued, got %s", ErrInvalidTransition, job.Status)
	}
	if strings.TrimSpace(job.UserIdentifier) == "" {
		return "", fmt.Errorf("%w: user identifier is required", ErrInvalidInput)
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	var (
		hitSummary any
		warnings   any
		err        error
	)
	if job.HitSummary != nil {
		if hitSummary, err = encodeJSON(job.HitSummary); err != nil {
			return "", fmt.Errorf("encode hit summary: %w", err)
		}
	}
	if job.Warnings != nil {
		if warnings, err = encodeJSON(job.Warnings); err != nil {
			return "", fmt.Errorf("encode warnings: %w", err)
		}
	}

	_, err = s.execWithRetry(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (`+makePlaceholders(25)+`)`,
		job.ID,
		string(job.Status),
		job.Progress,
		string(job.InputType),
		nullableString(job.UploadFilename),
		nullableString(job.FetchURL),
		job.Title,
		nullableInt(job.UserTempo),
		nullableString(job.WebhookURL),
		nullableString(job.SourceFile),
		job.DetectedTempo,
		boolToInt(job.TempoUnreliable),
		job.DurationSeconds,
		job.ConfidenceScore,
		hitSummary,
		warnings,
		nullableString(job.NotationPath),
		nullableString(job.SecondaryPath),
		job.ComputeTimeMs,
		nullableString(job.ModelVersion),
		nil,
		nullableString(job.TaskHandle),
		job.UserIdentifier,
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return job.ID, nil
}

func validateInput(job *Job) error {
	hasUpload := strings.TrimSpace(job.UploadFilename) != ""
	hasFetch := strings.TrimSpace(job.FetchURL) != ""
	switch {
	case hasUpload && hasFetch:
		return fmt.Errorf("%w: provide either an upload or a fetch URL, not both", ErrInvalidInput)
	case !hasUpload && !hasFetch:
		return fmt.Errorf("%w: an upload or a fetch URL is required", ErrInvalidInput)
	case hasUpload && job.InputType != InputUpload:
		return fmt.Errorf("%w: upload filename requires input type %q", ErrInvalidInput, InputUpload)
	case hasFetch && job.InputType != InputFetch:
		return fmt.Errorf("%w: fetch URL requires input type %q", ErrInvalidInput, InputFetch)
	}
	return nil
}

// Get returns the job with the given id or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// UpdateFields applies patch to the job in a single transaction. A status
// change must follow CanTransition from the stored status.
func (s *Store) UpdateFields(ctx context.Context, id string, patch Patch) error {
	if err := patch.validate(); err != nil {
		return err
	}
	sets, args, err := patch.assignments(time.Now())
	if err != nil {
		return err
	}
	query := s.rebind(`UPDATE jobs SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
	args = append(args, id)

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current string
		row := tx.QueryRowContext(ctx, s.rebind(`SELECT status FROM jobs WHERE id = ?`), id)
		if err := row.Scan(&current); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("load job status: %w", err)
		}
		if patch.Status != nil && !CanTransition(Status(current), *patch.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, *patch.Status)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("update job %s: %w", id, err)
		}
		return nil
	})
}

// Transition applies patch only while the job is in one of the from statuses.
// It reports whether the row was updated; false means the job was missing or
// had already moved on, which callers treat as a lost race rather than an error.
func (s *Store) Transition(ctx context.Context, id string, from []Status, patch Patch) (bool, error) {
	return s.transition(ctx, id, from, nil, patch)
}

// TransitionOwned is Transition with the extra condition that the job's
// task handle still equals handle.
func (s *Store) TransitionOwned(ctx context.Context, id string, from []Status, handle string, patch Patch) (bool, error) {
	return s.transition(ctx, id, from, &handle, patch)
}

func (s *Store) transition(ctx context.Context, id string, from []Status, handle *string, patch Patch) (bool, error) {
	if len(from) == 0 {
		return false, errors.New("transition requires at least one source status")
	}
	if err := patch.validate(); err != nil {
		return false, err
	}
	if patch.Status != nil {
		for _, status := range from {
			if !CanTransition(status, *patch.Status) {
				return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, status, *patch.Status)
			}
		}
	}
	sets, args, err := patch.assignments(time.Now())
	if err != nil {
		return false, err
	}
	args = append(args, id)
	args = append(args, statusArgs(from)...)
	query := `UPDATE jobs SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status IN (` + makePlaceholders(len(from)) + `)`
	if handle != nil {
		query += ` AND task_handle = ?`
		args = append(args, *handle)
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("transition job %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition job %s: %w", id, err)
	}
	return affected > 0, nil
}

// Delete removes the job record.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns jobs newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]*Job, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		where = append(where, `status IN (`+makePlaceholders(len(filter.Statuses))+`)`)
		args = append(args, statusArgs(filter.Statuses)...)
	}
	if filter.User != "" {
		where = append(where, `user_identifier = ?`)
		args = append(args, filter.User)
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return s.queryJobs(ctx, query, args...)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}
