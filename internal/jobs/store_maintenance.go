package jobs

import (
	"context"
	"fmt"
	"time"
)

// CountActive returns how many of the user's jobs are not yet terminal.
func (s *Store) CountActive(ctx context.Context, user string) (int, error) {
	active := ActiveStatuses()
	args := append([]any{user}, statusArgs(active)...)
	var count int
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(1) FROM jobs WHERE user_identifier = ? AND status IN (`+makePlaceholders(len(active))+`)`),
		args...,
	)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return count, nil
}

// ListOlderThan returns jobs created strictly before cutoff, oldest first.
func (s *Store) ListOlderThan(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs WHERE created_at < ? ORDER BY created_at ASC`, formatTime(cutoff))
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[Status(status)] = count
	}
	return stats, rows.Err()
}

// HealthSummary aggregates job counts for diagnostics.
type HealthSummary struct {
	Total     int
	Active    int
	Completed int
	Failed    int
}

// Health summarizes the job table.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	var health HealthSummary
	for status, count := range stats {
		health.Total += count
		switch {
		case status == StatusCompleted:
			health.Completed += count
		case status == StatusFailed:
			health.Failed += count
		case status.IsActive():
			health.Active += count
		}
	}
	return health, nil
}
