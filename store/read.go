package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/yuuki/netstimtest/harness"
)

// Run is a persisted harness run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Tests      int
	Tally      harness.Tally
	Error      string
}

// Command is a persisted command result.
type Command struct {
	TestIndex      int
	CommandIndex   int
	Sent           string
	Received       string
	Expect         string
	Category       string
	ResponseTimeMs float64
	ThresholdMs    float64
	Status         string
	Error          string
}

func parseTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(timeLayout, s.String)
}

// ReadRun loads one run by id. It returns sql.ErrNoRows when the run is
// unknown.
func (s *Store) ReadRun(ctx context.Context, runID string) (Run, error) {
	var (
		r                 Run
		started, finished sql.NullString
		runErr            sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, tests, command_pass, command_fail, test_pass, test_fail, error
		FROM runs WHERE id = ?
	`, runID).Scan(
		&r.ID, &started, &finished, &r.Tests,
		&r.Tally.CommandPass, &r.Tally.CommandFail, &r.Tally.TestPass, &r.Tally.TestFail,
		&runErr,
	)
	if err != nil {
		return Run{}, fmt.Errorf("read run %q: %w", runID, err)
	}
	if r.StartedAt, err = parseTime(started); err != nil {
		return Run{}, fmt.Errorf("read run %q: %w", runID, err)
	}
	if r.FinishedAt, err = parseTime(finished); err != nil {
		return Run{}, fmt.Errorf("read run %q: %w", runID, err)
	}
	r.Error = runErr.String
	return r, nil
}

// ReadCommands returns the commands of a run in execution order.
func (s *Store) ReadCommands(ctx context.Context, runID string) ([]Command, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT test_index, command_index, sent, received, expect, category,
		       response_time_ms, threshold_ms, status, error
		FROM commands WHERE run_id = ?
		ORDER BY test_index, command_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read commands: %w", err)
	}
	defer rows.Close()

	var cmds []Command
	for rows.Next() {
		var (
			c      Command
			cmdErr sql.NullString
		)
		if err := rows.Scan(
			&c.TestIndex, &c.CommandIndex, &c.Sent, &c.Received, &c.Expect, &c.Category,
			&c.ResponseTimeMs, &c.ThresholdMs, &c.Status, &cmdErr,
		); err != nil {
			return nil, fmt.Errorf("read commands: %w", err)
		}
		c.Error = cmdErr.String
		cmds = append(cmds, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read commands: %w", err)
	}
	return cmds, nil
}

// FailureCounts returns, per sent command text, how many times it failed
// across every stored run.
func (s *Store) FailureCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sent, COUNT(*) FROM commands
		WHERE status = ?
		GROUP BY sent
	`, harness.StatusFail)
	if err != nil {
		return nil, fmt.Errorf("failure counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			sent string
			n    int
		)
		if err := rows.Scan(&sent, &n); err != nil {
			return nil, fmt.Errorf("failure counts: %w", err)
		}
		counts[sent] = n
	}
	return counts, rows.Err()
}
