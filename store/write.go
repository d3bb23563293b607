package store

import (
	"context"
	"fmt"
	"time"

	"github.com/yuuki/netstimtest/harness"
	"github.com/yuuki/netstimtest/script"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableError(err error) any {
	if err == nil {
		return nil
	}
	return err.Error()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// WriteRunStart inserts a run. Writing the same run twice is a no-op.
func (s *Store) WriteRunStart(ctx context.Context, runID string, startedAt time.Time, tests int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, tests)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, runID, formatTime(startedAt), tests)
	if err != nil {
		return fmt.Errorf("write run start: %w", err)
	}
	return nil
}

// WriteTestStart inserts a test case row for the accepted connection.
func (s *Store) WriteTestStart(ctx context.Context, ev harness.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tests (run_id, test_index, name, connection_id, remote_addr, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, ev.RunID, ev.TestIndex, ev.TestName, ev.ConnID, ev.RemoteAddr, formatTime(ev.Time))
	if err != nil {
		return fmt.Errorf("write test start: %w", err)
	}
	return nil
}

// WriteCommand inserts one executed command.
func (s *Store) WriteCommand(ctx context.Context, ev harness.Event) error {
	res := ev.Result
	if res == nil {
		return fmt.Errorf("write command: event has no result")
	}
	cmd := res.Command
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commands
		(run_id, test_index, command_index, sent_at, sent, received, expect, category,
		 response_time_ms, threshold_ms, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.RunID,
		ev.TestIndex,
		ev.CommandIndex,
		formatTime(ev.Time),
		cmd.Text(),
		res.Received,
		cmd.Expect(),
		cmd.Category().String(),
		res.ResponseTimeMs(),
		script.ThresholdMs(cmd.Threshold()),
		res.Status(),
		nullableError(res.Err),
	)
	if err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

// WriteTestEnd records the verdict of a test case.
func (s *Store) WriteTestEnd(ctx context.Context, ev harness.Event) error {
	out := ev.Outcome
	if out == nil {
		return fmt.Errorf("write test end: event has no outcome")
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE tests SET passed = ?, executed = ?, failed = ?, error = ?
		WHERE run_id = ? AND test_index = ?
	`, boolInt(out.Passed), out.Executed, out.Failed, nullableError(out.Err), ev.RunID, ev.TestIndex)
	if err != nil {
		return fmt.Errorf("write test end: %w", err)
	}
	return nil
}

// WriteRunEnd records the final tally of a run.
func (s *Store) WriteRunEnd(ctx context.Context, ev harness.Event) error {
	var tally harness.Tally
	if ev.Summary != nil {
		tally = ev.Summary.Tally
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, command_pass = ?, command_fail = ?, test_pass = ?, test_fail = ?, error = ?
		WHERE id = ?
	`,
		formatTime(ev.Time),
		tally.CommandPass,
		tally.CommandFail,
		tally.TestPass,
		tally.TestFail,
		nullableError(ev.Err),
		ev.RunID,
	)
	if err != nil {
		return fmt.Errorf("write run end: %w", err)
	}
	return nil
}
