package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yuuki/netstimtest/script"
)

const (
	DefaultReadBufferSize = 1024
	DefaultCommandDelay   = 250 * time.Millisecond
)

// RunnerConfig tunes how a Runner talks to the device.
type RunnerConfig struct {
	// ReadBufferSize bounds a reply. One read is one reply; a reply larger
	// than the buffer is truncated.
	ReadBufferSize int
	// ReadTimeout sets a read deadline per command when positive. By default
	// a slow reply is waited for, measured and failed.
	ReadTimeout time.Duration
	// CommandDelay is the pause after each command.
	CommandDelay time.Duration
}

func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		ReadBufferSize: DefaultReadBufferSize,
		CommandDelay:   DefaultCommandDelay,
	}
}

// Runner executes one test case at a time against an accepted connection.
type Runner struct {
	config RunnerConfig
	agg    *Aggregator
	sink   Sink
	runID  string
	buf    []byte
}

func NewRunner(config RunnerConfig, agg *Aggregator, sink Sink) *Runner {
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = DefaultReadBufferSize
	}
	if sink == nil {
		sink = NoopSink{}
	}
	return &Runner{
		config: config,
		agg:    agg,
		sink:   sink,
		buf:    make([]byte, config.ReadBufferSize),
	}
}

// Run sends every command of tc over conn in order and records each result.
// A failed command fails the test but the remaining commands still run; a
// transport failure ends the test. The caller owns conn.
func (r *Runner) Run(ctx context.Context, index int, tc script.TestCase, conn net.Conn) TestOutcome {
	out := TestOutcome{Index: index, Name: tc.Name, Passed: true}
	base := Event{
		RunID:      r.runID,
		ConnID:     uuid.NewString(),
		RemoteAddr: conn.RemoteAddr().String(),
		TestIndex:  index,
		TestName:   tc.Name,
	}

	ev := base
	ev.Kind = EventTestStart
	ev.TestSize = tc.Len()
	r.emit(ev)

	for i, cmd := range tc.Commands {
		res := r.exchange(conn, cmd)
		r.agg.Record(res)
		out.Executed++
		if !res.Passed() {
			out.Passed = false
			out.Failed++
		}

		ev := base
		ev.Kind = EventCommand
		ev.CommandIndex = i
		ev.Result = &res
		r.emit(ev)

		if res.Err != nil {
			out.Err = res.Err
			if err := ctx.Err(); err != nil {
				out.Err = err
			}
			slog.Warn("transport failure, abandoning test case",
				"test", tc.Name,
				"remote_addr", base.RemoteAddr,
				"error", res.Err)

			ev := base
			ev.Kind = EventTransportError
			ev.CommandIndex = i
			ev.Err = res.Err
			r.emit(ev)
			break
		}

		if err := r.pause(ctx); err != nil && i < len(tc.Commands)-1 {
			out.Passed = false
			out.Err = err
			break
		}
	}

	r.agg.RecordTestOutcome(out.Passed)

	ev = base
	ev.Kind = EventTestEnd
	ev.Outcome = &out
	r.emit(ev)
	return out
}

// exchange writes one command and times the single read that follows.
func (r *Runner) exchange(conn net.Conn, cmd script.Command) CommandResult {
	res := CommandResult{Command: cmd}

	line := cmd.Line()
	n, err := conn.Write(line)
	if err == nil && n != len(line) {
		err = io.ErrShortWrite
	}
	if err != nil {
		res.Err = fmt.Errorf("%w: writing %q: %w", ErrTransport, cmd.Text(), err)
		return res
	}

	if r.config.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(r.config.ReadTimeout)); err != nil {
			res.Err = fmt.Errorf("%w: setting read deadline: %w", ErrTransport, err)
			return res
		}
	}

	start := time.Now()
	n, err = conn.Read(r.buf)
	res.Elapsed = time.Since(start)
	if n == 0 {
		if err == nil {
			err = io.ErrNoProgress
		}
		res.Err = fmt.Errorf("%w: reading reply to %q: %w", ErrTransport, cmd.Text(), err)
		return res
	}

	res.Received = strings.TrimSpace(string(r.buf[:n]))
	res.Verdict = Evaluate(cmd, res.Received, res.Elapsed)
	return res
}

func (r *Runner) pause(ctx context.Context) error {
	if r.config.CommandDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(r.config.CommandDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Runner) emit(ev Event) {
	ev.Time = time.Now()
	r.sink.Emit(ev)
}
