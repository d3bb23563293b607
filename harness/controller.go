package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/yuuki/netstimtest/limit"
	"github.com/yuuki/netstimtest/script"
	"github.com/yuuki/netstimtest/sock"
)

const (
	DefaultListenAddr = "127.0.0.1:8901"
	DefaultAcceptRate = 1000
	RetryDelaySeconds = 1
)

// State is the controller's position in a harness run.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateAccepting
	StateExecuting
	StateSummarizing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateAccepting:
		return "accepting"
	case StateExecuting:
		return "executing"
	case StateSummarizing:
		return "summarizing"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Config configures a Controller.
type Config struct {
	ListenAddr string
	// AcceptRate caps new device connections per second. Zero or less
	// disables the cap.
	AcceptRate int
	Runner     RunnerConfig
}

func DefaultConfig() Config {
	return Config{
		ListenAddr: DefaultListenAddr,
		AcceptRate: DefaultAcceptRate,
		Runner:     DefaultRunnerConfig(),
	}
}

// Controller owns the listening socket and runs each test case against a
// freshly accepted device connection. The device is the active side and must
// reconnect for every test case.
type Controller struct {
	config Config
	agg    *Aggregator
	sink   Sink
	runner *Runner
	runID  string

	ln    net.Listener
	state atomic.Int32
}

func NewController(config Config, agg *Aggregator, sink Sink) *Controller {
	if sink == nil {
		sink = NoopSink{}
	}
	runner := NewRunner(config.Runner, agg, sink)
	runner.runID = uuid.NewString()
	return &Controller{
		config: config,
		agg:    agg,
		sink:   sink,
		runner: runner,
		runID:  runner.runID,
	}
}

// RunID identifies this harness run in events and persisted results.
func (c *Controller) RunID() string {
	return c.runID
}

// State returns the current state. It is safe to call from any goroutine.
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	old := State(c.state.Swap(int32(s)))
	if old != s {
		slog.Debug("harness state", "from", old, "to", s)
	}
}

// Listen binds the listening socket. A bind failure is returned before any
// test runs.
func (c *Controller) Listen(ctx context.Context) error {
	if c.ln != nil {
		return nil
	}
	lc := net.ListenConfig{
		Control: sock.ListenControl(),
	}
	ln, err := lc.Listen(ctx, "tcp", c.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %q error: %w", c.config.ListenAddr, err)
	}
	c.ln = ln
	c.setState(StateListening)
	slog.Info("harness listening", "addr", ln.Addr(), "run_id", c.runID)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (c *Controller) Addr() net.Addr {
	if c.ln == nil {
		return nil
	}
	return c.ln.Addr()
}

// Run executes tests in order, one accepted connection per test case, then
// summarizes. On cancellation it stops accepting, summarizes what ran and
// returns the context error alongside the summary.
func (c *Controller) Run(ctx context.Context, tests []script.TestCase) (Summary, error) {
	if err := c.Listen(ctx); err != nil {
		return Summary{}, err
	}
	defer c.ln.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.ln.Close()
		case <-done:
		}
	}()

	c.emit(Event{Kind: EventRunStart, Tests: len(tests)})

	limiter := limit.New(c.config.AcceptRate)

	var runErr error
	for i, tc := range tests {
		if err := limit.Wait(ctx, limiter); err != nil {
			runErr = err
			break
		}

		c.setState(StateAccepting)
		conn, err := c.accept(ctx)
		if err != nil {
			runErr = err
			break
		}
		slog.Info("device connected",
			"test", tc.Name,
			"remote_addr", conn.RemoteAddr())

		// Closing the connection on cancellation unblocks a read on a
		// silent device. AfterFunc also fires if ctx is already done.
		stop := context.AfterFunc(ctx, func() { conn.Close() })

		c.setState(StateExecuting)
		if err := sock.SetQuickAck(conn); err != nil {
			slog.Warn("setting quick ack", "remote_addr", conn.RemoteAddr(), "error", err)
		}
		c.runner.Run(ctx, i, tc, conn)
		conn.Close()
		stop()

		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
	}

	c.setState(StateSummarizing)
	summary := c.agg.Summarize()
	c.emit(Event{Kind: EventRunEnd, Summary: &summary, Tests: len(tests), Err: runErr})
	c.setState(StateDone)
	return summary, runErr
}

func (c *Controller) accept(ctx context.Context) (net.Conn, error) {
	for {
		conn, err := c.ln.Accept()
		if err == nil {
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			slog.Warn("timeout error accepting TCP connection",
				"addr", c.ln.Addr(),
				"error", err)
			time.Sleep(RetryDelaySeconds * time.Second)
			continue
		}
		return nil, fmt.Errorf("accepting TCP connection: %w", err)
	}
}

func (c *Controller) emit(ev Event) {
	ev.Time = time.Now()
	ev.RunID = c.runID
	c.sink.Emit(ev)
}
