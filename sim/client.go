package sim

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/yuuki/netstimtest/limit"
	"github.com/yuuki/netstimtest/sock"
)

const (
	DefaultDialRate    = 100
	DefaultDialTimeout = 5 * time.Second
)

type ClientConfig struct {
	Device DeviceConfig
	// Latency delays every reply.
	Latency time.Duration
	// Connections is the number of test sessions to serve. Zero keeps
	// reconnecting until the harness refuses.
	Connections int
	// DialRate caps connection attempts per second.
	DialRate int
}

// Client plays the device side: it is the active opener and dials a fresh
// connection for every test case the harness runs.
type Client struct {
	config ClientConfig
}

func NewClient(config ClientConfig) *Client {
	if config.Device.Subject == "" {
		config.Device.Subject = DefaultSubject
	}
	if config.Device.Limits == nil {
		config.Device.Limits = DefaultLimits()
	}
	return &Client{config: config}
}

// Run serves sessions against the harness at addr and returns how many it
// served. Once at least one session ran, a refused dial means the harness is
// done and ends the run without error.
func (c *Client) Run(ctx context.Context, addr string) (int, error) {
	// No client-side fast open: the device never speaks first, so a
	// deferred connect would never send its SYN.
	dialer := net.Dialer{
		Timeout: DefaultDialTimeout,
	}
	limiter := limit.New(c.config.DialRate)

	sessions := 0
	for c.config.Connections <= 0 || sessions < c.config.Connections {
		if err := limit.Wait(ctx, limiter); err != nil {
			return sessions, err
		}

		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return sessions, ctx.Err()
			}
			if errors.Is(err, syscall.ECONNREFUSED) && sessions > 0 {
				slog.Info("harness refused connection, stopping", "addr", addr, "sessions", sessions)
				return sessions, nil
			}
			return sessions, fmt.Errorf("dialing %q: %w", addr, err)
		}
		sessions++

		if err := c.serve(ctx, conn); err != nil {
			slog.Warn("device session ended with error",
				"addr", addr,
				"session", sessions,
				"error", err)
		}
	}
	return sessions, nil
}

// serve answers commands on conn until the harness hangs up or the device
// rejects the session.
func (c *Client) serve(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := sock.SetQuickAck(conn); err != nil {
		slog.Debug("setting quick ack", "error", err)
	}

	dev := NewDevice(c.config.Device)
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
				errors.Is(err, syscall.ECONNRESET) {
				return nil
			}
			return fmt.Errorf("reading from connection: %w", err)
		}

		reply, keep := dev.Handle(line)
		if reply != "" {
			if err := c.delay(ctx); err != nil {
				return nil
			}
			if _, err := conn.Write([]byte(reply + "\n")); err != nil {
				return fmt.Errorf("writing to connection: %w", err)
			}
		}
		if !keep {
			return nil
		}
	}
}

func (c *Client) delay(ctx context.Context) error {
	if c.config.Latency <= 0 {
		return nil
	}
	t := time.NewTimer(c.config.Latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
