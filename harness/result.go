package harness

import (
	"errors"
	"time"

	"github.com/yuuki/netstimtest/script"
)

// ErrTransport marks a write or read failure on the device connection. It
// ends the current test case.
var ErrTransport = errors.New("transport failure")

const (
	StatusPass = "Pass"
	StatusFail = "Fail"
)

// CommandResult is the outcome of one executed command.
type CommandResult struct {
	Command  script.Command
	Received string
	Elapsed  time.Duration
	Verdict  Verdict
	// Err is set when the exchange failed at the transport level; Received
	// and Verdict are then empty.
	Err error
}

// Passed reports whether the command passed.
func (r CommandResult) Passed() bool {
	return r.Err == nil && r.Verdict.Passed()
}

// ResponseTimeMs returns the measured latency in fractional milliseconds.
func (r CommandResult) ResponseTimeMs() float64 {
	return script.ThresholdMs(r.Elapsed)
}

// Status returns StatusPass or StatusFail.
func (r CommandResult) Status() string {
	if r.Passed() {
		return StatusPass
	}
	return StatusFail
}

// Row converts the result into an export row.
func (r CommandResult) Row() Row {
	return Row{
		Status:         r.Status(),
		ResponseTimeMs: r.ResponseTimeMs(),
		Sent:           r.Command.Text(),
		Received:       r.Received,
	}
}

// Row is one line of the per-command export, in execution order.
type Row struct {
	Status         string
	ResponseTimeMs float64
	Sent           string
	Received       string
}

// TestOutcome summarizes one test case run against one connection.
type TestOutcome struct {
	Index    int
	Name     string
	Passed   bool
	Executed int
	Failed   int
	// Err is the transport or cancellation error that ended the test early.
	Err error
}
