// Package report renders harness runs for people and spreadsheets: a
// transcript with a final summary table, a JSON Lines summary and the
// per-command CSV export.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/yuuki/netstimtest/harness"
	"github.com/yuuki/netstimtest/script"
)

var separator = strings.Repeat("-", 75)

func toMilliseconds(d time.Duration) float64 {
	return script.ThresholdMs(d)
}

func toMicroseconds(d time.Duration) int64 {
	return d.Microseconds()
}

// Printer writes the human-readable transcript of a run. It implements
// harness.Sink.
type Printer struct {
	mu     sync.Mutex
	writer io.Writer

	pass     *color.Color
	fail     *color.Color
	passBold *color.Color
	failBold *color.Color
}

// NewPrinter returns a Printer writing to w. Verdicts are colored only when
// colored is true, regardless of the terminal.
func NewPrinter(w io.Writer, colored bool) *Printer {
	p := &Printer{
		writer:   w,
		pass:     color.New(color.FgHiGreen),
		fail:     color.New(color.FgHiRed),
		passBold: color.New(color.FgHiGreen, color.Bold),
		failBold: color.New(color.FgHiRed, color.Bold),
	}
	for _, c := range []*color.Color{p.pass, p.fail, p.passBold, p.failBold} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// Emit renders one event.
func (p *Printer) Emit(ev harness.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch ev.Kind {
	case harness.EventRunStart:
		fmt.Fprintf(p.writer, "Run %s: %d tests\n\n", ev.RunID, ev.Tests)
	case harness.EventTestStart:
		fmt.Fprintf(p.writer, "Test %d: %s (%d commands) from %s\n\n",
			ev.TestIndex+1, ev.TestName, ev.TestSize, ev.RemoteAddr)
	case harness.EventCommand:
		p.printCommand(ev.Result)
	case harness.EventTestEnd:
		p.printTestEnd(ev.Outcome)
	case harness.EventRunEnd:
		if ev.Err != nil {
			fmt.Fprintf(p.writer, "Run interrupted: %v\n\n", ev.Err)
		}
		if ev.Summary != nil {
			p.printSummary(*ev.Summary)
		}
	}
}

func (p *Printer) printCommand(res *harness.CommandResult) {
	if res == nil {
		return
	}
	cmd := res.Command
	fmt.Fprintf(p.writer, "Send: %s\n", cmd.Text())
	if res.Err != nil {
		fmt.Fprintf(p.writer, "Error: %v\n", res.Err)
	} else {
		fmt.Fprintf(p.writer, "Recv: %s\n", res.Received)
		fmt.Fprintf(p.writer, "Response Time: %.3f ms\n", res.ResponseTimeMs())
		fmt.Fprintf(p.writer, "Threshold: %s ms\n",
			strconv.FormatFloat(toMilliseconds(cmd.Threshold()), 'f', -1, 64))
		fmt.Fprintf(p.writer, "Within Threshold: %t\n", res.Verdict.WithinThreshold)
		fmt.Fprintf(p.writer, "Expected Response: %t\n", res.Verdict.ExpectedMatch)
	}
	if res.Passed() {
		p.pass.Fprintln(p.writer, harness.StatusPass)
	} else {
		p.fail.Fprintln(p.writer, harness.StatusFail)
	}
	p.lineSplit()
}

func (p *Printer) printTestEnd(out *harness.TestOutcome) {
	if out == nil {
		return
	}
	if out.Err != nil {
		fmt.Fprintf(p.writer, "Ended early after %d of its commands: %v\n", out.Executed, out.Err)
	}
	if out.Passed {
		p.passBold.Fprintln(p.writer, "Test Passed")
	} else {
		p.failBold.Fprintln(p.writer, "Test Failed")
	}
	p.lineSplit()
}

func (p *Printer) lineSplit() {
	fmt.Fprintf(p.writer, "\n%s\n\n", separator)
}

// PrintSummary writes the final tally and the latency table.
func (p *Printer) PrintSummary(sum harness.Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.printSummary(sum)
}

func (p *Printer) printSummary(sum harness.Summary) {
	fmt.Fprintf(p.writer, "Command Passes: %d\tCommand Failures: %d\n", sum.CommandPass, sum.CommandFail)
	fmt.Fprintf(p.writer, "Test Passes: %d\tTest Failures: %d\n", sum.TestPass, sum.TestFail)
	p.lineSplit()
	p.printStatHeader()
	for _, st := range sum.Series {
		p.printStatLine(st)
	}
}

func (p *Printer) printStatHeader() {
	fmt.Fprintf(p.writer, "%-14s %-6s %-12s %-12s %-12s %-12s %-12s %s\n",
		"CATEGORY", "CNT", "LAT_MIN(ms)", "LAT_MAX(ms)", "LAT_MEAN(ms)",
		"LAT_90p(ms)", "LAT_95p(ms)", "LAT_99p(ms)")
}

func (p *Printer) printStatLine(st harness.Stats) {
	if st.NoData() {
		fmt.Fprintf(p.writer, "%-14s %-6d %s\n", st.Series, st.Count, "no data")
		return
	}
	fmt.Fprintf(p.writer, "%-14s %-6d %-12.3f %-12.3f %-12.3f %-12.3f %-12.3f %.3f\n",
		st.Series,
		st.Count,
		toMilliseconds(st.Min),
		toMilliseconds(st.Max),
		toMilliseconds(st.Mean),
		toMilliseconds(st.P90),
		toMilliseconds(st.P95),
		toMilliseconds(st.P99),
	)
}

type JSONLinesResult struct {
	RunID       string `json:"run_id"`
	Series      string `json:"series"`
	Count       int    `json:"count"`
	LatencyMax  int64  `json:"latency_max_us"`
	LatencyMin  int64  `json:"latency_min_us"`
	LatencyMean int64  `json:"latency_mean_us"`
	Latency90p  int64  `json:"latency_90p_us"`
	Latency95p  int64  `json:"latency_95p_us"`
	Latency99p  int64  `json:"latency_99p_us"`
	CommandPass int64  `json:"command_pass"`
	CommandFail int64  `json:"command_fail"`
	TestPass    int64  `json:"test_pass"`
	TestFail    int64  `json:"test_fail"`
	Timestamp   string `json:"timestamp"`
}

// PrintJSONLinesSummary writes one JSON object per latency series. Empty
// series are reported with a zero count.
func (p *Printer) PrintJSONLinesSummary(runID string, sum harness.Summary) {
	p.mu.Lock()
	defer p.mu.Unlock()

	timestamp := time.Now().UTC().Format(time.RFC3339)
	enc := json.NewEncoder(p.writer)
	for _, st := range sum.Series {
		result := JSONLinesResult{
			RunID:       runID,
			Series:      st.Series.String(),
			Count:       st.Count,
			LatencyMax:  toMicroseconds(st.Max),
			LatencyMin:  toMicroseconds(st.Min),
			LatencyMean: toMicroseconds(st.Mean),
			Latency90p:  toMicroseconds(st.P90),
			Latency95p:  toMicroseconds(st.P95),
			Latency99p:  toMicroseconds(st.P99),
			CommandPass: sum.CommandPass,
			CommandFail: sum.CommandFail,
			TestPass:    sum.TestPass,
			TestFail:    sum.TestFail,
			Timestamp:   timestamp,
		}
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(p.writer, "Error encoding JSON result: %v\n", err)
		}
	}
}

var _ harness.Sink = (*Printer)(nil)
