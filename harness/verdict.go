// Package harness drives scripted test cases against device connections and
// aggregates their results.
package harness

import (
	"time"

	"github.com/yuuki/netstimtest/script"
)

// Verdict holds the two independent checks applied to every reply.
type Verdict struct {
	WithinThreshold bool
	ExpectedMatch   bool
}

// Passed reports whether the reply was both on time and as expected.
func (v Verdict) Passed() bool {
	return v.WithinThreshold && v.ExpectedMatch
}

// Evaluate judges a reply to cmd that took elapsed to arrive. The threshold
// is inclusive and only the first comma-delimited token of the reply is
// compared. An expected error token passes like any other expected token.
func Evaluate(cmd script.Command, response string, elapsed time.Duration) Verdict {
	return Verdict{
		WithinThreshold: elapsed <= cmd.Threshold(),
		ExpectedMatch:   script.FirstToken(response) == cmd.Expect(),
	}
}
