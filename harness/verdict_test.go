package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/yuuki/netstimtest/script"
)

func TestEvaluate(t *testing.T) {
	ready := script.MustCommand("R1999J", 4*time.Millisecond, "SPREADY")
	config := script.MustCommand("SPSTIMCONFIG,1,1,2,500,200,750", 250*time.Millisecond, "SPSTIMCONFIGDONE")
	wantErr := script.MustCommand("NONSENSE", 4*time.Millisecond, "SPERROR")

	tests := []struct {
		name    string
		cmd     script.Command
		resp    string
		elapsed time.Duration
		within  bool
		match   bool
		passed  bool
	}{
		{"ready on time", ready, "SPREADY", 3 * time.Millisecond, true, true, true},
		{"ready with version fields", ready, "SPREADY,StimProc,Jan  1 2024", time.Millisecond, true, true, true},
		{"boundary is inclusive", ready, "SPREADY", 4 * time.Millisecond, true, true, true},
		{"one nanosecond late", ready, "SPREADY", 4*time.Millisecond + 1, false, true, false},
		{"config late despite match", config, "SPSTIMCONFIGDONE,ACK", 300 * time.Millisecond, false, true, false},
		{"mismatch at zero latency", config, "SPSTIMCONFIGERROR,bad", 0, true, false, false},
		{"expected error passes", wantErr, "SPERROR,StimProc command not recognized", time.Millisecond, true, true, true},
		{"prefix of token is not a match", config, "SPSTIMCONFIGDONEX", time.Millisecond, true, false, false},
		{"empty reply", ready, "", time.Millisecond, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Evaluate(tt.cmd, tt.resp, tt.elapsed)
			assert.Equal(t, tt.within, v.WithinThreshold)
			assert.Equal(t, tt.match, v.ExpectedMatch)
			assert.Equal(t, tt.passed, v.Passed())
		})
	}
}

func TestEvaluateProperties(t *testing.T) {
	token := rapid.StringMatching(`[A-Z]{1,12}`)

	rapid.Check(t, func(t *rapid.T) {
		threshold := time.Duration(rapid.Int64Range(1, int64(time.Second)).Draw(t, "threshold"))
		expect := token.Draw(t, "expect")
		got := token.Draw(t, "got")
		tail := rapid.StringMatching(`(,[A-Za-z0-9 ]{0,8}){0,3}`).Draw(t, "tail")
		elapsed := time.Duration(rapid.Int64Range(0, int64(2*time.Second)).Draw(t, "elapsed"))

		cmd := script.MustCommand("CMD", threshold, expect)
		v := Evaluate(cmd, got+tail, elapsed)

		if v.WithinThreshold != (elapsed <= threshold) {
			t.Fatalf("within=%v for elapsed %s threshold %s", v.WithinThreshold, elapsed, threshold)
		}
		if v.ExpectedMatch != (got == expect) {
			t.Fatalf("match=%v for %q vs %q", v.ExpectedMatch, got+tail, expect)
		}
		if got != expect && v.Passed() {
			t.Fatalf("mismatched reply %q passed", got)
		}
		if v.Passed() != (v.WithinThreshold && v.ExpectedMatch) {
			t.Fatal("passed must be the conjunction of both checks")
		}
	})
}
