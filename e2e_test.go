package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/yuuki/netstimtest/capture"
	"github.com/yuuki/netstimtest/store"
)

// Generous thresholds keep loopback runs stable on loaded machines.
const e2eSuite = `
name: e2e
cases:
  - name: configure-and-start
    commands:
      - {send: "R1999J", threshold_ms: 1000, expect: SPREADY}
      - {send: "SPSTIMCONFIG,1,1,2,500,200,750", threshold_ms: 1000, expect: SPSTIMCONFIGDONE}
      - {send: "SPSTIMSTART", threshold_ms: 1000, expect: SPSTIMSTARTDONE}
      - {send: "SPSTIMTHETACONFIG,2,1,2,500,200,3,0.25,3,4,500,200,3,0.25", threshold_ms: 1000, expect: SPSTIMCONFIGDONE}
      - {send: "SPSTIMSTART", threshold_ms: 1000, expect: SPSTIMSTARTDONE}

  - name: wrong-subject-code
    commands:
      - {send: "R1999T", threshold_ms: 1000, expect: SPERROR}

  - name: start-without-config
    commands:
      - {send: "R1999J", threshold_ms: 1000, expect: SPREADY}
      - {send: "SPSTIMSTART", threshold_ms: 1000, expect: SPSTIMSTARTERROR}
      - {send: "SPSTIMCONFIG,1,1,2,500,200,2000", threshold_ms: 1000, expect: SPSTIMCONFIGERROR}
      - {send: "SPSTIMCONFIG", threshold_ms: 1000, expect: SPSTIMCONFIGDONE}
      - {send: "SPSTIMSTART", threshold_ms: 1000, expect: SPSTIMSTARTERROR}
`

const (
	e2eTests    = 3
	e2eCommands = 11
)

func findAvailablePort() int {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 8901
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port
}

// syncBuffer lets the test poll harness output while the harness writes it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type e2eEnv struct {
	dir  string
	addr string
	cfg  Config
}

func newE2EEnv(t *testing.T, overrides map[string]any) e2eEnv {
	t.Helper()

	dir := t.TempDir()
	suitePath := filepath.Join(dir, "suite.yaml")
	if err := os.WriteFile(suitePath, []byte(e2eSuite), 0o644); err != nil {
		t.Fatal(err)
	}

	port := findAvailablePort()
	v := viper.New()
	v.Set("port", port)
	v.Set("suite", suitePath)
	v.Set("generated-tests", 0)
	v.Set("command-delay", 0)
	v.Set("accept-rate", 0)
	v.Set("log-dir", filepath.Join(dir, "logs"))
	v.Set("csv-dir", filepath.Join(dir, "csv"))
	v.Set("sim-connections", e2eTests)
	for k, val := range overrides {
		v.Set(k, val)
	}

	cfg, err := loadConfig(v)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	return e2eEnv{dir: dir, addr: fmt.Sprintf("127.0.0.1:%d", port), cfg: cfg}
}

// startHarness runs the harness in the background and waits until it
// listens.
func startHarness(t *testing.T, ctx context.Context, env e2eEnv) (*syncBuffer, <-chan error) {
	t.Helper()

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- runServer(ctx, env.cfg, out)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "Listening at") {
		select {
		case err := <-done:
			t.Fatalf("harness exited before listening: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("harness did not start listening")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return out, done
}

func waitHarness(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runServer() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("harness did not finish")
	}
}

func TestE2EHarnessAgainstSimulator(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	env := newE2EEnv(t, map[string]any{
		"jsonlines":  true,
		"capture":    filepath.Join(t.TempDir(), "run.cbor"),
		"results-db": filepath.Join(t.TempDir(), "results.db"),
	})
	out, done := startHarness(t, ctx, env)

	if err := runClient(ctx, env.cfg, []string{env.addr}); err != nil {
		t.Fatalf("runClient() error = %v", err)
	}
	waitHarness(t, done)

	output := out.String()
	wantTally := []string{
		fmt.Sprintf("Command Passes: %d\tCommand Failures: 0\n", e2eCommands),
		fmt.Sprintf("Test Passes: %d\tTest Failures: 0\n", e2eTests),
	}
	for _, want := range wantTally {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q\n%s", want, output)
		}
	}
	if got := strings.Count(output, "Test Passed"); got != e2eTests {
		t.Errorf("Test Passed printed %d times, want %d", got, e2eTests)
	}
	if !strings.Contains(output, `"series":"all"`) {
		t.Errorf("output has no JSON Lines summary\n%s", output)
	}

	// Transcript file
	logs, err := filepath.Glob(filepath.Join(env.cfg.LogDir, "*.txt"))
	if err != nil || len(logs) != 1 {
		t.Fatalf("transcripts = %v, %v", logs, err)
	}
	transcript, err := os.ReadFile(logs[0])
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(transcript), "\x1b[") {
		t.Error("transcript file contains color escapes")
	}
	if !strings.Contains(string(transcript), "Send: SPSTIMTHETACONFIG") {
		t.Error("transcript file lacks the theta configuration exchange")
	}

	// CSV export
	exports, err := filepath.Glob(filepath.Join(env.cfg.CSVDir, "*.csv"))
	if err != nil || len(exports) != 1 {
		t.Fatalf("exports = %v, %v", exports, err)
	}
	csvData, err := os.ReadFile(exports[0])
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(csvData)), "\n")
	if len(lines) != e2eCommands+1 {
		t.Errorf("csv has %d lines, want %d", len(lines), e2eCommands+1)
	}
	for _, line := range lines[1:] {
		if !strings.HasPrefix(line, "Pass,") {
			t.Errorf("csv row %q is not a pass", line)
		}
	}

	// Protocol capture: run start/end, test start/end per test, one per command.
	records, err := capture.ReadAll(env.cfg.CapturePath)
	if err != nil {
		t.Fatalf("capture.ReadAll() error = %v", err)
	}
	if want := 2 + 2*e2eTests + e2eCommands; len(records) != want {
		t.Errorf("captured %d records, want %d", len(records), want)
	}

	// Results database
	st, err := store.Open(env.cfg.ResultsDB)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	run, err := st.ReadRun(ctx, records[0].RunID)
	if err != nil {
		t.Fatalf("ReadRun() error = %v", err)
	}
	if run.Tests != e2eTests {
		t.Errorf("stored run has %d tests, want %d", run.Tests, e2eTests)
	}
	failures, err := st.FailureCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 0 {
		t.Errorf("FailureCounts() = %v, want none", failures)
	}
}

func TestE2EWrongSubjectFailsHandshakes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	env := newE2EEnv(t, map[string]any{
		"sim-subject": "R2000X",
		"csv-dir":     "",
	})
	out, done := startHarness(t, ctx, env)

	if err := runClient(ctx, env.cfg, []string{env.addr}); err != nil {
		t.Fatalf("runClient() error = %v", err)
	}
	waitHarness(t, done)

	// Only the case expecting SPERROR for its subject code passes.
	output := out.String()
	if want := "Test Passes: 1\tTest Failures: 2\n"; !strings.Contains(output, want) {
		t.Errorf("output missing %q\n%s", want, output)
	}
	if !strings.Contains(output, "Ended early") {
		t.Error("expected a test to end early after the device hung up")
	}
}

func TestE2EInterruptedWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newE2EEnv(t, nil)
	out, done := startHarness(t, ctx, env)

	cancel()
	waitHarness(t, done)

	output := out.String()
	if !strings.Contains(output, "Run interrupted") {
		t.Errorf("output missing interruption notice\n%s", output)
	}
	if !strings.Contains(output, "Test Passes: 0\tTest Failures: 0\n") {
		t.Errorf("output missing empty tally\n%s", output)
	}
	exports, _ := filepath.Glob(filepath.Join(env.cfg.CSVDir, "*.csv"))
	if len(exports) != 1 {
		t.Errorf("exports = %v, want one header-only file", exports)
	}
}
