/*
Copyright © 2021 Yuuki Tsubouchi <yuki.tsubo@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/yuuki/netstimtest/capture"
	"github.com/yuuki/netstimtest/discovery"
	"github.com/yuuki/netstimtest/harness"
	"github.com/yuuki/netstimtest/limit"
	"github.com/yuuki/netstimtest/report"
	"github.com/yuuki/netstimtest/script"
	"github.com/yuuki/netstimtest/sim"
	"github.com/yuuki/netstimtest/store"
)

// runStampLayout names the transcript and CSV files of a run.
const runStampLayout = "2006-01-02_15-04-05"

var (
	// Mode flags
	clientMode bool
	serverMode bool
)

func init() {
	// Mode flags
	pflag.BoolVarP(&clientMode, "client", "c", false, "run the device simulator (connects to a harness)")
	pflag.BoolVarP(&serverMode, "server", "s", false, "run the test harness (accepts device connections)")

	pflag.String("config", "", "config file (TOML, YAML or JSON)")
	pflag.BoolP("verbose", "v", false, "enable debug logging")
	pflag.Bool("enable-pprof", false, "enable pprof profiling")
	pflag.String("pprof-addr", defaultPprofAddr, "pprof listening address:port")

	// Harness flags
	pflag.String("listen-addr", defaultListenHost, "harness bind host")
	pflag.IntP("port", "p", defaultPort, "harness bind port")
	pflag.String("suite", "", "YAML test suite (default: built-in suite)")
	pflag.Int("generated-tests", defaultGeneratedTests, "randomized test cases appended to the suite")
	pflag.Int("generated-repeats", defaultGeneratedRepeats, "configure/start repeats per randomized test case")
	pflag.Uint64("seed", 0, "seed for randomized test cases (0: time-derived)")
	pflag.Duration("command-delay", harness.DefaultCommandDelay, "pause after each command")
	pflag.Int("accept-rate", harness.DefaultAcceptRate, "max new device connections per second (0: unlimited)")
	pflag.Int("read-buffer", harness.DefaultReadBufferSize, "bytes read per reply")
	pflag.Duration("read-timeout", 0, "per-command read deadline (0: wait forever)")
	pflag.String("log-dir", defaultLogDir, "directory for transcripts (empty: none)")
	pflag.String("csv-dir", defaultCSVDir, "directory for CSV exports (empty: none)")
	pflag.String("capture", "", "append a CBOR protocol capture to this file")
	pflag.String("results-db", "", "record results in this SQLite database")
	pflag.Bool("jsonlines", false, "also print the summary in JSON Lines format")
	pflag.Bool("no-color", false, "disable colored verdicts")
	pflag.Bool("advertise", false, "advertise the harness over mDNS")
	pflag.String("mdns-interface", "", "network interface for mDNS (default: all)")

	// Simulator flags
	pflag.String("sim-subject", sim.DefaultSubject, "subject code the simulated device accepts")
	pflag.Duration("sim-latency", 0, "processing delay before every simulated reply")
	pflag.Int("sim-connections", 0, "test sessions to serve (0: until the harness refuses)")
	pflag.Int("sim-dial-rate", sim.DefaultDialRate, "max connection attempts per second")
	pflag.Duration("discover-timeout", defaultDiscoverTimeout, "how long to browse mDNS when no address is given")

	viper.BindPFlags(pflag.CommandLine)
}

func main() {
	pflag.Parse()

	// Handle version flag
	handleVersion()

	// Validate mode selection
	if clientMode && serverMode {
		fmt.Fprintf(os.Stderr, "Error: cannot specify both client (-c) and server (-s) modes\n")
		os.Exit(1)
	}

	if !clientMode && !serverMode {
		fmt.Fprintf(os.Stderr, "Error: must specify either client (-c) or server (-s) mode\n")
		printUsage()
		os.Exit(1)
	}

	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.Verbose)
	setPprofServer(cfg.Pprof, cfg.PprofAddr)

	ctx, stop := signal.NotifyContext(
		context.Background(), unix.SIGINT, unix.SIGTERM)

	if serverMode {
		// A positional address overrides --listen-addr and --port.
		if args := pflag.Args(); len(args) > 0 {
			cfg.Harness.ListenAddr = args[0]
		}
		err = runServer(ctx, cfg, os.Stdout)
	} else {
		err = runClient(ctx, cfg, pflag.Args())
	}
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] [address]\n\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "netstimtest checks a stimulation device's line protocol for correct replies and response times\n\n")
	fmt.Fprintf(os.Stderr, "Modes:\n")
	fmt.Fprintf(os.Stderr, "  -s, --server    Run the test harness (the device connects to it)\n")
	fmt.Fprintf(os.Stderr, "  -c, --client    Run the device simulator against a harness\n\n")
	fmt.Fprintf(os.Stderr, "Options:\n")
	pflag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  %s -s                              # Harness on 127.0.0.1:8901 with the built-in suite\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s -s --suite suite.yaml 0.0.0.0:9000 # Custom suite and bind address\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s -c 127.0.0.1:8901                # Simulated device\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  %s -c                              # Simulated device, harness found over mDNS\n", os.Args[0])
}

func setupLogging(verbose bool) {
	if !verbose {
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func buildSuite(cfg Config) (script.Suite, error) {
	suite := script.DefaultSuite()
	if cfg.SuitePath != "" {
		var err error
		suite, err = script.LoadSuite(cfg.SuitePath)
		if err != nil {
			return script.Suite{}, err
		}
	}
	if cfg.GeneratedTests == 0 {
		return suite, nil
	}

	gen, err := script.NewGenerator(cfg.Bounds, script.DefaultTemplate(), cfg.Seed)
	if err != nil {
		return script.Suite{}, err
	}
	suite.Append(gen.GenerateCases(cfg.GeneratedTests, cfg.GeneratedRepeats)...)
	slog.Info("generated randomized test cases",
		"count", cfg.GeneratedTests,
		"repeats", cfg.GeneratedRepeats,
		"seed", gen.Seed())
	return suite, nil
}

func runServer(ctx context.Context, cfg Config, stdout io.Writer) error {
	if err := limit.RaiseNoFile(); err != nil {
		return fmt.Errorf("setting file limit: %w", err)
	}

	suite, err := buildSuite(cfg)
	if err != nil {
		return err
	}

	stamp := time.Now().Format(runStampLayout)
	sinks := harness.MultiSink{
		report.NewPrinter(stdout, !cfg.NoColor && isTerminal(stdout)),
	}

	if cfg.LogDir != "" {
		f, err := createIn(cfg.LogDir, stamp+".txt")
		if err != nil {
			return fmt.Errorf("creating transcript: %w", err)
		}
		defer f.Close()
		sinks = append(sinks, report.NewPrinter(f, false))
	}
	if cfg.CapturePath != "" {
		fl, err := capture.NewFileLogger(cfg.CapturePath)
		if err != nil {
			return err
		}
		defer fl.Close()
		sinks = append(sinks, fl)
	}
	if cfg.ResultsDB != "" {
		st, err := store.Open(cfg.ResultsDB)
		if err != nil {
			return err
		}
		defer func() {
			if err := st.Err(); err != nil {
				slog.Warn("results database is incomplete", "path", cfg.ResultsDB, "error", err)
			}
			st.Close()
		}()
		sinks = append(sinks, st)
	}

	agg := harness.NewAggregator()
	ctrl := harness.NewController(cfg.Harness, agg, sinks)
	if err := ctrl.Listen(ctx); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Listening at %q ...\n", ctrl.Addr().String())

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var (
		eg      errgroup.Group
		summary harness.Summary
		runErr  error
	)
	eg.Go(func() error {
		defer cancelRun()
		summary, runErr = ctrl.Run(runCtx, suite.Cases)
		return nil
	})
	if cfg.Advertise {
		eg.Go(func() error {
			adv := discovery.NewAdvertiser(discovery.Config{Interface: cfg.MDNSInterface})
			port := ctrl.Addr().(*net.TCPAddr).Port
			info := discovery.Info{Version: version, RunID: ctrl.RunID()}
			if err := adv.Advertise(runCtx, port, info); err != nil {
				slog.Warn("mDNS advertising disabled", "error", err)
			}
			return nil
		})
	}
	eg.Wait()

	if cfg.CSVDir != "" {
		if err := writeExport(cfg.CSVDir, stamp+".csv", agg.Export()); err != nil {
			return err
		}
	}
	if cfg.JSONLines {
		report.NewPrinter(stdout, false).PrintJSONLinesSummary(ctrl.RunID(), summary)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func createIn(dir, name string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.Create(filepath.Join(dir, name))
}

func writeExport(dir, name string, rows []harness.Row) error {
	f, err := createIn(dir, name)
	if err != nil {
		return fmt.Errorf("creating CSV export: %w", err)
	}
	if err := report.WriteCSV(f, rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func runClient(ctx context.Context, cfg Config, args []string) error {
	if len(args) > 1 {
		return fmt.Errorf("expected at most one harness address, got %d", len(args))
	}

	var addr string
	if len(args) == 1 {
		addr = args[0]
	} else {
		svc, err := discovery.Lookup(ctx, discovery.Config{Interface: cfg.MDNSInterface}, cfg.DiscoverTimeout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("discovering harness: %w", err)
		}
		slog.Info("found harness",
			"instance", svc.Instance,
			"addr", svc.Addr,
			"run_id", svc.Info.RunID)
		addr = svc.Addr
	}

	client := sim.NewClient(cfg.Sim)
	sessions, err := client.Run(ctx, addr)
	slog.Info("device simulator finished", "addr", addr, "sessions", sessions)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func setPprofServer(enabled bool, addr string) {
	if !enabled {
		return
	}
	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			slog.Error("pprof server error", "error", err)
		}
	}()
}
