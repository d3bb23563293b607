package main

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/yuuki/netstimtest/harness"
	"github.com/yuuki/netstimtest/script"
	"github.com/yuuki/netstimtest/sim"
)

const (
	envPrefix = "NETSTIMTEST"

	defaultListenHost       = "127.0.0.1"
	defaultPort             = 8901
	defaultGeneratedTests   = 1
	defaultGeneratedRepeats = 10
	defaultLogDir           = "logs"
	defaultCSVDir           = "csv"
	defaultDiscoverTimeout  = 5 * time.Second
	defaultPprofAddr        = "localhost:6060"
)

// Config is the resolved configuration of either mode.
type Config struct {
	Harness harness.Config

	SuitePath        string
	GeneratedTests   int
	GeneratedRepeats int
	Seed             uint64
	Bounds           script.Bounds

	LogDir      string
	CSVDir      string
	CapturePath string
	ResultsDB   string
	JSONLines   bool
	NoColor     bool

	Advertise       bool
	MDNSInterface   string
	DiscoverTimeout time.Duration

	Sim sim.ClientConfig

	Verbose   bool
	Pprof     bool
	PprofAddr string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen-addr", defaultListenHost)
	v.SetDefault("port", defaultPort)
	v.SetDefault("generated-tests", defaultGeneratedTests)
	v.SetDefault("generated-repeats", defaultGeneratedRepeats)
	v.SetDefault("command-delay", harness.DefaultCommandDelay)
	v.SetDefault("accept-rate", harness.DefaultAcceptRate)
	v.SetDefault("read-buffer", harness.DefaultReadBufferSize)
	v.SetDefault("log-dir", defaultLogDir)
	v.SetDefault("csv-dir", defaultCSVDir)
	v.SetDefault("discover-timeout", defaultDiscoverTimeout)
	v.SetDefault("sim-subject", sim.DefaultSubject)
	v.SetDefault("sim-dial-rate", sim.DefaultDialRate)
	v.SetDefault("pprof-addr", defaultPprofAddr)
}

// loadConfig resolves flags, the optional config file and NETSTIMTEST_*
// environment variables held by v, and validates the result.
func loadConfig(v *viper.Viper) (Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %q: %w", path, err)
		}
	}

	cfg := Config{
		Harness: harness.Config{
			ListenAddr: net.JoinHostPort(v.GetString("listen-addr"), strconv.Itoa(v.GetInt("port"))),
			AcceptRate: v.GetInt("accept-rate"),
			Runner: harness.RunnerConfig{
				ReadBufferSize: v.GetInt("read-buffer"),
				ReadTimeout:    v.GetDuration("read-timeout"),
				CommandDelay:   v.GetDuration("command-delay"),
			},
		},
		SuitePath:        v.GetString("suite"),
		GeneratedTests:   v.GetInt("generated-tests"),
		GeneratedRepeats: v.GetInt("generated-repeats"),
		Seed:             v.GetUint64("seed"),
		Bounds:           script.DefaultBounds(),
		LogDir:           v.GetString("log-dir"),
		CSVDir:           v.GetString("csv-dir"),
		CapturePath:      v.GetString("capture"),
		ResultsDB:        v.GetString("results-db"),
		JSONLines:        v.GetBool("jsonlines"),
		NoColor:          v.GetBool("no-color"),
		Advertise:        v.GetBool("advertise"),
		MDNSInterface:    v.GetString("mdns-interface"),
		DiscoverTimeout:  v.GetDuration("discover-timeout"),
		Sim: sim.ClientConfig{
			Device: sim.DeviceConfig{
				Subject: v.GetString("sim-subject"),
				Version: version,
			},
			Latency:     v.GetDuration("sim-latency"),
			Connections: v.GetInt("sim-connections"),
			DialRate:    v.GetInt("sim-dial-rate"),
		},
		Verbose:   v.GetBool("verbose"),
		Pprof:     v.GetBool("enable-pprof"),
		PprofAddr: v.GetString("pprof-addr"),
	}

	if err := v.UnmarshalKey("generator", &cfg.Bounds); err != nil {
		return Config{}, fmt.Errorf("decoding generator bounds: %w", err)
	}
	if v.IsSet("sim.limits") {
		var limits []sim.ChannelLimits
		if err := v.UnmarshalKey("sim.limits", &limits); err != nil {
			return Config{}, fmt.Errorf("decoding simulator limits: %w", err)
		}
		cfg.Sim.Device.Limits = limits
	}

	if err := cfg.validate(v.GetInt("port")); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("port %d out of range", port)
	}
	if c.GeneratedTests < 0 {
		return fmt.Errorf("generated-tests must not be negative, got %d", c.GeneratedTests)
	}
	if c.GeneratedTests > 0 && c.GeneratedRepeats < 1 {
		return fmt.Errorf("generated-repeats must be at least 1, got %d", c.GeneratedRepeats)
	}
	if c.Harness.Runner.ReadBufferSize < 1 {
		return fmt.Errorf("read-buffer must be positive, got %d", c.Harness.Runner.ReadBufferSize)
	}
	if c.Harness.Runner.ReadTimeout < 0 || c.Harness.Runner.CommandDelay < 0 {
		return errors.New("read-timeout and command-delay must not be negative")
	}
	if err := c.Bounds.Validate(); err != nil {
		return fmt.Errorf("invalid generator bounds: %w", err)
	}
	if c.Sim.Device.Subject == "" {
		return errors.New("sim-subject must not be empty")
	}
	if c.Sim.Latency < 0 || c.Sim.Connections < 0 {
		return errors.New("sim-latency and sim-connections must not be negative")
	}
	return nil
}
