// Package sim simulates the device under test: it dials the harness once per
// test case and answers the line protocol the way the stimulation device does.
package sim

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/yuuki/netstimtest/script"
)

const (
	ReplyReady       = "SPREADY"
	ReplyError       = "SPERROR"
	ReplyStartDone   = "SPSTIMSTARTDONE"
	ReplyStartError  = "SPSTIMSTARTERROR"
	ReplyConfigDone  = "SPSTIMCONFIGDONE"
	ReplyConfigError = "SPSTIMCONFIGERROR"

	DefaultSubject = "R1999J"
	MaxPairs       = 6

	configElements      = 5
	thetaConfigElements = 6
)

// DeviceConfig describes the simulated device.
type DeviceConfig struct {
	Subject string
	Version string
	Limits  []ChannelLimits
}

// Device is the per-connection protocol state: it must see the subject code
// first, and it stimulates only after a successful configuration.
type Device struct {
	config     DeviceConfig
	ready      bool
	configured bool
}

func NewDevice(config DeviceConfig) *Device {
	return &Device{config: config}
}

// Configured reports whether a stimulation profile is armed.
func (d *Device) Configured() bool {
	return d.configured
}

// Handle returns the reply to one received line and whether the connection
// stays open. An empty reply means nothing is sent.
func (d *Device) Handle(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")

	if !d.ready {
		if line != d.config.Subject {
			return fmt.Sprintf("%s,Subject code %s does not match configuration code %s",
				ReplyError, line, d.config.Subject), false
		}
		d.ready = true
		return ReplyReady + ",StimProc," + d.config.Version, true
	}

	if line == "" {
		return "", true
	}
	fields := strings.Split(line, ",")
	switch fields[0] {
	case script.NameStart:
		return d.start(), true
	case script.NameConfig:
		return d.configure(fields, false), true
	case script.NameThetaConfig:
		return d.configure(fields, true), true
	default:
		return fmt.Sprintf("%s,StimProc command not recognized:  %q", ReplyError, fields[0]), true
	}
}

func (d *Device) start() string {
	if !d.configured {
		return ReplyStartError + ",Attempted to stimulate with no stimulation configured."
	}
	return ReplyStartDone
}

func (d *Device) configure(fields []string, theta bool) string {
	d.configured = false
	if len(fields) < 2 || (len(fields) == 2 && fields[1] == "") {
		// No channels: configured for no stimulation.
		return ReplyConfigDone
	}
	if err := validateConfig(fields, theta, d.config.Limits); err != nil {
		return ReplyConfigError + "," + err.Error()
	}
	d.configured = true
	return ReplyConfigDone
}

var errBurstFraction = errors.New("burst fraction must be greater than 0 and less than 1")

func validateConfig(fields []string, theta bool, limits []ChannelLimits) error {
	elems := configElements
	if theta {
		elems = thetaConfigElements
	}

	pairs, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid stim pair count %q", fields[1])
	}
	if pairs > MaxPairs {
		return fmt.Errorf("stim pair count %d exceeded maximum %d", pairs, MaxPairs)
	}
	expected := 2 + int(pairs)*elems
	if len(fields) != expected {
		return fmt.Errorf("expected %d stim config line elements and got %d", expected, len(fields))
	}

	for p := 0; p < int(pairs); p++ {
		i := 2 + p*elems
		pos, err := parseRange(fields[i], 0, 255)
		if err != nil {
			return err
		}
		neg, err := parseRange(fields[i+1], 0, 255)
		if err != nil {
			return err
		}
		lim, err := findLimits(limits, uint8(pos), uint8(neg))
		if err != nil {
			return err
		}
		if _, err := parseRange(fields[i+2], 0, lim.MaxAmplitude); err != nil {
			return err
		}
		freq, err := parseRange(fields[i+3], lim.MinFrequency, lim.MaxFrequency)
		if err != nil {
			return err
		}

		if !theta {
			if _, err := parseRange(fields[i+4], 0, lim.MaxDuration); err != nil {
				return err
			}
			continue
		}

		frac, err := strconv.ParseFloat(strings.TrimSpace(fields[i+5]), 64)
		if err != nil {
			return fmt.Errorf("invalid burst fraction %q", fields[i+5])
		}
		if frac <= 0 || frac >= 1 {
			return fmt.Errorf("%w, got %v", errBurstFraction, frac)
		}
		if lim.MaxDuration == 0 {
			return fmt.Errorf("pair %s allows no stimulation duration", lim.Pair())
		}
		minSlow := uint64(math.Ceil(1000 * frac / float64(lim.MaxDuration)))
		if _, err := parseRange(fields[i+4], minSlow, freq); err != nil {
			return err
		}
	}
	return nil
}

func parseRange(s string, min, max uint64) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stim parameter %q is not a non-negative integer", s)
	}
	if v < min || v > max {
		return 0, fmt.Errorf("stim parameter %d outside of range %d to %d", v, min, max)
	}
	return v, nil
}
