// Package script holds the scripted commands a harness run sends to the
// device under test, the test cases that group them, the randomized test
// generator, and the YAML suite loader.
package script

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Command names the harness classifies into their own latency category.
const (
	NameConfig      = "SPSTIMCONFIG"
	NameThetaConfig = "SPSTIMTHETACONFIG"
	NameStart       = "SPSTIMSTART"
)

var (
	ErrEmptyCommand     = errors.New("command text is empty")
	ErrInvalidThreshold = errors.New("threshold must be positive")
	ErrLineTerminator   = errors.New("command text contains a line terminator")
)

// Category buckets commands for latency statistics.
type Category uint8

const (
	// CategoryOther covers the subject-code handshake, start commands and
	// anything the harness does not recognize.
	CategoryOther Category = iota
	CategoryConfig
	CategoryThetaConfig
)

func (c Category) String() string {
	switch c {
	case CategoryOther:
		return "stim"
	case CategoryConfig:
		return "config"
	case CategoryThetaConfig:
		return "theta_config"
	default:
		return "unknown"
	}
}

// categorize maps the first comma-delimited token of a command to its category.
func categorize(text string) Category {
	switch FirstToken(text) {
	case NameConfig:
		return CategoryConfig
	case NameThetaConfig:
		return CategoryThetaConfig
	default:
		return CategoryOther
	}
}

// Command is one scripted request: the text sent on the wire, the latency
// budget for the reply, and the token the reply must start with.
// The zero value is not valid; use NewCommand.
type Command struct {
	text      string
	threshold time.Duration
	expect    string
	category  Category
}

// NewCommand validates and builds a Command. The category is derived here
// once and never re-parsed.
func NewCommand(text string, threshold time.Duration, expect string) (Command, error) {
	if text == "" {
		return Command{}, ErrEmptyCommand
	}
	if strings.ContainsAny(text, "\r\n") {
		return Command{}, fmt.Errorf("%q: %w", text, ErrLineTerminator)
	}
	if threshold <= 0 {
		return Command{}, fmt.Errorf("%q threshold %s: %w", text, threshold, ErrInvalidThreshold)
	}
	return Command{
		text:      text,
		threshold: threshold,
		expect:    expect,
		category:  categorize(text),
	}, nil
}

// MustCommand is like NewCommand but panics on invalid input. It is meant for
// literal scripts.
func MustCommand(text string, threshold time.Duration, expect string) Command {
	c, err := NewCommand(text, threshold, expect)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Command) Text() string             { return c.text }
func (c Command) Threshold() time.Duration { return c.threshold }
func (c Command) Expect() string           { return c.expect }
func (c Command) Category() Category       { return c.category }

// Line returns the bytes written to the device.
func (c Command) Line() []byte {
	return []byte(c.text + "\n")
}

func (c Command) String() string {
	return fmt.Sprintf("%s (expect %s within %s)", c.text, c.expect, c.threshold)
}

// FirstToken returns the first comma-delimited field of a message with
// surrounding whitespace removed.
func FirstToken(msg string) string {
	msg = strings.TrimSpace(msg)
	if i := strings.IndexByte(msg, ','); i >= 0 {
		return msg[:i]
	}
	return msg
}

// ThresholdMs converts a threshold to fractional milliseconds.
func ThresholdMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Millis converts fractional milliseconds to a duration.
func Millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
