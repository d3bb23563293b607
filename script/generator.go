package script

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

// Bounds are the inclusive ranges the generator draws stimulation parameters
// from. Each generated configuration command stimulates a single electrode
// pair, PosElectrode to NegElectrode.
type Bounds struct {
	PosElectrode int `mapstructure:"pos_electrode"`
	NegElectrode int `mapstructure:"neg_electrode"`

	AmplitudeMin int `mapstructure:"amplitude_min"`
	AmplitudeMax int `mapstructure:"amplitude_max"`
	FrequencyMin int `mapstructure:"frequency_min"`
	FrequencyMax int `mapstructure:"frequency_max"`
	DurationMin  int `mapstructure:"duration_min"`
	DurationMax  int `mapstructure:"duration_max"`

	// Burst fraction in hundredths.
	FractionMin int `mapstructure:"fraction_min"`
	FractionMax int `mapstructure:"fraction_max"`
}

// DefaultBounds returns the ranges used by the stock randomized tests.
func DefaultBounds() Bounds {
	return Bounds{
		PosElectrode: 1,
		NegElectrode: 2,
		AmplitudeMin: 1,
		AmplitudeMax: 1000,
		FrequencyMin: 4,
		FrequencyMax: 200,
		DurationMin:  1,
		DurationMax:  1000,
		FractionMin:  1,
		FractionMax:  99,
	}
}

// Validate reports the first range that cannot be drawn from.
func (b Bounds) Validate() error {
	ranges := []struct {
		name     string
		min, max int
	}{
		{"amplitude", b.AmplitudeMin, b.AmplitudeMax},
		{"frequency", b.FrequencyMin, b.FrequencyMax},
		{"duration", b.DurationMin, b.DurationMax},
		{"fraction", b.FractionMin, b.FractionMax},
	}
	for _, r := range ranges {
		if r.min > r.max {
			return fmt.Errorf("%s range [%d, %d] is empty", r.name, r.min, r.max)
		}
	}
	if b.FrequencyMin < 1 {
		return fmt.Errorf("frequency minimum %d must be at least 1", b.FrequencyMin)
	}
	if b.FractionMin < 1 || b.FractionMax > 99 {
		return fmt.Errorf("fraction range [%d, %d] must lie within [1, 99]", b.FractionMin, b.FractionMax)
	}
	if b.PosElectrode < 0 || b.PosElectrode > 255 || b.NegElectrode < 0 || b.NegElectrode > 255 {
		return fmt.Errorf("electrode pair %d_%d out of range", b.PosElectrode, b.NegElectrode)
	}
	return nil
}

// Template holds the fixed parts of a generated test case.
type Template struct {
	Handshake          string
	HandshakeExpect    string
	HandshakeThreshold time.Duration
	ConfigThreshold    time.Duration
	StartThreshold     time.Duration
}

func DefaultTemplate() Template {
	return Template{
		Handshake:          "R1999J",
		HandshakeExpect:    "SPREADY",
		HandshakeThreshold: 4 * time.Millisecond,
		ConfigThreshold:    250 * time.Millisecond,
		StartThreshold:     4 * time.Millisecond,
	}
}

// Generator produces randomized test cases for statistical coverage. A
// Generator built from the same seed yields the same sequence of cases.
type Generator struct {
	bounds   Bounds
	template Template
	seed     uint64
	rnd      *rand.Rand
}

// NewGenerator returns a generator seeded with seed. A zero seed is replaced
// by a time-derived one, available from Seed for reproducing the run.
func NewGenerator(bounds Bounds, tmpl Template, seed uint64) (*Generator, error) {
	if err := bounds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid generator bounds: %w", err)
	}
	if _, err := NewCommand(tmpl.Handshake, tmpl.HandshakeThreshold, tmpl.HandshakeExpect); err != nil {
		return nil, fmt.Errorf("invalid handshake: %w", err)
	}
	if tmpl.ConfigThreshold <= 0 || tmpl.StartThreshold <= 0 {
		return nil, ErrInvalidThreshold
	}
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Generator{
		bounds:   bounds,
		template: tmpl,
		seed:     seed,
		rnd:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Seed returns the seed the generator was built with.
func (g *Generator) Seed() uint64 {
	return g.seed
}

// Generate builds one test case: the handshake followed by n repeats of
// config, start, theta config, start. It always holds 1+4n commands; a
// negative n counts as zero.
func (g *Generator) Generate(n int) TestCase {
	n = max(n, 0)
	t := g.template
	cmds := make([]Command, 0, 1+4*n)
	cmds = append(cmds, MustCommand(t.Handshake, t.HandshakeThreshold, t.HandshakeExpect))

	start := MustCommand(NameStart, t.StartThreshold, "SPSTIMSTARTDONE")
	for i := 0; i < n; i++ {
		cmds = append(cmds,
			MustCommand(g.configText(), t.ConfigThreshold, "SPSTIMCONFIGDONE"),
			start,
			MustCommand(g.thetaConfigText(), t.ConfigThreshold, "SPSTIMCONFIGDONE"),
			start,
		)
	}
	return TestCase{Name: "generated", Commands: cmds}
}

// GenerateCases builds count test cases of n repeats each.
func (g *Generator) GenerateCases(count, n int) []TestCase {
	count = max(count, 0)
	cases := make([]TestCase, 0, count)
	for i := 0; i < count; i++ {
		tc := g.Generate(n)
		tc.Name = fmt.Sprintf("generated-%d", i+1)
		cases = append(cases, tc)
	}
	return cases
}

func (g *Generator) between(min, max int) int {
	return min + g.rnd.IntN(max-min+1)
}

func (g *Generator) header(name string) []string {
	b := g.bounds
	return []string{
		name,
		"1",
		strconv.Itoa(b.PosElectrode),
		strconv.Itoa(b.NegElectrode),
	}
}

func (g *Generator) configText() string {
	b := g.bounds
	fields := append(g.header(NameConfig),
		strconv.Itoa(g.between(b.AmplitudeMin, b.AmplitudeMax)),
		strconv.Itoa(g.between(b.FrequencyMin, b.FrequencyMax)),
		strconv.Itoa(g.between(b.DurationMin, b.DurationMax)),
	)
	return strings.Join(fields, ",")
}

func (g *Generator) thetaConfigText() string {
	b := g.bounds
	amp := g.between(b.AmplitudeMin, b.AmplitudeMax)
	freq := g.between(b.FrequencyMin, b.FrequencyMax)
	slow := g.between(1, freq)
	frac := float64(g.between(b.FractionMin, b.FractionMax)) / 100
	fields := append(g.header(NameThetaConfig),
		strconv.Itoa(amp),
		strconv.Itoa(freq),
		strconv.Itoa(slow),
		strconv.FormatFloat(frac, 'f', -1, 64),
	)
	return strings.Join(fields, ",")
}
