package harness

import (
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/yuuki/netstimtest/script"
)

// Series identifies one latency sample sequence.
type Series uint8

const (
	SeriesAll Series = iota
	SeriesStim
	SeriesConfig
	SeriesThetaConfig
	numSeries
)

// AllSeries lists the series in report order.
var AllSeries = []Series{SeriesAll, SeriesStim, SeriesConfig, SeriesThetaConfig}

func (s Series) String() string {
	switch s {
	case SeriesAll:
		return "all"
	case SeriesStim:
		return "stim"
	case SeriesConfig:
		return "config"
	case SeriesThetaConfig:
		return "theta_config"
	default:
		return "unknown"
	}
}

// SeriesOf returns the content series a command category is sampled into.
func SeriesOf(c script.Category) Series {
	switch c {
	case script.CategoryConfig:
		return SeriesConfig
	case script.CategoryThetaConfig:
		return SeriesThetaConfig
	default:
		return SeriesStim
	}
}

// Tally counts command and test verdicts.
type Tally struct {
	CommandPass int64
	CommandFail int64
	TestPass    int64
	TestFail    int64
}

// Stats describes one latency series. A zero Count means the series had no
// samples and the remaining fields are meaningless.
type Stats struct {
	Series Series
	Count  int
	Min    time.Duration
	Max    time.Duration
	Mean   time.Duration
	P90    time.Duration
	P95    time.Duration
	P99    time.Duration
}

// NoData reports whether the series was empty.
func (s Stats) NoData() bool {
	return s.Count == 0
}

// Summary is the final tally and per-series latency statistics.
type Summary struct {
	Tally
	Series []Stats
}

// Stats returns the statistics of one series.
func (s Summary) Stats(series Series) Stats {
	for _, st := range s.Series {
		if st.Series == series {
			return st
		}
	}
	return Stats{Series: series}
}

// Aggregator accumulates verdict counters, categorized latency samples and
// the export rows for a whole harness run. It is written by the Runner while
// tests execute and read once at the end.
type Aggregator struct {
	mu sync.Mutex

	registry    metrics.Registry
	commandPass metrics.Counter
	commandFail metrics.Counter
	testPass    metrics.Counter
	testFail    metrics.Counter

	samples [numSeries][]time.Duration
	rows    []Row
}

func NewAggregator() *Aggregator {
	r := metrics.NewRegistry()
	return &Aggregator{
		registry:    r,
		commandPass: metrics.NewRegisteredCounter("command.pass", r),
		commandFail: metrics.NewRegisteredCounter("command.fail", r),
		testPass:    metrics.NewRegisteredCounter("test.pass", r),
		testFail:    metrics.NewRegisteredCounter("test.fail", r),
	}
}

// Record adds one command result. Results that carry a reply are sampled into
// the all series and into the series of the command's category; transport
// failures have no latency to sample.
func (a *Aggregator) Record(res CommandResult) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if res.Passed() {
		a.commandPass.Inc(1)
	} else {
		a.commandFail.Inc(1)
	}
	a.rows = append(a.rows, res.Row())

	if res.Err != nil {
		return
	}
	a.samples[SeriesAll] = append(a.samples[SeriesAll], res.Elapsed)
	s := SeriesOf(res.Command.Category())
	a.samples[s] = append(a.samples[s], res.Elapsed)
}

// RecordTestOutcome counts one completed test case.
func (a *Aggregator) RecordTestOutcome(passed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if passed {
		a.testPass.Inc(1)
	} else {
		a.testFail.Inc(1)
	}
}

// Tally returns the current counters.
func (a *Aggregator) Tally() Tally {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tally()
}

func (a *Aggregator) tally() Tally {
	return Tally{
		CommandPass: a.commandPass.Count(),
		CommandFail: a.commandFail.Count(),
		TestPass:    a.testPass.Count(),
		TestFail:    a.testFail.Count(),
	}
}

// Samples returns a copy of one latency series in execution order.
func (a *Aggregator) Samples(s Series) []time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]time.Duration(nil), a.samples[s]...)
}

// Export returns a copy of the export rows in execution order.
func (a *Aggregator) Export() []Row {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Row(nil), a.rows...)
}

// Summarize computes the tally and the statistics of every series.
func (a *Aggregator) Summarize() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	sum := Summary{Tally: a.tally(), Series: make([]Stats, 0, len(AllSeries))}
	for _, s := range AllSeries {
		sum.Series = append(sum.Series, computeStats(s, a.samples[s]))
	}
	return sum
}

var percentiles = []float64{0.9, 0.95, 0.99}

func computeStats(s Series, samples []time.Duration) Stats {
	st := Stats{Series: s, Count: len(samples)}
	if st.Count == 0 {
		return st
	}

	values := make([]int64, len(samples))
	for i, d := range samples {
		values[i] = int64(d)
	}
	st.Min = time.Duration(metrics.SampleMin(values))
	st.Max = time.Duration(metrics.SampleMax(values))
	st.Mean = time.Duration(metrics.SampleMean(values))

	// SamplePercentiles sorts its argument in place; values is a private copy.
	ps := metrics.SamplePercentiles(values, percentiles)
	st.P90 = time.Duration(ps[0])
	st.P95 = time.Duration(ps[1])
	st.P99 = time.Duration(ps[2])
	return st
}
