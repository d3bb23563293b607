package harness

import "time"

// EventKind identifies what happened during a run.
type EventKind uint8

const (
	EventRunStart EventKind = iota
	EventTestStart
	EventCommand
	EventTransportError
	EventTestEnd
	EventRunEnd
)

func (k EventKind) String() string {
	switch k {
	case EventRunStart:
		return "run_start"
	case EventTestStart:
		return "test_start"
	case EventCommand:
		return "command"
	case EventTransportError:
		return "transport_error"
	case EventTestEnd:
		return "test_end"
	case EventRunEnd:
		return "run_end"
	default:
		return "unknown"
	}
}

// Event is emitted to a Sink as the run progresses. Only the fields relevant
// to Kind are set.
type Event struct {
	Kind       EventKind
	Time       time.Time
	RunID      string
	ConnID     string
	RemoteAddr string

	TestIndex    int
	TestName     string
	TestSize     int
	CommandIndex int

	Result  *CommandResult
	Outcome *TestOutcome
	Summary *Summary
	Tests   int
	Err     error
}

// Sink receives run events. Rendering transcripts, capturing protocol traffic
// and persisting results all happen in sinks, never in the runner itself.
type Sink interface {
	Emit(ev Event)
}

// NoopSink discards all events.
type NoopSink struct{}

func (NoopSink) Emit(Event) {}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// MultiSink fans events out to several sinks in order.
type MultiSink []Sink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		s.Emit(ev)
	}
}

var (
	_ Sink = NoopSink{}
	_ Sink = SinkFunc(nil)
	_ Sink = MultiSink(nil)
)
