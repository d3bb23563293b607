// Package capture records the protocol traffic of a harness run as a stream
// of CBOR records, one per harness event, for later inspection.
package capture

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/yuuki/netstimtest/harness"
)

// Record is one captured harness event. CBOR encoding uses integer keys.
type Record struct {
	Timestamp    time.Time `cbor:"1,keyasint"`
	RunID        string    `cbor:"2,keyasint"`
	Kind         string    `cbor:"3,keyasint"`
	ConnectionID string    `cbor:"4,keyasint,omitempty"`
	RemoteAddr   string    `cbor:"5,keyasint,omitempty"`
	TestIndex    int       `cbor:"6,keyasint,omitempty"`
	TestName     string    `cbor:"7,keyasint,omitempty"`

	Exchange *Exchange      `cbor:"8,keyasint,omitempty"`
	Outcome  *OutcomeRecord `cbor:"9,keyasint,omitempty"`
	Tally    *harness.Tally `cbor:"10,keyasint,omitempty"`
	Error    string         `cbor:"11,keyasint,omitempty"`
}

// Exchange is one command written to the device and the reply read back.
type Exchange struct {
	Index     int           `cbor:"1,keyasint"`
	Sent      string        `cbor:"2,keyasint"`
	Received  string        `cbor:"3,keyasint,omitempty"`
	Elapsed   time.Duration `cbor:"4,keyasint"`
	Threshold time.Duration `cbor:"5,keyasint"`
	Expect    string        `cbor:"6,keyasint"`
	Passed    bool          `cbor:"7,keyasint"`
}

// OutcomeRecord is the verdict of one test case.
type OutcomeRecord struct {
	Passed   bool `cbor:"1,keyasint"`
	Executed int  `cbor:"2,keyasint"`
	Failed   int  `cbor:"3,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR decoder mode: %v", err))
	}
}

// NewEncoder returns a record encoder writing to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a record decoder reading from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// FromEvent converts a harness event into a capture record.
func FromEvent(ev harness.Event) Record {
	rec := Record{
		Timestamp:    ev.Time,
		RunID:        ev.RunID,
		Kind:         ev.Kind.String(),
		ConnectionID: ev.ConnID,
		RemoteAddr:   ev.RemoteAddr,
		TestIndex:    ev.TestIndex,
		TestName:     ev.TestName,
	}
	if ev.Err != nil {
		rec.Error = ev.Err.Error()
	}

	switch ev.Kind {
	case harness.EventCommand:
		if res := ev.Result; res != nil {
			rec.Exchange = &Exchange{
				Index:     ev.CommandIndex,
				Sent:      res.Command.Text(),
				Received:  res.Received,
				Elapsed:   res.Elapsed,
				Threshold: res.Command.Threshold(),
				Expect:    res.Command.Expect(),
				Passed:    res.Passed(),
			}
			if res.Err != nil {
				rec.Error = res.Err.Error()
			}
		}
	case harness.EventTestEnd:
		if out := ev.Outcome; out != nil {
			rec.Outcome = &OutcomeRecord{
				Passed:   out.Passed,
				Executed: out.Executed,
				Failed:   out.Failed,
			}
			if out.Err != nil {
				rec.Error = out.Err.Error()
			}
		}
	case harness.EventRunEnd:
		if ev.Summary != nil {
			tally := ev.Summary.Tally
			rec.Tally = &tally
		}
	}
	return rec
}
