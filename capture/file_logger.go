package capture

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/yuuki/netstimtest/harness"
)

// FileLogger appends one CBOR record per harness event to a file. It is safe
// for concurrent use.
type FileLogger struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
}

// NewFileLogger opens path for appending, creating it with 0644 permissions
// if needed.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{
		file:    f,
		encoder: NewEncoder(f),
	}, nil
}

// Emit captures ev. Encoding errors are dropped so capture never disturbs a
// run; events after Close are ignored.
func (l *FileLogger) Emit(ev harness.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	_ = l.encoder.Encode(FromEvent(ev))
}

// Close closes the capture file. It is safe to call more than once.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

var _ harness.Sink = (*FileLogger)(nil)
