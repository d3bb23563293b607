package harness

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"time"
)

// step scripts one reply of a fake device.
type step struct {
	reply string
	delay time.Duration
	// hangup closes the connection instead of replying.
	hangup bool
}

// fakeDevice answers lines read from conn with the scripted steps and records
// what it received.
type fakeDevice struct {
	mu    sync.Mutex
	lines []string
	done  chan struct{}
}

func startFakeDevice(conn net.Conn, steps []step) *fakeDevice {
	d := &fakeDevice{done: make(chan struct{})}
	go func() {
		defer close(d.done)
		defer conn.Close()
		r := bufio.NewReader(conn)
		for _, s := range steps {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			d.mu.Lock()
			d.lines = append(d.lines, line)
			d.mu.Unlock()

			if s.delay > 0 {
				time.Sleep(s.delay)
			}
			if s.hangup {
				return
			}
			if _, err := conn.Write([]byte(s.reply + "\r\n")); err != nil {
				return
			}
		}
		// Drain until the harness hangs up.
		for {
			if _, err := r.ReadString('\n'); err != nil {
				return
			}
		}
	}()
	return d
}

func (d *fakeDevice) received() []string {
	<-d.done
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.lines...)
}

// replyFor answers like a configured device that accepts everything.
func replyFor(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case line == "R1999J":
		return "SPREADY,StimProc,test"
	case strings.HasPrefix(line, "SPSTIMCONFIG"), strings.HasPrefix(line, "SPSTIMTHETACONFIG"):
		return "SPSTIMCONFIGDONE"
	case line == "SPSTIMSTART":
		return "SPSTIMSTARTDONE"
	default:
		return "SPERROR,StimProc command not recognized"
	}
}

// serveDevice dials addr once per expected test case and answers with
// replyFor until the harness closes the connection.
func serveDevice(addr string, sessions int) <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		for i := 0; i < sessions; i++ {
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				errc <- err
				return
			}
			r := bufio.NewReader(conn)
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					break
				}
				if _, err := conn.Write([]byte(replyFor(line) + "\r\n")); err != nil {
					break
				}
			}
			conn.Close()
		}
	}()
	return errc
}
