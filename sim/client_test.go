package sim

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exchange writes each line to the device and returns the first token of
// every reply.
func exchange(t *testing.T, conn net.Conn, lines ...string) []string {
	t.Helper()
	r := bufio.NewReader(conn)
	var got []string
	for _, line := range lines {
		_, err := conn.Write([]byte(line + "\n"))
		require.NoError(t, err)
		reply, err := r.ReadString('\n')
		require.NoError(t, err)
		tok, _, _ := strings.Cut(strings.TrimSpace(reply), ",")
		got = append(got, tok)
	}
	return got
}

func TestClientServesOneSessionPerConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	client := NewClient(ClientConfig{Device: DeviceConfig{Version: "test"}})
	go func() {
		n, err := client.Run(context.Background(), ln.Addr().String())
		done <- result{n, err}
	}()

	conn, err := ln.Accept()
	require.NoError(t, err)
	assert.Equal(t,
		[]string{ReplyReady, ReplyConfigDone, ReplyStartDone},
		exchange(t, conn, "R1999J", "SPSTIMCONFIG,1,1,2,500,200,750", "SPSTIMSTART"))
	conn.Close()

	// A new connection starts from scratch: handshake again, nothing armed.
	conn, err = ln.Accept()
	require.NoError(t, err)
	assert.Equal(t,
		[]string{ReplyReady, ReplyStartError},
		exchange(t, conn, "R1999J", "SPSTIMSTART"))
	conn.Close()

	// Refusing the next dial ends the run.
	ln.Close()

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.GreaterOrEqual(t, res.n, 2)
	case <-time.After(10 * time.Second):
		t.Fatal("client did not stop after the listener closed")
	}
}

func TestClientStopsAfterConnections(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	client := NewClient(ClientConfig{Connections: 1, Latency: 5 * time.Millisecond})
	done := make(chan int, 1)
	go func() {
		n, _ := client.Run(context.Background(), ln.Addr().String())
		done <- n
	}()

	conn, err := ln.Accept()
	require.NoError(t, err)
	start := time.Now()
	assert.Equal(t, []string{ReplyReady}, exchange(t, conn, "R1999J"))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	conn.Close()

	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(10 * time.Second):
		t.Fatal("client kept dialing past its connection count")
	}
}

func TestClientHangsUpOnWrongSubject(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	client := NewClient(ClientConfig{Connections: 1})
	go client.Run(context.Background(), ln.Addr().String())

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, []string{ReplyError}, exchange(t, conn, "R1999T"))

	// The device closed its side after rejecting the subject.
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = bufio.NewReader(conn).ReadString('\n')
	assert.Error(t, err)
}

func TestClientFirstDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	n, err := NewClient(ClientConfig{}).Run(context.Background(), addr)
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestClientCanceled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := NewClient(ClientConfig{}).Run(ctx, ln.Addr().String())
		done <- err
	}()

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("client ignored cancellation")
	}
}
