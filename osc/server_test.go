package osc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenUDP(t *testing.T) net.PacketConn {
	t.Helper()
	c, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestServerReplies(t *testing.T) {
	d := NewStandardDispatcher()
	require.NoError(t, d.AddMsgHandler("/info", func(w ResponseWriter, msg *Message) {
		w.Send(NewMessage("/info", "V2.07"))
	}))

	srvConn := listenUDP(t)
	served := make(chan error, 1)
	go func() { served <- (&Server{Dispatcher: d}).Serve(srvConn) }()

	client := listenUDP(t)
	query, err := NewMessage("/info").MarshalBinary()
	require.NoError(t, err)

	// Garbage first: the server must skip it and keep going.
	_, err = client.WriteTo([]byte("garbage"), srvConn.LocalAddr())
	require.NoError(t, err)
	_, err = client.WriteTo(query, srvConn.LocalAddr())
	require.NoError(t, err)

	reader := &Server{ReadTimeout: 2 * time.Second}
	reply, from, err := reader.ReceivePacket(client)
	require.NoError(t, err)
	assert.Equal(t, srvConn.LocalAddr().String(), from.String())
	assert.True(t, NewMessage("/info", "V2.07").Equals(reply), "got %s", reply)

	srvConn.Close()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after close")
	}
}

func TestReadTimeout(t *testing.T) {
	c := listenUDP(t)
	s := &Server{ReadTimeout: 100 * time.Millisecond}

	start := time.Now()
	_, _, err := s.ReceivePacket(c)
	require.Error(t, err)

	ne, ok := err.(net.Error)
	require.True(t, ok, "expected net.Error, got %T", err)
	assert.True(t, ne.Timeout())
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestTCPServerAndClient(t *testing.T) {
	d := NewStandardDispatcher()
	require.NoError(t, d.AddMsgHandler("/info", func(w ResponseWriter, msg *Message) {
		w.Send(NewMessage("/info", "V2.07", "osc-server", "X32", "4.06"))
	}))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	served := make(chan error, 1)
	go func() { served <- (&TCPServer{Dispatcher: d}).Serve(ln) }()

	tc, err := DialTCP(ln.Addr().String())
	require.NoError(t, err)
	defer tc.Close()
	require.NoError(t, tc.Conn().SetDeadline(time.Now().Add(2*time.Second)))

	// Two queries back to back exercise the framing.
	require.NoError(t, tc.Send(NewMessage("/ignored")))
	require.NoError(t, tc.Send(NewMessage("/info")))

	reply, err := tc.Receive()
	require.NoError(t, err)
	assert.True(t, NewMessage("/info", "V2.07", "osc-server", "X32", "4.06").Equals(reply), "got %s", reply)

	ln.Close()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after close")
	}
}

func TestServeWithoutDispatcherOnSeveralConns(t *testing.T) {
	s := &Server{}
	conns := []net.PacketConn{listenUDP(t), listenUDP(t)}
	served := make(chan error, len(conns))
	for _, c := range conns {
		go func(c net.PacketConn) { served <- s.Serve(c) }(c)
	}

	client := listenUDP(t)
	query, err := NewMessage("/info").MarshalBinary()
	require.NoError(t, err)
	for _, c := range conns {
		_, err := client.WriteTo(query, c.LocalAddr())
		require.NoError(t, err)
	}

	for _, c := range conns {
		c.Close()
	}
	for range conns {
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return after close")
		}
	}
	assert.Nil(t, s.Dispatcher, "Serve must not modify the server")
}

func TestTCPServeWithoutDispatcherOnSeveralListeners(t *testing.T) {
	ts := &TCPServer{}
	var lns []net.Listener
	served := make(chan error, 2)
	for i := 0; i < 2; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		lns = append(lns, ln)
		go func() { served <- ts.Serve(ln) }()
	}

	for _, ln := range lns {
		tc, err := DialTCP(ln.Addr().String())
		require.NoError(t, err)
		require.NoError(t, tc.Send(NewMessage("/info")))
		tc.Close()
	}

	for _, ln := range lns {
		ln.Close()
	}
	for range lns {
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Serve did not return after close")
		}
	}
	assert.Nil(t, ts.Dispatcher, "Serve must not modify the server")
}

func TestTransientReadError(t *testing.T) {
	refused := &net.OpError{Op: "read", Net: "udp", Err: os.NewSyscallError("recvfrom", syscall.ECONNREFUSED)}
	assert.True(t, transientReadError(refused))
	assert.True(t, transientReadError(fmt.Errorf("wrapped: %w", syscall.ENOBUFS)))

	assert.False(t, transientReadError(net.ErrClosed))
	assert.False(t, transientReadError(errors.New("boom")))
	assert.False(t, transientReadError(os.ErrDeadlineExceeded))
}
