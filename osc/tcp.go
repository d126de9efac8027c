package osc

import (
	"errors"
	"net"
	"sync"

	"github.com/Lobaro/slip"
	"github.com/rs/zerolog"
)

// TCPServer serves OSC over TCP. Packets on the stream are SLIP framed as
// described by OSC 1.1.
type TCPServer struct {
	Addr       string
	Dispatcher Dispatcher
	Logger     zerolog.Logger
}

// ListenAndServe listens on ts.Addr and serves connections until the
// listener fails.
func (ts *TCPServer) ListenAndServe() error {
	ln, err := net.Listen("tcp", ts.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	return ts.Serve(ln)
}

// Serve accepts connections on ln and handles each in its own goroutine.
// It returns nil once ln is closed.
func (ts *TCPServer) Serve(ln net.Listener) error {
	d := ts.dispatcher()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go ts.handleClient(conn, d)
	}
}

// HandleClient reads packets from conn until it fails or is closed.
// Messages are dispatched in order; replies go back on the same stream.
func (ts *TCPServer) HandleClient(conn net.Conn) {
	ts.handleClient(conn, ts.dispatcher())
}

func (ts *TCPServer) dispatcher() Dispatcher {
	if ts.Dispatcher == nil {
		return NewStandardDispatcher()
	}
	return ts.Dispatcher
}

func (ts *TCPServer) handleClient(conn net.Conn, d Dispatcher) {
	log := ts.Logger.With().Stringer("peer", conn.RemoteAddr()).Logger()
	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Debug().Err(err).Msg("error closing connection")
		}
		log.Debug().Msg("connection closed")
	}()

	log.Debug().Msg("new connection")

	w := &streamResponder{w: slip.NewWriter(conn), addr: conn.RemoteAddr()}
	r := slip.NewReader(conn)
	for {
		packet, _, err := r.ReadPacket()
		if err != nil {
			log.Debug().Err(err).Msg("stop reading")
			return
		}
		if len(packet) == 0 {
			continue
		}

		msg, err := ParseMessage(packet)
		if err != nil {
			log.Debug().Err(err).Msg("dropping packet")
			continue
		}
		d.Dispatch(w, msg)
	}
}

// streamResponder writes SLIP framed replies. Handlers may reply from
// several goroutines, so writes are serialized.
type streamResponder struct {
	mu   sync.Mutex
	w    *slip.Writer
	addr net.Addr
}

func (r *streamResponder) Send(msg *Message) error {
	data, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w.WritePacket(data)
}

func (r *streamResponder) RemoteAddr() net.Addr { return r.addr }

////
// TCPClient
////

// TCPClient sends and receives SLIP framed OSC messages over one TCP
// connection.
type TCPClient struct {
	conn net.Conn
	r    *slip.Reader
	w    *slip.Writer
}

// DialTCP connects to an OSC TCP server at addr.
func DialTCP(addr string) (*TCPClient, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPClient{
		conn: conn,
		r:    slip.NewReader(conn),
		w:    slip.NewWriter(conn),
	}, nil
}

// Send writes msg as a single SLIP packet.
func (tc *TCPClient) Send(msg *Message) error {
	b, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	return tc.w.WritePacket(b)
}

// Receive blocks for the next packet and decodes it.
func (tc *TCPClient) Receive() (*Message, error) {
	for {
		packet, _, err := tc.r.ReadPacket()
		if err != nil {
			return nil, err
		}
		if len(packet) == 0 {
			continue
		}
		return ParseMessage(packet)
	}
}

// Conn returns the underlying connection, e.g. to set deadlines.
func (tc *TCPClient) Conn() net.Conn {
	return tc.conn
}

// Close closes the connection.
func (tc *TCPClient) Close() error {
	return tc.conn.Close()
}
