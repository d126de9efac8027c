package osc

import (
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// ResponseWriter sends replies back to the peer a message came from,
// over the transport that delivered it.
type ResponseWriter interface {
	Send(msg *Message) error
	RemoteAddr() net.Addr
}

// Dispatcher dispatches received OSC messages.
type Dispatcher interface {
	Dispatch(w ResponseWriter, msg *Message)
}

// Handler handles a single OSC message.
type Handler interface {
	HandleMessage(w ResponseWriter, msg *Message)
}

// HandlerFunc adapts an ordinary function to a Handler.
type HandlerFunc func(w ResponseWriter, msg *Message)

// HandleMessage calls f(w, msg).
func (f HandlerFunc) HandleMessage(w ResponseWriter, msg *Message) {
	f(w, msg)
}

////
// StandardDispatcher
////

// StandardDispatcher routes messages to handlers registered by address. A
// handler registered for "*" receives every message.
type StandardDispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewStandardDispatcher returns a StandardDispatcher without handlers.
func NewStandardDispatcher() *StandardDispatcher {
	return &StandardDispatcher{handlers: make(map[string]Handler)}
}

// AddMsgHandler adds a new message handler for the given OSC address.
func (d *StandardDispatcher) AddMsgHandler(address string, handler HandlerFunc) error {
	if err := validAddress(address); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.handlers[address]; ok {
		return ErrAddressExists
	}
	d.handlers[address] = handler
	return nil
}

// Dispatch implements the Dispatcher interface.
func (d *StandardDispatcher) Dispatch(w ResponseWriter, msg *Message) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for address, handler := range d.handlers {
		if address == "*" || msg.Match(address) {
			handler.HandleMessage(w, msg)
		}
	}
}

////
// Server
////

// Server receives OSC messages on a datagram socket and hands them to its
// Dispatcher. Replies go back to the sending address.
type Server struct {
	Addr        string
	Dispatcher  Dispatcher
	ReadTimeout time.Duration
	Logger      zerolog.Logger
}

// ListenAndServe listens on s.Addr and serves until the socket fails.
func (s *Server) ListenAndServe() error {
	ln, err := net.ListenPacket("udp", s.Addr)
	if err != nil {
		return err
	}
	defer ln.Close()

	return s.Serve(ln)
}

// Serve reads messages from c and dispatches each of them in its own
// goroutine. It returns nil once c is closed.
func (s *Server) Serve(c net.PacketConn) error {
	d := s.Dispatcher
	if d == nil {
		d = NewStandardDispatcher()
	}

	var tempDelay time.Duration
	for {
		msg, addr, err := s.ReceivePacket(c)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if errors.Is(err, ErrMalformedPacket) {
				s.Logger.Debug().Err(err).Stringer("from", addr).Msg("dropping packet")
				continue
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() && s.ReadTimeout != 0 {
				continue
			}
			if transientReadError(err) {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				s.Logger.Warn().Err(err).Dur("retry_in", tempDelay).Msg("read error")
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		s.Logger.Debug().Stringer("from", addr).Stringer("msg", msg).Msg("received")
		go d.Dispatch(&packetResponder{conn: c, addr: addr}, msg)
	}
}

// transientReadError reports whether a datagram read failed for a reason
// that goes away on its own, such as an ICMP port unreachable from an
// earlier reply.
func transientReadError(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.ENOMEM)
}

// ReceivePacket reads one datagram from c and decodes it.
func (s *Server) ReceivePacket(c net.PacketConn) (*Message, net.Addr, error) {
	if s.ReadTimeout != 0 {
		if err := c.SetReadDeadline(time.Now().Add(s.ReadTimeout)); err != nil {
			return nil, nil, err
		}
	}

	data := make([]byte, MaxPacketSize)
	n, addr, err := c.ReadFrom(data)
	if err != nil {
		return nil, addr, err
	}

	msg, err := ParseMessage(data[:n])
	return msg, addr, err
}

// packetResponder answers over the datagram socket a message arrived on.
type packetResponder struct {
	conn net.PacketConn
	addr net.Addr
}

func (r *packetResponder) Send(msg *Message) error {
	data, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = r.conn.WriteTo(data, r.addr)
	return err
}

func (r *packetResponder) RemoteAddr() net.Addr { return r.addr }
