// Package emulator answers the X32 identification queries so discovery and
// OSC clients can be exercised without a console on the bench.
package emulator

import (
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/showcontroller/x32find/osc"
)

// Info is what the console reports in its /info reply.
type Info struct {
	ServerVersion string
	ServerName    string
	Model         string
	Firmware      string
}

// DefaultInfo matches a stock X32 on firmware 4.06.
var DefaultInfo = Info{
	ServerVersion: "V2.07",
	ServerName:    "osc-server",
	Model:         "X32",
	Firmware:      "4.06",
}

// Emulator replies to /info and /status. Other addresses are ignored, like
// a console would for unknown nodes.
type Emulator struct {
	Info Info

	// Delay holds every reply back, to mimic a slow console.
	Delay time.Duration

	Logger zerolog.Logger

	dispatcher *osc.StandardDispatcher
}

// New returns an Emulator reporting info.
func New(info Info, logger zerolog.Logger) *Emulator {
	e := &Emulator{Info: info, Logger: logger}
	e.dispatcher = osc.NewStandardDispatcher()
	// Addresses are constant and valid.
	_ = e.dispatcher.AddMsgHandler("/info", e.handleInfo)
	_ = e.dispatcher.AddMsgHandler("/status", e.handleStatus)
	return e
}

// ServeUDP answers queries arriving on c until c is closed.
func (e *Emulator) ServeUDP(c net.PacketConn) error {
	e.Logger.Info().Stringer("addr", c.LocalAddr()).Msg("serving OSC over UDP")
	s := &osc.Server{Dispatcher: e.dispatcher, Logger: e.Logger}
	return s.Serve(c)
}

// ServeTCP answers SLIP framed queries on connections accepted from ln
// until ln is closed.
func (e *Emulator) ServeTCP(ln net.Listener) error {
	e.Logger.Info().Stringer("addr", ln.Addr()).Msg("serving OSC over TCP")
	s := &osc.TCPServer{Dispatcher: e.dispatcher, Logger: e.Logger}
	return s.Serve(ln)
}

func (e *Emulator) handleInfo(w osc.ResponseWriter, msg *osc.Message) {
	e.reply(w, osc.NewMessage("/info",
		e.Info.ServerVersion,
		e.Info.ServerName,
		e.Info.Model,
		e.Info.Firmware,
	))
}

func (e *Emulator) handleStatus(w osc.ResponseWriter, msg *osc.Message) {
	e.reply(w, osc.NewMessage("/status", "active", localIP(w.RemoteAddr()), e.Info.ServerName))
}

func (e *Emulator) reply(w osc.ResponseWriter, msg *osc.Message) {
	if e.Delay > 0 {
		time.Sleep(e.Delay)
	}
	if err := w.Send(msg); err != nil {
		e.Logger.Warn().Err(err).Stringer("to", w.RemoteAddr()).Msg("reply failed")
		return
	}
	e.Logger.Debug().Stringer("to", w.RemoteAddr()).Stringer("msg", msg).Msg("replied")
}

// localIP picks the address of the interface that routes to peer. The
// console reports its own IP in /status.
func localIP(peer net.Addr) string {
	udp, ok := peer.(*net.UDPAddr)
	if !ok {
		if tcp, ok := peer.(*net.TCPAddr); ok {
			udp = &net.UDPAddr{IP: tcp.IP, Port: tcp.Port}
		}
	}
	if udp == nil {
		return "0.0.0.0"
	}

	// Connecting a UDP socket sends nothing; it only selects a route.
	conn, err := net.DialUDP("udp", nil, udp)
	if err != nil {
		return "0.0.0.0"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
