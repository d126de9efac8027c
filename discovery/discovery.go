// Package discovery locates an X32-class mixer on the local network.
//
// A single OSC /info query is broadcast to the console port and the source
// address of the first datagram that comes back is taken as the mixer's
// address. The reply itself is never decoded.
package discovery

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	// BroadcastAddr is the limited broadcast address the probe is sent to.
	BroadcastAddr = "255.255.255.255"

	// Port is the UDP port X32 consoles listen on for OSC.
	Port = 10023

	// Timeout bounds the wait for a reply.
	Timeout = 2 * time.Second

	replyBufSize = 1024
)

// probe is the OSC message "/info" without arguments: the address padded
// to 8 bytes followed by the empty type tag string padded to 4.
var probe = [...]byte{
	0x2f, 0x69, 0x6e, 0x66, 0x6f, 0x00, 0x00, 0x00, // "/info"
	0x2c, 0x00, 0x00, 0x00, // ","
}

// Probe returns a copy of the datagram sent to find a console.
func Probe() []byte {
	p := probe
	return p[:]
}

// Discoverer sends one probe and waits for one reply. The zero value is
// not usable; use New.
type Discoverer struct {
	// Target is where the probe goes.
	Target *net.UDPAddr

	// LocalAddr is the address the socket binds to.
	LocalAddr string

	// Timeout bounds the wait for a reply, measured from the send.
	Timeout time.Duration

	// Logger traces each step at debug level. Errors are returned, not
	// logged.
	Logger zerolog.Logger
}

// New returns a Discoverer that broadcasts to BroadcastAddr:Port and waits
// for Timeout.
func New() *Discoverer {
	return &Discoverer{
		Target:    &net.UDPAddr{IP: net.IPv4bcast, Port: Port},
		LocalAddr: ":0",
		Timeout:   Timeout,
		Logger:    zerolog.Nop(),
	}
}

// Discover runs a Discoverer with the default settings.
func Discover() (net.IP, error) {
	return New().Discover()
}

// Discover broadcasts the probe and returns the IP of the first device that
// answers. It returns ErrNotFound when nothing arrives before the timeout
// and a *SocketError for anything else. Later replies are ignored.
func (d *Discoverer) Discover() (net.IP, error) {
	lc := net.ListenConfig{Control: enableBroadcast}
	conn, err := lc.ListenPacket(context.Background(), "udp4", d.LocalAddr)
	if err != nil {
		return nil, &SocketError{Op: "listen", Err: err}
	}
	defer conn.Close()

	log := d.Logger.With().Stringer("local", conn.LocalAddr()).Logger()

	if _, err := conn.WriteTo(probe[:], d.Target); err != nil {
		return nil, &SocketError{Op: "send", Err: err}
	}
	log.Debug().Stringer("target", d.Target).Msg("probe sent")

	if err := conn.SetReadDeadline(time.Now().Add(d.Timeout)); err != nil {
		return nil, &SocketError{Op: "deadline", Err: err}
	}

	buf := make([]byte, replyBufSize)
	n, addr, err := conn.ReadFrom(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			log.Debug().Dur("timeout", d.Timeout).Msg("no reply")
			return nil, ErrNotFound
		}
		return nil, &SocketError{Op: "receive", Err: err}
	}

	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return nil, &SocketError{Op: "receive", Err: errors.New("unexpected address type " + addr.Network())}
	}
	log.Debug().Stringer("from", udpAddr).Int("bytes", n).Msg("reply")

	if ip4 := udpAddr.IP.To4(); ip4 != nil {
		return ip4, nil
	}
	return udpAddr.IP, nil
}
