// x32emu answers X32 /info and /status queries, for trying findx32 and
// other OSC tools without a console.
package main

import (
	"errors"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/eiannone/keyboard"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/showcontroller/x32find/discovery"
	"github.com/showcontroller/x32find/emulator"
)

type options struct {
	addr    string
	tcpAddr string
	info    emulator.Info
	delay   time.Duration
	debug   bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{info: emulator.DefaultInfo}

	cmd := &cobra.Command{
		Use:          "x32emu",
		Short:        "Answer X32 identification queries",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.addr, "addr", net.JoinHostPort("", "10023"), "UDP address to listen on")
	f.StringVar(&opts.tcpAddr, "tcp", "", "also serve SLIP framed OSC over TCP on this address")
	f.StringVar(&opts.info.ServerName, "name", opts.info.ServerName, "server name reported in /info")
	f.StringVar(&opts.info.Model, "model", opts.info.Model, "console model reported in /info")
	f.StringVar(&opts.info.Firmware, "firmware", opts.info.Firmware, "console firmware reported in /info")
	f.DurationVar(&opts.delay, "delay", 0, "hold every reply back this long")
	f.BoolVar(&opts.debug, "debug", false, "log every packet")
	return cmd
}

func serve(opts options) error {
	level := zerolog.InfoLevel
	if opts.debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).With().Timestamp().Logger()

	emu := emulator.New(opts.info, log)
	emu.Delay = opts.delay

	pc, err := net.ListenPacket("udp4", opts.addr)
	if err != nil {
		return err
	}
	defer pc.Close()

	errc := make(chan error, 2)
	go func() { errc <- emu.ServeUDP(pc) }()

	if opts.tcpAddr != "" {
		ln, err := net.Listen("tcp", opts.tcpAddr)
		if err != nil {
			return err
		}
		defer ln.Close()
		go func() { errc <- emu.ServeTCP(ln) }()
	}

	if pc.LocalAddr().(*net.UDPAddr).Port != discovery.Port {
		log.Warn().Int("port", discovery.Port).Msg("not on the console port, findx32 won't reach this emulator")
	}

	done, release := quit(log)
	defer release()

	select {
	case err := <-errc:
		return err
	case <-done:
		log.Info().Msg("shutting down")
		return nil
	}
}

// quit returns a channel closed on SIGINT/SIGTERM, or when q, Esc or
// Ctrl-C is pressed while attached to a terminal. release restores the
// terminal.
func quit(log zerolog.Logger) (done <-chan struct{}, release func()) {
	ch := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(ch) }) }

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		stop()
	}()

	if err := keyboard.Open(); err != nil {
		log.Debug().Err(err).Msg("no terminal, stop with a signal")
		return ch, func() { signal.Stop(sigs) }
	}
	log.Info().Msg("press q or Esc to quit")
	go func() {
		for {
			char, key, err := keyboard.GetKey()
			if err != nil || char == 'q' || key == keyboard.KeyEsc || key == keyboard.KeyCtrlC {
				if err != nil && !errors.Is(err, os.ErrClosed) {
					log.Debug().Err(err).Msg("keyboard")
				}
				stop()
				return
			}
		}
	}()
	return ch, func() {
		signal.Stop(sigs)
		keyboard.Close()
	}
}
