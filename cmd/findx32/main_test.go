package main

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/showcontroller/x32find/discovery"
	"github.com/showcontroller/x32find/emulator"
)

func target(t *testing.T, answer bool) *net.UDPAddr {
	t.Helper()
	c, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	if answer {
		go emulator.New(emulator.DefaultInfo, zerolog.Nop()).ServeUDP(c)
	}
	return c.LocalAddr().(*net.UDPAddr)
}

func runWith(d *discovery.Discoverer, args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	code = run(d, &out, &errOut, args)
	return code, out.String(), errOut.String()
}

func TestRunFound(t *testing.T) {
	d := discovery.New()
	d.Target = target(t, true)

	code, stdout, stderr := runWith(d)
	assert.Equal(t, 0, code)
	assert.Equal(t, "127.0.0.1\n", stdout)
	assert.Empty(t, stderr)
}

func TestRunNotFoundIsSilent(t *testing.T) {
	d := discovery.New()
	d.Target = target(t, false)
	d.Timeout = 100 * time.Millisecond

	code, stdout, stderr := runWith(d)
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.Empty(t, stderr)
}

func TestRunSocketError(t *testing.T) {
	d := discovery.New()
	d.Target = target(t, true)
	d.LocalAddr = "127.0.0.1:99999"

	code, stdout, stderr := runWith(d)
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.Contains(t, stderr, "x32 discovery: listen:")
	assert.Equal(t, 1, bytes.Count([]byte(stderr), []byte("\n")), "one line: %q", stderr)
}

func TestRunRejectsArguments(t *testing.T) {
	d := discovery.New()
	d.Target = target(t, true)

	code, stdout, stderr := runWith(d, "192.168.0.10")
	assert.Equal(t, 1, code)
	assert.Empty(t, stdout)
	assert.NotEmpty(t, stderr)
}
