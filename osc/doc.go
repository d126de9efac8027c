// Copyright 2013 - 2015 Sebastian Ruml <sebastian.ruml@gmail.com>

/*
Package osc implements the subset of OpenSoundControl spoken by X32-class
digital mixers.

The implementation is based on the Open Sound Control 1.0 Specification
(http://opensoundcontrol.org/spec-1_0), with the SLIP stream framing of
OSC 1.1 for TCP.

Features:
- OSC messages with 'i' (Int32), 'f' (Float32), 's' (string),
  'b' (blob / binary data), 'h' (Int64), 'd' (Double), 'T' (True),
  'F' (False) and 'N' (Nil) arguments.
- Address patterns with '*', '?' and '{,}' wildcards.
- A datagram server and a SLIP framed TCP server sharing one Dispatcher,
  whose handlers can reply to the sender.

Bundles and time tags are not supported; the X32 never sends them.

An OSC packet consists of its contents, a contiguous block of binary data,
and its size, the number of 8-bit bytes that comprise the contents. The
size of an OSC packet is always a multiple of 4.

An OSC message consists of an OSC address pattern, followed by an OSC Type
Tag String, and finally by zero or more OSC arguments. The argument-less
X32 info query therefore encodes to 12 bytes:

	/info\x00\x00\x00,\x00\x00\x00

Usage

Encoding a message:

	msg := osc.NewMessage("/ch/01/mix/fader")
	msg.Append(float32(0.75))
	data, err := msg.MarshalBinary()

Answering queries:

	d := osc.NewStandardDispatcher()
	d.AddMsgHandler("/info", func(w osc.ResponseWriter, msg *osc.Message) {
		w.Send(osc.NewMessage("/info", "V2.07", "osc-server", "X32", "4.06"))
	})

	server := &osc.Server{
		Addr:       ":10023",
		Dispatcher: d,
	}
	server.ListenAndServe()
*/
package osc
