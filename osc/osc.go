package osc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"regexp"
	"strings"
)

// MaxPacketSize is the largest OSC packet read from a datagram socket.
const MaxPacketSize = 65507

var (
	// ErrInvalidAddress is returned for OSC addresses that don't start with
	// '/' or that contain reserved characters.
	ErrInvalidAddress = errors.New("osc: invalid address")

	// ErrAddressExists is returned when a handler is registered twice for
	// the same address.
	ErrAddressExists = errors.New("osc: address exists already")

	// ErrMalformedPacket is returned when incoming data can't be decoded
	// into an OSC message.
	ErrMalformedPacket = errors.New("osc: malformed packet")
)

// Message represents a single OSC message. An OSC message consists of an
// OSC address pattern and zero or more arguments.
type Message struct {
	Address   string
	Arguments []interface{}
}

////
// Message
////

// NewMessage returns a new Message. The address parameter is the OSC address.
func NewMessage(address string, args ...interface{}) *Message {
	return &Message{Address: address, Arguments: args}
}

// Append appends the given arguments to the arguments list. Arguments of an
// unsupported type are rejected and nothing is appended.
func (msg *Message) Append(args ...interface{}) error {
	for _, arg := range args {
		if _, err := typeTag(arg); err != nil {
			return err
		}
	}
	msg.Arguments = append(msg.Arguments, args...)
	return nil
}

// Equals reports whether msg and b carry the same address and arguments.
func (msg *Message) Equals(b *Message) bool {
	if msg.Address != b.Address || len(msg.Arguments) != len(b.Arguments) {
		return false
	}
	for i, arg := range msg.Arguments {
		if !reflect.DeepEqual(arg, b.Arguments[i]) {
			return false
		}
	}
	return true
}

// Match returns true, if the address pattern of the message matches the given
// address. Case sensitive!
func (msg *Message) Match(address string) bool {
	exp, err := getRegEx(msg.Address)
	if err != nil {
		return false
	}
	return exp.MatchString(address)
}

// TypeTags returns the type tag string.
func (msg *Message) TypeTags() (string, error) {
	tags := []byte{','}
	for _, arg := range msg.Arguments {
		t, err := typeTag(arg)
		if err != nil {
			return "", err
		}
		tags = append(tags, t)
	}
	return string(tags), nil
}

// String implements fmt.Stringer. The format mirrors the X32 tools:
// address, type tags, then each argument.
func (msg *Message) String() string {
	tags, err := msg.TypeTags()
	if err != nil {
		return msg.Address
	}

	var sb strings.Builder
	sb.WriteString(msg.Address)
	sb.WriteByte(' ')
	sb.WriteString(tags)
	for _, arg := range msg.Arguments {
		switch t := arg.(type) {
		case nil:
			sb.WriteString(" Nil")
		case []byte:
			fmt.Fprintf(&sb, " blob(%d)", len(t))
		default:
			fmt.Fprintf(&sb, " %v", t)
		}
	}
	return sb.String()
}

// MarshalBinary serializes the OSC message. The result has the following
// format:
// 1. OSC Address Pattern
// 2. OSC Type Tag String
// 3. OSC Arguments
func (msg *Message) MarshalBinary() ([]byte, error) {
	if !strings.HasPrefix(msg.Address, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, msg.Address)
	}

	tags, err := msg.TypeTags()
	if err != nil {
		return nil, err
	}

	data := new(bytes.Buffer)
	writePaddedString(msg.Address, data)
	writePaddedString(tags, data)

	for _, arg := range msg.Arguments {
		switch t := arg.(type) {
		case int32:
			binary.Write(data, binary.BigEndian, t)
		case int64:
			binary.Write(data, binary.BigEndian, t)
		case float32:
			binary.Write(data, binary.BigEndian, math.Float32bits(t))
		case float64:
			binary.Write(data, binary.BigEndian, math.Float64bits(t))
		case string:
			writePaddedString(t, data)
		case []byte:
			writeBlob(t, data)
		}
	}

	if data.Len() > MaxPacketSize {
		return nil, fmt.Errorf("osc: packet too large: %d bytes", data.Len())
	}
	return data.Bytes(), nil
}

// ParseMessage decodes a single OSC message. A message that ends right
// after its address (no type tag string) is accepted as a message without
// arguments; X32 consoles accept such bare queries too.
func ParseMessage(data []byte) (*Message, error) {
	if len(data) == 0 || data[0] != '/' {
		return nil, fmt.Errorf("%w: not an OSC message", ErrMalformedPacket)
	}

	reader := bytes.NewReader(data)
	address, err := readPaddedString(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: address: %v", ErrMalformedPacket, err)
	}

	msg := NewMessage(address)
	if reader.Len() == 0 {
		return msg, nil
	}
	if err := readArguments(msg, reader); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPacket, address, err)
	}
	return msg, nil
}

// readArguments reads all arguments from the reader and adds them to msg.
func readArguments(msg *Message, reader *bytes.Reader) error {
	typetags, err := readPaddedString(reader)
	if err != nil {
		return err
	}

	// If the typetag doesn't start with ',', it's not valid
	if len(typetags) == 0 || typetags[0] != ',' {
		return fmt.Errorf("unsupported type tag string %q", typetags)
	}

	for _, c := range typetags[1:] {
		switch c {
		default:
			return fmt.Errorf("unsupported type tag: %c", c)

		case 'i':
			var i int32
			if err := binary.Read(reader, binary.BigEndian, &i); err != nil {
				return err
			}
			msg.Arguments = append(msg.Arguments, i)

		case 'h':
			var i int64
			if err := binary.Read(reader, binary.BigEndian, &i); err != nil {
				return err
			}
			msg.Arguments = append(msg.Arguments, i)

		case 'f':
			var bits uint32
			if err := binary.Read(reader, binary.BigEndian, &bits); err != nil {
				return err
			}
			msg.Arguments = append(msg.Arguments, math.Float32frombits(bits))

		case 'd':
			var bits uint64
			if err := binary.Read(reader, binary.BigEndian, &bits); err != nil {
				return err
			}
			msg.Arguments = append(msg.Arguments, math.Float64frombits(bits))

		case 's':
			s, err := readPaddedString(reader)
			if err != nil {
				return err
			}
			msg.Arguments = append(msg.Arguments, s)

		case 'b':
			blob, err := readBlob(reader)
			if err != nil {
				return err
			}
			msg.Arguments = append(msg.Arguments, blob)

		case 'T':
			msg.Arguments = append(msg.Arguments, true)

		case 'F':
			msg.Arguments = append(msg.Arguments, false)

		case 'N':
			msg.Arguments = append(msg.Arguments, nil)
		}
	}

	return nil
}

////
// De/Encoding functions
////

// readBlob reads an OSC blob. Padding bytes are consumed and not returned.
func readBlob(reader *bytes.Reader) ([]byte, error) {
	var blobLen int32
	if err := binary.Read(reader, binary.BigEndian, &blobLen); err != nil {
		return nil, err
	}
	if blobLen < 0 || int(blobLen) > reader.Len() {
		return nil, fmt.Errorf("invalid blob length %d", blobLen)
	}

	blob := make([]byte, blobLen)
	if _, err := io.ReadFull(reader, blob); err != nil {
		return nil, err
	}

	if _, err := reader.Seek(int64(blobPadding(len(blob))), io.SeekCurrent); err != nil {
		return nil, err
	}
	return blob, nil
}

// writeBlob writes data as an OSC blob into buff. If the length of data
// isn't 32-bit aligned, padding bytes are added.
func writeBlob(data []byte, buff *bytes.Buffer) int {
	binary.Write(buff, binary.BigEndian, int32(len(data)))
	buff.Write(data)
	pad := blobPadding(len(data))
	buff.Write(make([]byte, pad))
	return 4 + len(data) + pad
}

// readPaddedString reads a null terminated string and consumes its padding.
func readPaddedString(reader *bytes.Reader) (string, error) {
	var sb strings.Builder
	for {
		c, err := reader.ReadByte()
		if err != nil {
			return "", fmt.Errorf("unterminated string: %w", err)
		}
		if c == 0 {
			break
		}
		sb.WriteByte(c)
	}

	str := sb.String()
	// The terminator is already consumed.
	if pad := padBytesNeeded(len(str)) - 1; pad > 0 {
		if reader.Len() < pad {
			return "", fmt.Errorf("short padding after %q", str)
		}
		if _, err := reader.Seek(int64(pad), io.SeekCurrent); err != nil {
			return "", err
		}
	}
	return str, nil
}

// writePaddedString writes a string with its null terminator and padding
// bytes to the buffer. Returns the number of written bytes.
func writePaddedString(str string, buff *bytes.Buffer) int {
	n, _ := buff.WriteString(str)
	pad := padBytesNeeded(len(str))
	buff.Write(make([]byte, pad))
	return n + pad
}

// padBytesNeeded determines how many bytes follow a string of the given
// length, null terminator included, to reach the next 4 byte boundary.
func padBytesNeeded(elementLen int) int {
	return 4*(elementLen/4+1) - elementLen
}

// blobPadding returns the padding after blob data. Blobs carry no
// terminator, so aligned data gets none.
func blobPadding(n int) int {
	return (4 - n%4) % 4
}

////
// Utility and helper functions
////

// validAddress reports whether address may be used to register a handler.
func validAddress(address string) error {
	if !strings.HasPrefix(address, "/") && address != "*" {
		return fmt.Errorf("%w: %q must start with '/'", ErrInvalidAddress, address)
	}
	if address != "*" && strings.ContainsAny(address, "*?,[]{}# ") {
		return fmt.Errorf("%w: %q may not contain any of \"*?,[]{}# \"", ErrInvalidAddress, address)
	}
	return nil
}

// getRegEx compiles a regular expression for the given OSC address pattern.
// Everything except the OSC wildcards is matched literally. '*' and '?'
// never cross a '/', "[!...]" negates a character class and "{a,b}" is an
// alternation.
func getRegEx(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteByte('^')

	inClass, inAlt := false, false
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case inClass:
			switch c {
			case ']':
				inClass = false
				sb.WriteByte(']')
			case '-':
				sb.WriteByte('-')
			case '\\', '[', '^':
				sb.WriteByte('\\')
				sb.WriteByte(c)
			default:
				sb.WriteString(regexp.QuoteMeta(string(c)))
			}

		case c == '[':
			inClass = true
			sb.WriteByte('[')
			if i+1 < len(pattern) && pattern[i+1] == '!' {
				sb.WriteString("^/")
				i++
			}

		case c == '*':
			sb.WriteString("[^/]*")

		case c == '?':
			sb.WriteString("[^/]")

		case c == '{' && !inAlt:
			inAlt = true
			sb.WriteString("(?:")

		case c == '}' && inAlt:
			inAlt = false
			sb.WriteByte(')')

		case c == ',' && inAlt:
			sb.WriteByte('|')

		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	if inClass || inAlt {
		return nil, fmt.Errorf("%w: unterminated pattern %q", ErrInvalidAddress, pattern)
	}

	sb.WriteByte('$')
	return regexp.Compile(sb.String())
}

// typeTag returns the OSC type tag for the given argument.
func typeTag(arg interface{}) (byte, error) {
	switch t := arg.(type) {
	case bool:
		if t {
			return 'T', nil
		}
		return 'F', nil
	case nil:
		return 'N', nil
	case int32:
		return 'i', nil
	case float32:
		return 'f', nil
	case string:
		return 's', nil
	case []byte:
		return 'b', nil
	case int64:
		return 'h', nil
	case float64:
		return 'd', nil
	default:
		return 0, fmt.Errorf("osc: unsupported type: %T", t)
	}
}
