package comm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/pkg/errors"
)

// MessageType is the one-byte tag at the head of every frame.
type MessageType uint8

// Reserved message types. Values above TypeQuit are free for applications.
const (
	// TypeData carries an application payload to be processed.
	TypeData MessageType = iota
	// TypeReply carries a processed result.
	TypeReply
	// TypeFlush asks the sender to flush its buffered transport.
	TypeFlush
	// TypeEnd ends the handler of the connection it arrives on.
	TypeEnd
	// TypeQuit stops the listener from accepting connections.
	TypeQuit
)

// IsControl reports whether t is one of the protocol control types
// FLUSH, END or QUIT.
func (t MessageType) IsControl() bool {
	return t == TypeFlush || t == TypeEnd || t == TypeQuit
}

// String returns the type name, or USER(n) for application types.
func (t MessageType) String() string {
	switch t {
	case TypeData:
		return "DATA"
	case TypeReply:
		return "REPLY"
	case TypeFlush:
		return "FLUSH"
	case TypeEnd:
		return "END"
	case TypeQuit:
		return "QUIT"
	default:
		return fmt.Sprintf("USER(%d)", uint8(t))
	}
}

// Message is the unit of transport: a type tag and a body.
//
// A Message is not safe for concurrent use. Once it is posted to a queue
// it belongs to the receiving side; use Clone to keep a copy.
type Message struct {
	typ  MessageType
	body []byte
}

// NewMessage returns a DATA message with a zeroed body of size bytes.
func NewMessage(size int) *Message {
	return &Message{typ: TypeData, body: make([]byte, size)}
}

// Type returns the message type.
func (m *Message) Type() MessageType { return m.typ }

// SetType sets the message type.
func (m *Message) SetType(t MessageType) { m.typ = t }

// Body returns the message body. The slice aliases the message.
func (m *Message) Body() []byte { return m.body }

// SetBody replaces the body. The slice is retained, not copied.
func (m *Message) SetBody(b []byte) { m.body = b }

// Len returns the body length.
func (m *Message) Len() int { return len(m.body) }

// SetContent copies b into the existing body, zero padding the rest.
// Content longer than the body is truncated; the body length never changes.
func (m *Message) SetContent(b []byte) {
	n := copy(m.body, b)
	clear(m.body[n:])
}

// SetContentString is SetContent for strings.
func (m *Message) SetContentString(s string) {
	n := copy(m.body, s)
	clear(m.body[n:])
}

// Content returns the body up to the first zero byte.
func (m *Message) Content() []byte {
	if i := bytes.IndexByte(m.body, 0); i >= 0 {
		return m.body[:i]
	}
	return m.body
}

// ContentString returns Content as a string.
func (m *Message) ContentString() string {
	return string(m.Content())
}

// Reset zeroes the body and sets the type back to DATA.
func (m *Message) Reset() {
	m.typ = TypeData
	clear(m.body)
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	body := make([]byte, len(m.body))
	copy(body, m.body)
	return &Message{typ: m.typ, body: body}
}

// String renders the message for diagnostics, showing at most 16 body bytes.
func (m *Message) String() string {
	const show = 16
	if len(m.body) > show {
		return fmt.Sprintf("{type: %s, len: %d, body: % x ...}", m.typ, len(m.body), m.body[:show])
	}
	return fmt.Sprintf("{type: %s, len: %d, body: % x}", m.typ, len(m.body), m.body)
}

// Framing is the wire layout of a Message.
//
// ReadFrame reads exactly one frame into m, reusing m's body storage when
// it is large enough. It returns io.EOF when the stream ends cleanly at a
// frame boundary, and an error matching ErrShortRead when it ends, or
// fails, part way through a frame.
type Framing interface {
	WriteFrame(w io.Writer, m *Message) error
	ReadFrame(r io.Reader, m *Message) error
	// FrameSize returns the number of bytes m occupies on the wire.
	FrameSize(m *Message) int
	// NewMessage returns an empty DATA message this framing can send.
	NewMessage() *Message
}

const (
	// DefaultBodySize is the protocol body size of a zero FixedFrame.
	DefaultBodySize = 1024
	// defaultMaxBodySize is the body limit of a zero VariableFrame (1MB).
	defaultMaxBodySize = 1024 * 1024

	typeSize   = 1
	lengthSize = 4
)

// FixedFrame is the fixed-size layout: [type:u8][body:BodySize].
// Every frame of a session has the same length.
type FixedFrame struct {
	BodySize int
}

func (f FixedFrame) bodySize() int {
	if f.BodySize <= 0 {
		return DefaultBodySize
	}
	return f.BodySize
}

// FrameSize returns 1+BodySize for every message.
func (f FixedFrame) FrameSize(*Message) int {
	return typeSize + f.bodySize()
}

// NewMessage returns a DATA message with a zeroed body of BodySize bytes.
func (f FixedFrame) NewMessage() *Message {
	return NewMessage(f.bodySize())
}

// WriteFrame writes m, which must have a body of exactly BodySize bytes.
func (f FixedFrame) WriteFrame(w io.Writer, m *Message) error {
	if len(m.body) != f.bodySize() {
		return errors.Wrapf(ErrBodySize, "got %d bytes, want %d", len(m.body), f.bodySize())
	}
	hdr := [typeSize]byte{byte(m.typ)}
	return writeFrame(w, hdr[:], m.body)
}

// ReadFrame reads one frame of exactly 1+BodySize bytes into m.
func (f FixedFrame) ReadFrame(r io.Reader, m *Message) error {
	var hdr [typeSize]byte
	if err := readHeader(r, hdr[:]); err != nil {
		return err
	}
	m.typ = MessageType(hdr[0])
	m.body = resize(m.body, f.bodySize())
	return readBody(r, m.body)
}

// VariableFrame is the length-prefixed layout:
// [type:u8][length:u32 big endian][body:length].
type VariableFrame struct {
	MaxBodySize int
}

func (f VariableFrame) maxBodySize() int {
	if f.MaxBodySize <= 0 {
		return defaultMaxBodySize
	}
	return f.MaxBodySize
}

// FrameSize returns the header size plus the body length of m.
func (f VariableFrame) FrameSize(m *Message) int {
	return typeSize + lengthSize + len(m.body)
}

// NewMessage returns a DATA message with an empty body.
func (f VariableFrame) NewMessage() *Message {
	return NewMessage(0)
}

// WriteFrame writes m with its length prefix. Bodies over MaxBodySize are refused.
func (f VariableFrame) WriteFrame(w io.Writer, m *Message) error {
	if len(m.body) > f.maxBodySize() {
		return errors.Wrapf(ErrMessageTooLarge, "body of %d bytes, limit %d", len(m.body), f.maxBodySize())
	}
	var hdr [typeSize + lengthSize]byte
	hdr[0] = byte(m.typ)
	binary.BigEndian.PutUint32(hdr[typeSize:], uint32(len(m.body)))
	return writeFrame(w, hdr[:], m.body)
}

// ReadFrame reads one length-prefixed frame into m, refusing declared
// lengths over MaxBodySize before reading the body.
func (f VariableFrame) ReadFrame(r io.Reader, m *Message) error {
	var hdr [typeSize + lengthSize]byte
	if err := readHeader(r, hdr[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(hdr[typeSize:])
	if uint64(length) > uint64(f.maxBodySize()) {
		return errors.Wrapf(ErrMessageTooLarge, "declared %d bytes, limit %d", length, f.maxBodySize())
	}
	m.typ = MessageType(hdr[0])
	m.body = resize(m.body, int(length))
	return readBody(r, m.body)
}

// writeFrame writes header and body with a single vectored write where the
// transport supports it.
func writeFrame(w io.Writer, hdr, body []byte) error {
	bufs := net.Buffers{hdr, body}
	if _, err := bufs.WriteTo(w); err != nil {
		return newOpError("write", "", ErrWrite, err)
	}
	return nil
}

// readHeader reads the frame header. Zero bytes before EOF is a clean close.
func readHeader(r io.Reader, hdr []byte) error {
	n, err := io.ReadFull(r, hdr)
	switch {
	case err == nil:
		return nil
	case n == 0 && err == io.EOF:
		return io.EOF
	case err == io.ErrUnexpectedEOF:
		return newOpError("read", "", ErrShortRead, errors.Errorf("header: got %d of %d bytes", n, len(hdr)))
	default:
		return newOpError("read", "", ErrShortRead, err)
	}
}

// readBody reads the rest of a frame whose header has been consumed, so
// any EOF is a truncated frame.
func readBody(r io.Reader, body []byte) error {
	n, err := io.ReadFull(r, body)
	switch {
	case err == nil:
		return nil
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		return newOpError("read", "", ErrShortRead, errors.Errorf("body: got %d of %d bytes", n, len(body)))
	default:
		return newOpError("read", "", ErrShortRead, err)
	}
}

func resize(b []byte, n int) []byte {
	if cap(b) >= n {
		return b[:n]
	}
	return make([]byte, n)
}
