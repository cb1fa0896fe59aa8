package comm

import (
	"io"
)

// Sender writes one message to a transport.
type Sender interface {
	Send(w io.Writer, m *Message) error
}

// Receiver reads one message from a transport into m.
type Receiver interface {
	Receive(r io.Reader, m *Message) error
}

// Processor transforms a received message in place into its reply.
// Implementations must leave the FLUSH, END and QUIT tags unchanged.
type Processor interface {
	Process(m *Message)
}

// Codec is what a Connector needs from the application.
type Codec interface {
	Sender
	Receiver
}

// Handler is what a Listener needs from the application.
type Handler interface {
	Codec
	Processor
}

// flusher is implemented by buffered transports such as *bufio.Writer.
type flusher interface {
	Flush() error
}

// CommProcessing is the default Handler: frames messages with a Framing and
// answers every non-control message by retyping it to REPLY.
//
// Applications embed CommProcessing and override Process to supply their
// own logic while keeping its framing.
type CommProcessing struct {
	framing Framing
	logger  Logger
}

// NewCommProcessing returns a CommProcessing using framing. A nil logger
// discards log output.
func NewCommProcessing(framing Framing, logger Logger) *CommProcessing {
	if framing == nil {
		framing = FixedFrame{}
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &CommProcessing{framing: framing, logger: logger}
}

// Framing returns the wire layout in use.
func (p *CommProcessing) Framing() Framing {
	return p.framing
}

// NewMessage returns an empty DATA message sized for the framing.
func (p *CommProcessing) NewMessage() *Message {
	return p.framing.NewMessage()
}

// Send writes the frame for m. On a buffered transport it flushes after
// FLUSH, END and QUIT; DATA and REPLY frames stay buffered.
func (p *CommProcessing) Send(w io.Writer, m *Message) error {
	if err := p.framing.WriteFrame(w, m); err != nil {
		return err
	}

	if !m.Type().IsControl() {
		return nil
	}
	if f, ok := w.(flusher); ok {
		p.logger.Debug("flushing stream", "type", m.Type())
		if err := f.Flush(); err != nil {
			return newOpError("flush", "", ErrWrite, err)
		}
	}
	return nil
}

// Receive reads exactly one frame into m.
func (p *CommProcessing) Receive(r io.Reader, m *Message) error {
	return p.framing.ReadFrame(r, m)
}

// Process retypes every non-control message to REPLY.
func (p *CommProcessing) Process(m *Message) {
	if !m.Type().IsControl() {
		m.SetType(TypeReply)
	}
}

// ProcessorFunc adapts an ordinary function to a Processor.
type ProcessorFunc func(m *Message)

// Process calls f(m).
func (f ProcessorFunc) Process(m *Message) {
	f(m)
}

// WithProcessor combines a codec with separate processing logic.
func WithProcessor[C Codec](codec C, p Processor) Handler {
	return &processingHandler[C]{codec: codec, processor: p}
}

type processingHandler[C Codec] struct {
	codec     C
	processor Processor
}

func (h *processingHandler[C]) Send(w io.Writer, m *Message) error {
	return h.codec.Send(w, m)
}

func (h *processingHandler[C]) Receive(r io.Reader, m *Message) error {
	return h.codec.Receive(r, m)
}

// NewMessage builds a message through the codec when it knows its framing.
func (h *processingHandler[C]) NewMessage() *Message {
	if f, ok := any(h.codec).(messageFactory); ok {
		return f.NewMessage()
	}
	return nil
}

func (h *processingHandler[C]) Process(m *Message) {
	h.processor.Process(m)
}
