package comm

import (
	"bufio"
	"io"
	"net"
)

func listenConfig(opts options) *net.ListenConfig {
	return &net.ListenConfig{
		Control:   controlFunc(opts),
		KeepAlive: opts.keepAlive,
	}
}

func dialer(opts options) *net.Dialer {
	return &net.Dialer{
		Control:   controlFunc(opts),
		KeepAlive: opts.keepAlive,
	}
}

// configureConn applies the per-connection TCP options.
func configureConn(conn net.Conn, opts options, logger Logger) {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}

	if err := tcp.SetNoDelay(opts.noDelay); err != nil {
		logger.Debug("set nodelay failed", "addr", conn.RemoteAddr(), "error", err)
	}

	if !sockoptControl && opts.socketBufferSize > 0 {
		_ = tcp.SetReadBuffer(opts.socketBufferSize)
		_ = tcp.SetWriteBuffer(opts.socketBufferSize)
	}
}

// transport is the reader/writer view of one connection, buffered when
// the bufferSize option is non-zero.
type transport struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
}

func newTransport(conn net.Conn, opts options) *transport {
	t := &transport{conn: conn}
	if opts.bufferSize > 0 {
		t.br = bufio.NewReaderSize(conn, opts.bufferSize)
		t.bw = bufio.NewWriterSize(conn, opts.bufferSize)
	}
	return t
}

func (t *transport) reader() io.Reader {
	if t.br != nil {
		return t.br
	}
	return t.conn
}

func (t *transport) writer() io.Writer {
	if t.bw != nil {
		return t.bw
	}
	return t.conn
}

// readPending reports whether a complete read may be served without
// touching the socket.
func (t *transport) readPending() bool {
	return t.br != nil && t.br.Buffered() > 0
}

// flush pushes buffered frames to the socket.
func (t *transport) flush() error {
	if t.bw == nil || t.bw.Buffered() == 0 {
		return nil
	}
	if err := t.bw.Flush(); err != nil {
		return newOpError("flush", t.conn.RemoteAddr().String(), ErrWrite, err)
	}
	return nil
}
