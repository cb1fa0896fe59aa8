package comm

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Connector is the client side of one persistent connection.
//
// A sender goroutine drains the outbound queue onto the socket in post
// order and a receiver goroutine fills the inbound queue with replies.
// The sender stops after transmitting an END or QUIT message; the receiver
// stops when the peer closes the connection or a frame is truncated.
type Connector[C Codec] struct {
	codec  C
	conn   net.Conn
	t      *transport
	addr   string
	logger Logger

	outbound *BlockingQueue[*Message]
	inbound  *BlockingQueue[*Message]
	group    errgroup.Group

	postMu  sync.Mutex
	sending bool
	closed  atomic.Bool

	errMu   sync.Mutex
	termErr error
}

// NewConnector dials addr (host:port) and starts the sender and receiver.
// ctx bounds the dial only. A failed dial returns an error matching ErrConnect.
func NewConnector[C Codec](ctx context.Context, addr string, codec C, opts ...Option) (*Connector[C], error) {
	o := newOptions(opts...)

	conn, err := dialer(o).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, newOpError("dial", addr, ErrConnect, err)
	}
	configureConn(conn, o, o.logger)

	c := &Connector[C]{
		codec:    codec,
		conn:     conn,
		t:        newTransport(conn, o),
		addr:     conn.RemoteAddr().String(),
		logger:   o.logger,
		outbound: NewBlockingQueue[*Message](),
		inbound:  NewBlockingQueue[*Message](),
		sending:  true,
	}

	c.logger.Info("connection established", "addr", c.addr)
	c.logger.Debug("connection options", "addr", c.addr,
		"buffer_size", o.bufferSize,
		"socket_buffer_size", o.socketBufferSize,
		"no_delay", o.noDelay)

	c.group.Go(c.sendLoop)
	c.group.Go(c.recvLoop)

	return c, nil
}

// PostMessage queues m for transmission and takes ownership of it.
// Posting END or QUIT makes it the last message sent; later posts, and
// posts after the connection failed, return ErrConnectionClosed.
func (c *Connector[C]) PostMessage(m *Message) error {
	if m == nil {
		return errors.New("nil message")
	}

	c.postMu.Lock()
	defer c.postMu.Unlock()

	if !c.sending {
		return errors.WithStack(ErrConnectionClosed)
	}
	if t := m.Type(); t == TypeEnd || t == TypeQuit {
		c.sending = false
	}
	c.outbound.Enqueue(m)
	return nil
}

// GetMessage blocks until a reply is available. Once the receiver has
// stopped and every received reply has been taken, it returns the error
// that ended the connection: ErrConnectionClosed after a clean close, an
// error matching ErrShortRead when the last frame was truncated, or one
// matching ErrWrite when sending failed.
func (c *Connector[C]) GetMessage() (*Message, error) {
	m := c.inbound.Dequeue()
	if m != nil {
		return m, nil
	}

	// put the sentinel back for the next caller
	c.inbound.Enqueue(nil)
	return nil, c.receiveError()
}

// Wait joins the sender and receiver and closes the connection. It
// returns the first transport error, if any; a clean close is not an error.
func (c *Connector[C]) Wait() error {
	err := c.group.Wait()
	c.closed.Store(true)
	_ = c.conn.Close()
	return err
}

// Close shuts the connection down immediately, dropping unsent messages.
// Call Wait afterwards to join the goroutines.
func (c *Connector[C]) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.stopSending()
	return c.conn.Close()
}

// Addr returns the remote address.
func (c *Connector[C]) Addr() net.Addr {
	return c.conn.RemoteAddr()
}

// Pending returns the number of posted messages not yet sent.
func (c *Connector[C]) Pending() int {
	return c.outbound.Len()
}

// sendLoop writes outbound messages until END/QUIT is sent, the queue
// yields the nil stop sentinel, or a write fails.
func (c *Connector[C]) sendLoop() error {
	for {
		m := c.outbound.Dequeue()
		if m == nil {
			c.logger.Debug("sender stopped", "addr", c.addr)
			return nil
		}

		if err := c.codec.Send(c.t.writer(), m); err != nil {
			return c.sendFailed(err)
		}

		if t := m.Type(); t == TypeEnd || t == TypeQuit {
			if err := c.t.flush(); err != nil {
				return c.sendFailed(err)
			}
			c.logger.Debug("sender finished", "addr", c.addr, "last", t)
			return nil
		}

		// nothing left to batch with: push the frames out
		if c.outbound.Len() == 0 {
			if err := c.t.flush(); err != nil {
				return c.sendFailed(err)
			}
		}
	}
}

func (c *Connector[C]) sendFailed(err error) error {
	if c.closed.Load() {
		return nil
	}
	c.logger.Warn("send failed", "addr", c.addr, "error", err)
	c.fail(err)
	c.stopSending()
	// unblock the receiver
	_ = c.conn.Close()
	return err
}

// stopSending refuses further posts and wakes the sender. Once END or QUIT
// is queued the sender ends on its own, so the sentinel is queued only once.
func (c *Connector[C]) stopSending() {
	c.postMu.Lock()
	defer c.postMu.Unlock()

	if !c.sending {
		return
	}
	c.sending = false
	c.outbound.Enqueue(nil)
}

// recvLoop reads replies until the connection ends.
func (c *Connector[C]) recvLoop() error {
	for {
		m := new(Message)
		err := c.codec.Receive(c.t.reader(), m)
		if err == nil {
			c.inbound.Enqueue(m)
			continue
		}

		switch {
		case err == io.EOF:
			c.logger.Info("connection closed", "addr", c.addr)
			c.finish(errors.WithStack(ErrConnectionClosed))
			return nil
		case c.closed.Load() || errors.Is(err, net.ErrClosed):
			c.logger.Debug("connection closed locally", "addr", c.addr)
			c.finish(errors.WithStack(ErrConnectionClosed))
			return nil
		default:
			c.logger.Warn("connection closed with error", "addr", c.addr, "error", err)
			c.finish(err)
			return err
		}
	}
}

// fail records err as the terminal error unless one is already set.
func (c *Connector[C]) fail(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()

	if c.termErr == nil {
		c.termErr = err
	}
}

// finish records why the receiver stopped, wakes GetMessage callers and
// stops the sender once the messages already posted have been tried.
func (c *Connector[C]) finish(err error) {
	c.fail(err)
	c.inbound.Enqueue(nil)
	c.stopSending()
}

func (c *Connector[C]) receiveError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.termErr
}
