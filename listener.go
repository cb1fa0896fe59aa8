package comm

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ListenerState is the lifecycle state of a Listener.
type ListenerState int32

const (
	// StateCreated is a listener that has not been started.
	StateCreated ListenerState = iota
	// StateRunning is a listener accepting connections.
	StateRunning
	// StateStopped is a listener that no longer accepts, and never will again.
	StateStopped
)

// String returns the lower-case state name.
func (s ListenerState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// quitDialTimeout bounds the loopback dial used by Stop.
const quitDialTimeout = 5 * time.Second

// job is one message handed from a connection handler to the pool.
// The worker signals done when the message has been processed.
type job struct {
	msg  *Message
	done chan struct{}
}

// messageFactory is implemented by handlers that can build a message sized
// for their framing, such as CommProcessing.
type messageFactory interface {
	NewMessage() *Message
}

// Listener accepts TCP connections and answers every message through a
// pool of workers running the handler's Process.
//
// Each connection has its own handler goroutine. It reads a message, waits
// for a worker to process it and writes the reply on the same connection,
// so replies on one connection keep the order of its requests. An END
// message ends its connection; a QUIT message stops the listener from
// accepting, while connections already open run to completion.
type Listener[H Handler] struct {
	handler H
	pool    *ThreadPool[*job]
	opts    options
	logger  Logger

	state   atomic.Int32
	running atomic.Bool // run flag of the accept loop
	group   errgroup.Group

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
}

// NewListener creates a listener whose pool has n workers.
func NewListener[H Handler](n int, handler H, opts ...Option) (*Listener[H], error) {
	l := &Listener[H]{
		handler: handler,
		opts:    newOptions(opts...),
		conns:   make(map[net.Conn]struct{}),
	}
	l.logger = l.opts.logger

	pool, err := NewThreadPool(n, l.work)
	if err != nil {
		return nil, err
	}
	l.pool = pool

	return l, nil
}

// work runs on a pool worker.
func (l *Listener[H]) work(j *job) {
	l.handler.Process(j.msg)
	j.done <- struct{}{}
}

// Start binds addr (host:port) and starts accepting connections. A bind
// failure returns an error matching ErrBind and leaves the listener in the
// created state. Starting a closed listener returns ErrListenerClosed.
// Call Wait to join the goroutines Start spawns.
func (l *Listener[H]) Start(addr string) error {
	if !l.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		if l.State() == StateStopped {
			return errors.WithStack(ErrListenerClosed)
		}
		return errors.WithStack(ErrListenerStarted)
	}

	ln, err := listenConfig(l.opts).Listen(context.Background(), "tcp", addr)
	if err != nil {
		l.state.CompareAndSwap(int32(StateRunning), int32(StateCreated))
		return newOpError("listen", addr, ErrBind, err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		_ = ln.Close()
		l.state.Store(int32(StateStopped))
		return errors.WithStack(ErrListenerClosed)
	}
	l.ln = ln
	l.mu.Unlock()

	l.running.Store(true)
	l.group.Go(func() error {
		return l.acceptLoop(ln)
	})

	return nil
}

// acceptLoop accepts connections until the run flag is cleared.
func (l *Listener[H]) acceptLoop(ln net.Listener) error {
	l.logger.Info("listener started", "addr", ln.Addr(), "workers", l.pool.Size())
	defer l.state.Store(int32(StateStopped))

	for l.running.Load() {
		conn, err := ln.Accept()
		if err != nil {
			if !l.running.Load() || errors.Is(err, net.ErrClosed) {
				break
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			l.logger.Error("accept error", "error", err)
			l.quit()
			return errors.Wrap(err, "accept")
		}

		if !l.running.Load() {
			_ = conn.Close()
			break
		}

		l.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		if !l.track(conn) {
			_ = conn.Close()
			continue
		}
		configureConn(conn, l.opts, l.logger)
		l.group.Go(func() error {
			l.serveConn(conn)
			return nil
		})
	}

	l.logger.Info("listener stopped", "addr", ln.Addr())
	return nil
}

// serveConn runs the receive, process, reply loop of one connection.
// Every error ends only this connection.
func (l *Listener[H]) serveConn(conn net.Conn) {
	defer l.untrack(conn)
	defer conn.Close()

	addr := conn.RemoteAddr().String()
	t := newTransport(conn, l.opts)
	l.logger.Info("connection established", "addr", addr)

	// replies still buffered go out before the connection closes
	defer func() {
		if err := t.flush(); err != nil {
			l.logger.Debug("final flush failed", "addr", addr, "error", err)
		}
	}()

	// msg and j are reused: the pool is done with msg before the next read
	msg := new(Message)
	j := &job{msg: msg, done: make(chan struct{}, 1)}

	for {
		if err := l.handler.Receive(t.reader(), msg); err != nil {
			l.logClosed(addr, err)
			return
		}

		switch msg.Type() {
		case TypeQuit:
			l.logger.Info("quit received", "addr", addr)
			l.quit()
			return
		case TypeEnd:
			l.logger.Info("end received, closing connection", "addr", addr)
			return
		}

		if err := l.process(j); err != nil {
			l.logger.Warn("dispatch failed", "addr", addr, "error", err)
			return
		}

		if err := l.handler.Send(t.writer(), msg); err != nil {
			l.logger.Warn("reply failed", "addr", addr, "error", err)
			return
		}

		// flush before blocking on the socket; a pipelined peer keeps
		// its replies batched
		if !t.readPending() {
			if err := t.flush(); err != nil {
				l.logger.Warn("flush failed", "addr", addr, "error", err)
				return
			}
		}
	}
}

// process hands j to the pool and waits for the worker to finish it.
// A control tag changed by the processor is restored.
func (l *Listener[H]) process(j *job) error {
	typ := j.msg.Type()
	if err := l.pool.Post(j); err != nil {
		return err
	}
	<-j.done

	if typ.IsControl() && j.msg.Type() != typ {
		l.logger.Warn("processor changed a control type, restoring it",
			"type", typ, "got", j.msg.Type())
		j.msg.SetType(typ)
	}
	return nil
}

func (l *Listener[H]) logClosed(addr string, err error) {
	switch {
	case err == io.EOF:
		l.logger.Info("connection closed", "addr", addr)
	case errors.Is(err, net.ErrClosed):
		l.logger.Debug("connection closed locally", "addr", addr)
	default:
		l.logger.Warn("connection closed with error", "addr", addr, "error", err)
	}
}

// quit clears the run flag and closes the accept socket.
func (l *Listener[H]) quit() {
	if !l.running.CompareAndSwap(true, false) {
		return
	}

	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
}

func (l *Listener[H]) track(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	l.conns[conn] = struct{}{}
	return true
}

func (l *Listener[H]) untrack(conn net.Conn) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.conns, conn)
}

// Stop asks the listener to stop accepting by delivering a QUIT message
// over a loopback connection. If the handler cannot build a message or
// the dial fails, the run flag is cleared directly. Call Wait afterwards.
func (l *Listener[H]) Stop() error {
	if l.State() == StateCreated {
		return errors.WithStack(ErrListenerNotStarted)
	}
	if !l.running.Load() {
		return nil
	}

	if err := l.sendQuit(); err != nil {
		l.logger.Debug("quit delivery failed, stopping locally", "error", err)
		l.quit()
	}
	return nil
}

func (l *Listener[H]) sendQuit() error {
	var msg *Message
	if factory, ok := any(l.handler).(messageFactory); ok {
		msg = factory.NewMessage()
	}
	if msg == nil {
		return errors.New("handler cannot build a quit message")
	}
	msg.SetType(TypeQuit)

	addr := l.Addr()
	if addr == nil {
		return errors.WithStack(ErrListenerNotStarted)
	}

	d := dialer(l.opts)
	d.Timeout = quitDialTimeout
	conn, err := d.Dial("tcp", addr.String())
	if err != nil {
		return newOpError("dial", addr.String(), ErrConnect, err)
	}
	defer conn.Close()

	return l.handler.Send(conn, msg)
}

// Wait joins the accept goroutine and every connection handler, then
// stops and joins the worker pool. It returns the accept error, if any.
func (l *Listener[H]) Wait() error {
	err := l.group.Wait()

	l.pool.Stop()
	l.pool.Wait()
	l.state.Store(int32(StateStopped))

	return err
}

// Close shuts the listener down immediately: the accept socket and every
// open connection are closed. A closed listener cannot be started. Call
// Wait afterwards.
func (l *Listener[H]) Close() error {
	l.running.Store(false)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	l.state.CompareAndSwap(int32(StateCreated), int32(StateStopped))
	for conn := range l.conns {
		_ = conn.Close()
	}

	if l.ln == nil {
		return nil
	}
	if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Addr returns the bound address, or nil before Start.
func (l *Listener[H]) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// State returns the lifecycle state.
func (l *Listener[H]) State() ListenerState {
	return ListenerState(l.state.Load())
}

// Connections returns the number of open connections.
func (l *Listener[H]) Connections() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.conns)
}
