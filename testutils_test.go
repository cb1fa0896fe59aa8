package comm

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testBodySize = 64
	testTimeout  = 5 * time.Second
)

func newTestProcessing() *CommProcessing {
	return NewCommProcessing(FixedFrame{BodySize: testBodySize}, NopLogger())
}

// startTestListener starts a listener on a free loopback port. It is
// force-closed and joined when the test ends.
func startTestListener[H Handler](t *testing.T, workers int, handler H, opts ...Option) *Listener[H] {
	t.Helper()

	opts = append([]Option{LoggerOption(NopLogger())}, opts...)
	l, err := NewListener(workers, handler, opts...)
	require.NoError(t, err)
	require.NoError(t, l.Start("127.0.0.1:0"))
	require.Equal(t, StateRunning, l.State())

	t.Cleanup(func() {
		_ = l.Close()
		_ = l.Wait()
	})
	return l
}

func dialTestConnector[C Codec](t *testing.T, addr string, codec C, opts ...Option) *Connector[C] {
	t.Helper()

	opts = append([]Option{LoggerOption(NopLogger())}, opts...)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	c, err := NewConnector(ctx, addr, codec, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = c.Close()
		_ = c.Wait()
	})
	return c
}

// getMessage is GetMessage with a test timeout.
func getMessage[C Codec](t *testing.T, c *Connector[C]) (*Message, error) {
	t.Helper()

	type result struct {
		m   *Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := c.GetMessage()
		ch <- result{m, err}
	}()

	select {
	case r := <-ch:
		return r.m, r.err
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for a reply")
		return nil, nil
	}
}

// waitConnector is Wait with a test timeout.
func waitConnector[C Codec](t *testing.T, c *Connector[C]) error {
	t.Helper()

	ch := make(chan error, 1)
	go func() { ch <- c.Wait() }()

	select {
	case err := <-ch:
		return err
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for the connector to finish")
		return nil
	}
}

// waitListener is Wait with a test timeout.
func waitListener[H Handler](t *testing.T, l *Listener[H]) error {
	t.Helper()

	ch := make(chan error, 1)
	go func() { ch <- l.Wait() }()

	select {
	case err := <-ch:
		return err
	case <-time.After(testTimeout):
		t.Fatal("timeout waiting for the listener to finish")
		return nil
	}
}

// seqMessage builds a DATA message carrying seq in its first 8 bytes.
func seqMessage(p *CommProcessing, seq uint64) *Message {
	m := p.NewMessage()
	binary.BigEndian.PutUint64(m.Body(), seq)
	return m
}

func seqOf(m *Message) uint64 {
	return binary.BigEndian.Uint64(m.Body())
}

func controlMessage(p *CommProcessing, typ MessageType) *Message {
	m := p.NewMessage()
	m.SetType(typ)
	return m
}

// freeAddr returns a loopback address nothing is listening on.
func freeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// rawServer accepts one connection and hands it to serve.
func rawServer(t *testing.T, serve func(net.Conn)) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		serve(conn)
	}()

	return ln.Addr().String()
}

// plainCodec is a Codec that cannot build messages on its own.
type plainCodec struct {
	framing Framing
}

func (c plainCodec) Send(w io.Writer, m *Message) error {
	return c.framing.WriteFrame(w, m)
}

func (c plainCodec) Receive(r io.Reader, m *Message) error {
	return c.framing.ReadFrame(r, m)
}
