package comm

import (
	"time"
)

// Default configuration values.
const (
	// defaultBufferSize is the default bufio reader/writer size (64KB).
	defaultBufferSize = 64 * 1024
	// defaultKeepAlive is the default TCP keepalive period.
	defaultKeepAlive = 30 * time.Second
)

// options holds the configuration shared by Listener and Connector.
type options struct {
	logger Logger

	bufferSize       int           // bufio size, 0 for unbuffered I/O
	bufferSizeSet    bool          // distinguishes an explicit 0 from unset
	socketBufferSize int           // SO_RCVBUF/SO_SNDBUF, 0 keeps the OS default
	noDelay          bool          // TCP_NODELAY
	noDelaySet       bool          // distinguishes an explicit false from unset
	keepAlive        time.Duration // TCP keepalive period, negative disables
}

// Option is a function that configures a Listener or Connector.
type Option func(*options)

// newOptions applies opt over the defaults.
func newOptions(opt ...Option) options {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)
	return opts
}

// checkOptions sets default values for unset options.
func checkOptions(opts *options) {
	if !opts.bufferSizeSet {
		opts.bufferSize = defaultBufferSize
	}

	if opts.bufferSize < 0 {
		opts.bufferSize = 0
	}

	if !opts.noDelaySet {
		opts.noDelay = true
	}

	if opts.keepAlive == 0 {
		opts.keepAlive = defaultKeepAlive
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// BufferSizeOption returns an Option that sets the size of the buffered
// reader and writer wrapped around each connection. Size 0 disables
// buffering so every frame goes straight to the socket.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
		o.bufferSizeSet = true
	}
}

// SocketBufferOption returns an Option that sets the kernel send and
// receive buffer sizes of each socket.
func SocketBufferOption(size int) Option {
	return func(o *options) {
		o.socketBufferSize = size
	}
}

// NoDelayOption returns an Option that controls TCP_NODELAY (on by default).
func NoDelayOption(noDelay bool) Option {
	return func(o *options) {
		o.noDelay = noDelay
		o.noDelaySet = true
	}
}

// KeepAliveOption returns an Option that sets the TCP keepalive period.
// A negative period disables keepalive.
func KeepAliveOption(period time.Duration) Option {
	return func(o *options) {
		o.keepAlive = period
	}
}
