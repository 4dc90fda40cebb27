package gateway

import (
	"time"

	"github.com/pkg/errors"

	"github.com/Zereker/fixgateway/framer"
	"github.com/Zereker/fixgateway/metrics"
	"github.com/Zereker/fixgateway/protocol"
	"github.com/Zereker/fixgateway/session"
)

// ErrorAction defines the action to take when an error occurs.
type ErrorAction int

const (
	// Disconnect closes the connection when an error occurs.
	Disconnect ErrorAction = iota
	// Continue suppresses the error and continues processing.
	Continue
)

// options holds the configuration for a connection.
type options struct {
	logger  Logger
	handler SessionHandler
	events  protocol.Handler
	journal session.Journal
	metrics *metrics.Metrics
	clock   func() time.Time

	sessionConfig session.Config

	// onError is called for framing and write errors.
	// Returns Disconnect to close the connection, Continue to suppress the error.
	onError func(error) ErrorAction

	bufferSize    int           // size of the outbound queue
	maxReadLength int           // receive buffer, the largest message that can be framed
	heartbeat     time.Duration // how often session timers run while the peer is quiet
	writeTimeout  time.Duration
}

// Option is a function that configures connection options.
type Option func(*options)

// BufferSizeOption returns an Option that sets the size of the outbound queue.
// A larger buffer allows more messages to be queued before sends fail with
// ErrBufferFull.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// HeartbeatOption returns an Option that sets how often session timers are
// polled. It bounds the read deadline, so it is also the latency of
// Logout and Disconnect requests on an idle connection.
func HeartbeatOption(heartbeat time.Duration) Option {
	return func(o *options) {
		o.heartbeat = heartbeat
	}
}

// WriteTimeoutOption returns an Option that sets the deadline of a single write.
func WriteTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = timeout
	}
}

// MessageMaxSize returns an Option that sets the receive buffer size.
// Messages larger than this size cannot be received.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxReadLength = size
	}
}

// OnErrorOption returns an Option that sets the error callback.
// The callback is invoked for framing and write errors.
// Return Disconnect to close the connection, or Continue to suppress the error.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// SessionHandlerOption returns an Option that sets the receiver of logons,
// application messages and disconnects.
func SessionHandlerOption(h SessionHandler) Option {
	return func(o *options) {
		o.handler = h
	}
}

// SessionConfigOption returns an Option that sets the session settings.
func SessionConfigOption(cfg session.Config) Option {
	return func(o *options) {
		o.sessionConfig = cfg
	}
}

// EventsOption returns an Option that sets the protocol notification sink.
func EventsOption(h protocol.Handler) Option {
	return func(o *options) {
		o.events = h
	}
}

// JournalOption returns an Option that sets the durable log.
func JournalOption(j session.Journal) Option {
	return func(o *options) {
		o.journal = j
	}
}

// MetricsOption returns an Option that sets the traffic counters.
func MetricsOption(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// ClockOption returns an Option that sets the time source of the session timers.
func ClockOption(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// defaultOnError keeps the connection through malformed input and drops it
// on anything else.
func defaultOnError(err error) ErrorAction {
	if errors.Is(err, framer.ErrInvalidMessage) {
		return Continue
	}
	return Disconnect
}

func applyOptions(opt []Option) options {
	opts := options{sessionConfig: session.DefaultConfig()}
	for _, o := range opt {
		o(&opts)
	}
	return opts
}
