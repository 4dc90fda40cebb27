// Package gateway terminates FIX connections. A Conn drives one session
// over one TCP connection, a Gateway keeps track of every Conn in the
// process, and a Server accepts counterparties.
package gateway

import (
	"context"
	"io"
	"net"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/fixgateway/fixmsg"
	"github.com/Zereker/fixgateway/framer"
	"github.com/Zereker/fixgateway/protocol"
	"github.com/Zereker/fixgateway/session"
)

// Errors returned by connection operations.
var (
	// ErrInvalidSessionConfig is returned when the session settings cannot
	// drive a session of the requested role.
	ErrInvalidSessionConfig = errors.New("invalid session config")
	// ErrConnectionClosed is returned when operating on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrBufferFull is returned when the outbound queue cannot accept more
	// messages. The receiver is not consuming messages fast enough.
	ErrBufferFull = errors.New("send buffer full")

	errSessionEnded = errors.New("session ended")
)

// Default configuration values.
const (
	// defaultBufferSize is the default size of the outbound queue.
	defaultBufferSize   = 256
	// defaultHeartbeat is how often session timers run on a quiet connection.
	defaultHeartbeat    = 250 * time.Millisecond
	defaultWriteTimeout = 5 * time.Second

	controlQueueSize = 8
)

// Conn is one FIX connection. Bytes read from the socket go through a
// framer into the session parser; the session's replies are queued for a
// separate write loop.
//
// The session is owned by the read loop. Other goroutines reach it through
// Logout and RequestDisconnect, which run on the read loop, or through
// Snapshot.
type Conn struct {
	rawConn *net.TCPConn
	logger  Logger
	opts    options
	id      int64
	role    session.Role

	framer  *framer.Framer
	parser  *session.Parser
	session *session.Session

	sendMsg chan []byte
	control chan func()
	done    chan struct{}
	closed  atomic.Bool
}

// NewConn creates a connection driving a session of the given role over conn.
// It applies the provided options and validates them before returning.
func NewConn(conn *net.TCPConn, connectionID int64, role session.Role, opt ...Option) (*Conn, error) {
	opts := applyOptions(opt)
	if err := checkOptions(&opts, role); err != nil {
		return nil, err
	}
	return newConnWithOptions(conn, connectionID, role, opts), nil
}

// checkOptions validates and sets default values for connection options.
func checkOptions(opts *options, role session.Role) error {
	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.maxReadLength <= 0 {
		opts.maxReadLength = framer.DefaultBufferSize
	}

	if opts.heartbeat <= 0 {
		opts.heartbeat = defaultHeartbeat
	}

	if opts.writeTimeout <= 0 {
		opts.writeTimeout = defaultWriteTimeout
	}

	cfg := opts.sessionConfig
	if cfg.BeginString == "" {
		return errors.Wrap(ErrInvalidSessionConfig, "empty begin string")
	}
	if role.Type() == protocol.Initiator && (cfg.SenderCompID == "" || cfg.TargetCompID == "") {
		return errors.Wrap(ErrInvalidSessionConfig, "initiator needs sender and target comp ids")
	}

	if opts.onError == nil {
		opts.onError = defaultOnError
	}

	if opts.handler == nil {
		opts.handler = NopSessionHandler{}
	}

	if opts.clock == nil {
		opts.clock = time.Now
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

// newConnWithOptions creates a new Conn with the given options.
func newConnWithOptions(raw *net.TCPConn, connectionID int64, role session.Role, opts options) *Conn {
	c := &Conn{
		rawConn: raw,
		logger:  opts.logger,
		opts:    opts,
		id:      connectionID,
		role:    role,
		sendMsg: make(chan []byte, opts.bufferSize),
		control: make(chan func(), controlQueueSize),
		done:    make(chan struct{}),
	}

	cfg := opts.sessionConfig
	sessionOpts := []session.Option{
		session.ConfigOption(cfg),
		session.EventsOption(protocol.Multi(opts.events, protocol.Handler{
			OnLogon: c.onLogon,
			OnError: c.onSessionError,
		})),
		session.ApplicationOption(session.ApplicationFunc(c.onApplication)),
		session.LoggerOption(opts.logger),
		session.ClockOption(opts.clock),
		session.OnDisconnectOption(c.onDisconnect),
	}
	if opts.journal != nil {
		sessionOpts = append(sessionOpts, session.JournalOption(opts.journal))
	}

	c.session = session.New(role, connectionID, session.NewProxy(cfg.BeginString, c.send, opts.clock), sessionOpts...)
	c.parser = session.NewParser(c.session)
	c.framer = framer.New(c.onFramed,
		framer.BufferSizeOption(opts.maxReadLength),
		framer.BeginStringOption(cfg.BeginString),
		framer.OnInvalidOption(c.onInvalid),
	)
	return c
}

// Run starts the connection's read and write loops.
// It blocks until the session disconnects, an unrecoverable error occurs
// or the context is canceled. The connection is closed when Run returns.
// A session that ended normally, by logout or timeout, returns nil.
func (c *Conn) Run(ctx context.Context) error {
	defer close(c.done)

	c.logger.Info("connection established", "connectionId", c.id, "addr", c.Addr(), "role", c.role.Type().String())
	c.logger.Debug("connection options", "connectionId", c.id,
		"buffer_size", c.opts.bufferSize,
		"max_read_length", c.opts.maxReadLength,
		"heartbeat", c.opts.heartbeat)

	c.opts.metrics.ConnectionOpened()
	defer c.opts.metrics.ConnectionClosed()

	c.opts.events.ManageConnection(c.manageConnection(c.opts.sessionConfig.LibraryID))
	c.session.Start()

	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	err := group.Wait()
	c.closeConn()
	c.session.Disconnect(disconnectReason(err))

	if errors.Is(err, errSessionEnded) {
		err = nil
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Info("connection closed with error", "connectionId", c.id, "addr", c.Addr(), "error", err)
	} else {
		c.logger.Info("connection closed", "connectionId", c.id, "addr", c.Addr())
	}

	return err
}

func disconnectReason(err error) string {
	switch {
	case err == nil, errors.Is(err, errSessionEnded):
		return "connection closed"
	case errors.Is(err, context.Canceled):
		return "gateway shutting down"
	case errors.Is(err, io.EOF):
		return "connection closed by peer"
	}
	return err.Error()
}

// Close closes the underlying TCP connection without a logout, which ends Run.
// Safe to call multiple times.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}
	return c.rawConn.Close()
}

// IsClosed returns true if the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Logout asks the session to log out with text as the reason. The connection
// closes once the counterparty answers or the logout timeout passes.
func (c *Conn) Logout(text string) error {
	return c.do(func() { c.session.Logout(text) })
}

// RequestDisconnect asks the session to disconnect without a logout.
func (c *Conn) RequestDisconnect(reason string) error {
	return c.do(func() { c.session.Disconnect(reason) })
}

// do runs fn on the read loop, blocking until it is queued.
func (c *Conn) do(fn func()) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case c.control <- fn:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	}
}

// ID returns the connection id.
func (c *Conn) ID() int64 {
	return c.id
}

// Role returns the role of the connection's session.
func (c *Conn) Role() session.Role {
	return c.role
}

// Snapshot returns the latest published state of the session.
func (c *Conn) Snapshot() session.Snapshot {
	return c.session.Snapshot()
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

func (c *Conn) manageConnection(libraryID int) protocol.ManageConnection {
	snap := c.session.Snapshot()
	return protocol.ManageConnection{
		LibraryID:          libraryID,
		ConnectionID:       c.id,
		Type:               c.role.Type(),
		LastSentSeqNum:     snap.NextSentSeqNum - 1,
		LastReceivedSeqNum: snap.ExpectedReceivedSeqNum - 1,
		Address:            c.Addr().String(),
		State:              snap.State.String(),
	}
}

// readLoop feeds socket reads to the framer and runs the session timers
// between reads. It is the only goroutine touching the session.
func (c *Conn) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		c.runControl()
		if c.session.State() == session.Disconnected {
			return errSessionEnded
		}

		_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.heartbeat))
		n, err := c.framer.OnReadable(c.rawConn)
		c.opts.metrics.BytesReceived(n)
		if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
			c.logger.Debug("read error", "connectionId", c.id, "addr", c.Addr(), "error", err)
			if c.session.State() == session.Disconnected {
				return errSessionEnded
			}
			return err
		}

		c.session.Poll(c.opts.clock())
	}
}

func (c *Conn) runControl() {
	for {
		select {
		case fn := <-c.control:
			fn()
		default:
			return
		}
	}
}

// writeLoop continuously sends messages from the send channel to the connection.
// On cancellation it flushes what is already queued, so a final Logout
// reaches the counterparty.
func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.flush()
			return ctx.Err()
		case data := <-c.sendMsg:
			if err := c.write(data); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) flush() {
	for {
		select {
		case data := <-c.sendMsg:
			if err := c.write(data); err != nil {
				return
			}
		default:
			return
		}
	}
}

// write sends data to the connection with a deadline.
// If an error occurs and onError returns Disconnect, the error is propagated.
// Otherwise, the error is suppressed and writing continues.
func (c *Conn) write(data []byte) error {
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout))

	if _, err := c.rawConn.Write(data); err != nil {
		c.logger.Debug("write error", "connectionId", c.id, "addr", c.Addr(), "error", err)
		if c.opts.onError(err) == Disconnect {
			return err
		}
		return nil
	}

	c.opts.metrics.MessageSent()
	return nil
}

// send queues an encoded message without blocking. It is the session
// proxy's transport.
func (c *Conn) send(data []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	select {
	case c.sendMsg <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

func (c *Conn) onFramed(buf []byte, offset, length int) {
	c.parser.OnMessage(buf, offset, length)
	if msgType := c.parser.MsgType(); msgType != "" {
		c.opts.metrics.MessageReceived(msgType)
	}
}

func (c *Conn) onInvalid(err error) {
	c.logger.Warn("framing error", "connectionId", c.id, "addr", c.Addr(), "error", err)
	c.opts.metrics.InvalidMessage("framing")
	c.opts.events.Error(protocol.Error{
		Kind:      protocol.ErrorInvalidMessage,
		LibraryID: c.opts.sessionConfig.LibraryID,
		Message:   err.Error(),
	})
	if c.opts.onError(err) == Disconnect {
		c.session.Disconnect(err.Error())
	}
}

func (c *Conn) onLogon(protocol.Logon) {
	c.opts.metrics.Logon(c.role.Type().String())
	c.opts.handler.OnLogon(c)
}

func (c *Conn) onSessionError(e protocol.Error) {
	if e.Kind == protocol.ErrorInvalidMessage {
		c.opts.metrics.InvalidMessage("session")
	}
}

func (c *Conn) onApplication(_ *session.Session, m *fixmsg.Message) {
	c.opts.handler.OnMessage(c, m)
}

func (c *Conn) onDisconnect(reason string) {
	c.opts.handler.OnDisconnect(c, reason)
}

// closeConn marks the connection as closed and closes the underlying TCP connection.
func (c *Conn) closeConn() {
	c.closed.Store(true)
	c.rawConn.Close()
}
