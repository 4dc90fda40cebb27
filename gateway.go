package gateway

import (
	"cmp"
	"context"
	"net"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/Zereker/fixgateway/protocol"
	"github.com/Zereker/fixgateway/session"
)

var (
	// ErrUnknownConnection is returned for connection ids the gateway does not hold.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrShuttingDown is returned for connections started after Shutdown.
	ErrShuttingDown = errors.New("gateway shutting down")
)

// entry is one live connection and the library that currently owns it.
// An owner of zero means the gateway itself.
type entry struct {
	conn  *Conn
	owner int
}

// Gateway allocates connection ids, runs acceptor and initiator sessions
// and answers library requests about them. It is the Handler given to a
// Server.
type Gateway struct {
	opts     options
	connOpts []Option
	logger   Logger

	nextID atomic.Int64

	mu           sync.RWMutex
	conns        map[int64]*entry
	shuttingDown bool

	wg sync.WaitGroup
}

var _ Handler = (*Gateway)(nil)

// NewGateway creates a gateway. opt applies to every connection; its
// SessionConfigOption is the acceptor configuration and the base of
// initiated sessions.
func NewGateway(opt ...Option) *Gateway {
	opts := applyOptions(opt)
	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
	return &Gateway{
		opts:     opts,
		connOpts: opt,
		logger:   opts.logger,
		conns:    make(map[int64]*entry),
	}
}

// Handle runs an acceptor session on an accepted connection until it ends.
func (g *Gateway) Handle(ctx context.Context, raw *net.TCPConn) {
	c, err := NewConn(raw, g.nextID.Add(1), session.Acceptor{}, g.connOpts...)
	if err != nil {
		g.logger.Error("rejecting connection", "addr", raw.RemoteAddr(), "error", err)
		_ = raw.Close()
		return
	}

	if !g.register(c) {
		g.logger.Info("refusing connection during shutdown", "connectionId", c.ID(), "addr", raw.RemoteAddr())
		_ = raw.Close()
		return
	}
	g.run(ctx, c)
}

// Connect dials addr and starts an initiator session configured by cfg.
// It returns once the TCP connection is up; the logon and the rest of the
// session run in the background until the session ends or ctx is done.
func (g *Gateway) Connect(ctx context.Context, addr string, cfg session.Config) (*Conn, error) {
	return g.connect(ctx, addr, cfg, 0)
}

func (g *Gateway) connect(ctx context.Context, addr string, cfg session.Config, initialSeqNum int) (*Conn, error) {
	var dialer net.Dialer
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		g.opts.events.Error(protocol.Error{
			Kind:      protocol.ErrorUnableToConnect,
			LibraryID: cfg.LibraryID,
			Message:   err.Error(),
		})
		return nil, errors.Wrapf(err, "dialing %s", addr)
	}
	tcp := raw.(*net.TCPConn)
	_ = tcp.SetNoDelay(true)

	opts := append(slices.Clone(g.connOpts), SessionConfigOption(cfg))
	c, err := NewConn(tcp, g.nextID.Add(1), session.Initiator{}, opts...)
	if err != nil {
		_ = tcp.Close()
		return nil, err
	}

	g.restoreSequenceNumbers(c, cfg)
	if initialSeqNum > 0 {
		_ = c.session.RestoreSequenceNumbers(initialSeqNum, 0)
	}

	if !g.register(c) {
		_ = tcp.Close()
		return nil, ErrShuttingDown
	}
	go g.run(ctx, c)
	return c, nil
}

// restoreSequenceNumbers continues an initiator session where the last
// connection under the same comp ids stopped. It runs before the
// connection's loops start.
func (g *Gateway) restoreSequenceNumbers(c *Conn, cfg session.Config) {
	journal := g.opts.journal
	if journal == nil || !cfg.PersistSequenceNumbers || cfg.ResetSeqNum {
		return
	}

	id, err := journal.SessionID(cfg.SenderCompID, cfg.TargetCompID)
	if err != nil {
		g.logger.Error("session id lookup failed", "connectionId", c.ID(), "error", err)
		return
	}
	nextSent, nextReceived, found, err := journal.LoadSequenceNumbers(id)
	if err != nil {
		g.logger.Error("failed to load sequence numbers", "sessionId", id, "error", err)
		return
	}
	if found {
		_ = c.session.RestoreSequenceNumbers(nextSent, nextReceived)
	}
}

func (g *Gateway) run(ctx context.Context, c *Conn) {
	defer g.wg.Done()
	defer g.remove(c.ID())

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		g.logger.Warn("connection ended", "connectionId", c.ID(), "error", err)
	}
}

// register tracks c until it ends. It refuses once Shutdown has started, so
// no connection joins the wait group while Shutdown waits on it.
func (g *Gateway) register(c *Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.shuttingDown {
		return false
	}
	g.wg.Add(1)
	g.conns[c.ID()] = &entry{conn: c, owner: c.opts.sessionConfig.LibraryID}
	return true
}

func (g *Gateway) remove(connectionID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.conns, connectionID)
}

// Conn returns the live connection with the given id.
func (g *Gateway) Conn(connectionID int64) (*Conn, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	e, ok := g.conns[connectionID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// Sessions returns a snapshot of every live session ordered by connection id.
func (g *Gateway) Sessions() []session.Snapshot {
	g.mu.RLock()
	snapshots := make([]session.Snapshot, 0, len(g.conns))
	for _, e := range g.conns {
		snapshots = append(snapshots, e.conn.Snapshot())
	}
	g.mu.RUnlock()

	slices.SortFunc(snapshots, func(a, b session.Snapshot) int {
		return cmp.Compare(a.ConnectionID, b.ConnectionID)
	})
	return snapshots
}

// Logout starts an orderly logout of one connection.
func (g *Gateway) Logout(connectionID int64, text string) error {
	c, ok := g.Conn(connectionID)
	if !ok {
		return errors.Wrapf(ErrUnknownConnection, "connection %d", connectionID)
	}
	return c.Logout(text)
}

// Disconnect drops one connection without a logout.
func (g *Gateway) Disconnect(connectionID int64, reason string) error {
	c, ok := g.Conn(connectionID)
	if !ok {
		return errors.Wrapf(ErrUnknownConnection, "connection %d", connectionID)
	}
	return c.RequestDisconnect(reason)
}

// Shutdown logs every session out and waits for the connections to end.
// Connections still open when ctx is done are closed. Connections accepted
// or dialed after Shutdown starts are refused.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.shuttingDown = true
	g.mu.Unlock()

	for _, c := range g.connections() {
		_ = c.Logout("gateway shutting down")
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		for _, c := range g.connections() {
			_ = c.Close()
		}
		<-done
		return ctx.Err()
	}
}

// Wait blocks until every connection has ended.
func (g *Gateway) Wait() {
	g.wg.Wait()
}

func (g *Gateway) connections() []*Conn {
	g.mu.RLock()
	defer g.mu.RUnlock()

	conns := make([]*Conn, 0, len(g.conns))
	for _, e := range g.conns {
		conns = append(conns, e.conn)
	}
	return conns
}

// Protocol returns the handler for library requests. Sessions it initiates
// run under ctx. Replies and failures go to the gateway's event sink.
func (g *Gateway) Protocol(ctx context.Context) protocol.Handler {
	return protocol.Handler{
		OnInitiateConnection: func(e protocol.InitiateConnection) {
			g.onInitiateConnection(ctx, e)
		},
		OnRequestDisconnect:    g.onRequestDisconnect,
		OnLibraryConnect:       g.onLibraryConnect,
		OnApplicationHeartbeat: g.onApplicationHeartbeat,
		OnRequestSession:       g.onRequestSession,
		OnReleaseSession:       g.onReleaseSession,
	}
}

func (g *Gateway) onInitiateConnection(ctx context.Context, e protocol.InitiateConnection) {
	cfg := g.opts.sessionConfig
	cfg.LibraryID = e.LibraryID
	cfg.SenderCompID = e.SenderCompID
	cfg.TargetCompID = e.TargetCompID
	cfg.Username = e.Username
	cfg.Password = e.Password
	cfg.PersistSequenceNumbers = e.SequenceNumberType == protocol.SequencePersistent
	cfg.ResetSeqNum = e.SequenceNumberType == protocol.SequenceTransient && e.RequestedInitialSeqNum <= 0

	addr := net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
	g.logger.Info("initiating connection", "libraryId", e.LibraryID, "addr", addr,
		"senderCompId", e.SenderCompID, "targetCompId", e.TargetCompID)

	g.mu.Lock()
	if g.shuttingDown {
		g.mu.Unlock()
		g.opts.events.Error(protocol.Error{
			Kind:      protocol.ErrorUnableToConnect,
			LibraryID: e.LibraryID,
			Message:   ErrShuttingDown.Error(),
		})
		return
	}
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		if _, err := g.connect(ctx, addr, cfg, e.RequestedInitialSeqNum); err != nil {
			g.logger.Warn("unable to connect", "libraryId", e.LibraryID, "addr", addr, "error", err)
		}
	}()
}

func (g *Gateway) onRequestDisconnect(e protocol.RequestDisconnect) {
	reason := "disconnect requested by library " + strconv.Itoa(e.LibraryID)
	if err := g.Disconnect(e.ConnectionID, reason); err != nil {
		g.opts.events.Error(protocol.Error{
			Kind:      protocol.ErrorUnknownSession,
			LibraryID: e.LibraryID,
			Message:   err.Error(),
		})
	}
}

// onLibraryConnect tells a newly connected library about every live
// connection it owns or that nobody owns.
func (g *Gateway) onLibraryConnect(e protocol.LibraryConnect) {
	g.logger.Info("library connected", "libraryId", e.LibraryID, "type", e.Type.String())

	g.mu.RLock()
	var events []protocol.ManageConnection
	for _, held := range g.conns {
		if held.owner == 0 || held.owner == e.LibraryID {
			events = append(events, held.conn.manageConnection(e.LibraryID))
		}
	}
	g.mu.RUnlock()

	slices.SortFunc(events, func(a, b protocol.ManageConnection) int {
		return cmp.Compare(a.ConnectionID, b.ConnectionID)
	})
	for _, m := range events {
		g.opts.events.ManageConnection(m)
	}
}

func (g *Gateway) onApplicationHeartbeat(e protocol.ApplicationHeartbeat) {
	g.logger.Debug("library heartbeat", "libraryId", e.LibraryID, "time", e.Time)
}

// onRequestSession hands a logged on session to the requesting library.
func (g *Gateway) onRequestSession(e protocol.RequestSession) {
	status := g.transfer(e.ConnectionID, func(owned *entry) protocol.SessionReplyStatus {
		switch {
		case owned.owner != 0 && owned.owner != e.LibraryID:
			return protocol.ReplyOtherSessionOwner
		case !owned.conn.Snapshot().State.LoggedOn():
			return protocol.ReplySessionNotLoggedIn
		}
		owned.owner = e.LibraryID
		return protocol.ReplyOK
	})
	g.opts.events.RequestSessionReply(protocol.SessionReply{CorrelationID: e.CorrelationID, Status: status})
}

// onReleaseSession hands a session back to the gateway.
func (g *Gateway) onReleaseSession(e protocol.ReleaseSession) {
	status := g.transfer(e.ConnectionID, func(owned *entry) protocol.SessionReplyStatus {
		if owned.owner != e.LibraryID {
			return protocol.ReplyOtherSessionOwner
		}
		owned.owner = 0
		return protocol.ReplyOK
	})
	g.opts.events.ReleaseSessionReply(protocol.SessionReply{CorrelationID: e.CorrelationID, Status: status})
}

func (g *Gateway) transfer(connectionID int64, fn func(*entry) protocol.SessionReplyStatus) protocol.SessionReplyStatus {
	g.mu.Lock()
	defer g.mu.Unlock()

	held, ok := g.conns[connectionID]
	if !ok {
		return protocol.ReplyUnknownSession
	}
	return fn(held)
}
