package gateway

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/Zereker/fixgateway/journal"
	"github.com/Zereker/fixgateway/protocol"
	"github.com/Zereker/fixgateway/session"
)

// eventRecorder collects protocol notifications on channels.
type eventRecorder struct {
	logons  chan protocol.Logon
	errors  chan protocol.Error
	manage  chan protocol.ManageConnection
	replies chan protocol.SessionReply
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{
		logons:  make(chan protocol.Logon, 64),
		errors:  make(chan protocol.Error, 64),
		manage:  make(chan protocol.ManageConnection, 64),
		replies: make(chan protocol.SessionReply, 64),
	}
}

func (r *eventRecorder) handler() protocol.Handler {
	return protocol.Handler{
		OnLogon:               func(e protocol.Logon) { r.logons <- e },
		OnError:               func(e protocol.Error) { r.errors <- e },
		OnManageConnection:    func(e protocol.ManageConnection) { r.manage <- e },
		OnRequestSessionReply: func(e protocol.SessionReply) { r.replies <- e },
		OnReleaseSessionReply: func(e protocol.SessionReply) { r.replies <- e },
	}
}

type acceptorFixture struct {
	gateway *Gateway
	addr    string
	events  *eventRecorder
	journal *journal.Memory
}

// startAcceptor serves an acceptor gateway on a loopback port until the
// test ends.
func startAcceptor(t *testing.T) *acceptorFixture {
	t.Helper()

	f := &acceptorFixture{events: newEventRecorder(), journal: journal.NewMemory()}
	f.gateway = NewGateway(
		SessionConfigOption(acceptorConfig()),
		JournalOption(f.journal),
		EventsOption(f.events.handler()),
		HeartbeatOption(20*time.Millisecond),
	)

	server, err := NewServer(&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	f.addr = server.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, f.gateway)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(testTimeout):
			t.Error("timeout waiting for Serve to return")
		}
	})
	return f
}

func initiatorConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.SenderCompID = "CLIENT"
	cfg.TargetCompID = "GATEWAY"
	return cfg
}

func activeSessions(g *Gateway) int {
	n := 0
	for _, s := range g.Sessions() {
		if s.State == session.Active {
			n++
		}
	}
	return n
}

func TestGateway_InitiatorLogsOnToAcceptor(t *testing.T) {
	acceptor := startAcceptor(t)

	initJournal := journal.NewMemory()
	handler := newRecordingHandler()
	initiator := NewGateway(
		JournalOption(initJournal),
		SessionHandlerOption(handler),
		HeartbeatOption(20*time.Millisecond),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := initiator.Connect(ctx, acceptor.addr, initiatorConfig())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	receive(t, handler.logons)

	logon := receive(t, acceptor.events.logons)
	if logon.SenderCompID != "GATEWAY" || logon.TargetCompID != "CLIENT" {
		t.Errorf("acceptor logon key = %s->%s", logon.SenderCompID, logon.TargetCompID)
	}
	if manage := receive(t, acceptor.events.manage); manage.Type != protocol.Acceptor || manage.State != "CONNECTED" {
		t.Errorf("manage connection = %+v", manage)
	}

	eventually(t, func() bool { return activeSessions(acceptor.gateway) == 1 }, "acceptor session never became ACTIVE")
	eventually(t, func() bool { return activeSessions(initiator) == 1 }, "initiator session never became ACTIVE")

	snap := initiator.Sessions()[0]
	if snap.ConnectionID != conn.ID() || snap.Role != "INITIATOR" {
		t.Errorf("initiator snapshot = %+v", snap)
	}
	if snap.Key != (session.Key{SenderCompID: "CLIENT", TargetCompID: "GATEWAY"}) {
		t.Errorf("initiator key = %s", snap.Key)
	}

	if err := initiator.Logout(conn.ID(), "done"); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	initiator.Wait()
	eventually(t, func() bool { return len(acceptor.gateway.Sessions()) == 0 }, "acceptor session never ended")

	if _, ok := initiator.Conn(conn.ID()); ok {
		t.Error("connection still registered after it ended")
	}

	// logon and logout on both sides
	assertStored(t, initJournal, "CLIENT", "GATEWAY", 3, 3)
	assertStored(t, acceptor.journal, "GATEWAY", "CLIENT", 3, 3)
}

func assertStored(t *testing.T, j *journal.Memory, sender, target string, nextSent, nextReceived int) {
	t.Helper()
	id, err := j.SessionID(sender, target)
	if err != nil {
		t.Fatalf("SessionID failed: %v", err)
	}
	gotSent, gotReceived, found, err := j.LoadSequenceNumbers(id)
	if err != nil || !found {
		t.Fatalf("sequence numbers of %s->%s not stored (err %v)", sender, target, err)
	}
	if gotSent != nextSent || gotReceived != nextReceived {
		t.Errorf("%s->%s stored (%d, %d), want (%d, %d)", sender, target, gotSent, gotReceived, nextSent, nextReceived)
	}
}

func TestGateway_InitiatorContinuesStoredSequence(t *testing.T) {
	acceptor := startAcceptor(t)

	initJournal := journal.NewMemory()
	id, err := initJournal.SessionID("CLIENT", "GATEWAY")
	if err != nil {
		t.Fatalf("SessionID failed: %v", err)
	}
	if err := initJournal.SaveSequenceNumbers(id, 5, 1); err != nil {
		t.Fatalf("SaveSequenceNumbers failed: %v", err)
	}

	initiator := NewGateway(JournalOption(initJournal), HeartbeatOption(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := initiator.Connect(ctx, acceptor.addr, initiatorConfig()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// The acceptor expects 1, sees 5, asks for a resend and is gap filled to 6.
	eventually(t, func() bool {
		sessions := acceptor.gateway.Sessions()
		return len(sessions) == 1 && sessions[0].State == session.Active && sessions[0].ExpectedReceivedSeqNum == 6
	}, "acceptor never recovered the gap")

	shutdown, stop := context.WithTimeout(context.Background(), testTimeout)
	defer stop()
	if err := initiator.Shutdown(shutdown); err != nil {
		t.Errorf("Shutdown returned %v", err)
	}
}

func TestGateway_ConnectFailure(t *testing.T) {
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	events := newEventRecorder()
	g := NewGateway(EventsOption(events.handler()))

	cfg := initiatorConfig()
	cfg.LibraryID = 4
	if _, err := g.Connect(context.Background(), addr, cfg); err == nil {
		t.Fatal("expected a dial error")
	}

	e := receive(t, events.errors)
	if e.Kind != protocol.ErrorUnableToConnect || e.LibraryID != 4 {
		t.Errorf("error = %+v", e)
	}
	if len(g.Sessions()) != 0 {
		t.Error("failed connection registered")
	}
}

func TestGateway_ProtocolRequests(t *testing.T) {
	events := newEventRecorder()
	g := NewGateway(
		SessionConfigOption(acceptorConfig()),
		EventsOption(events.handler()),
		HeartbeatOption(20*time.Millisecond),
	)

	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Handle(ctx, serverConn)

	eventually(t, func() bool { _, ok := g.Conn(1); return ok }, "connection never registered")
	h := g.Protocol(ctx)

	expectReply := func(correlationID int64, status protocol.SessionReplyStatus) {
		t.Helper()
		reply := receive(t, events.replies)
		if reply.CorrelationID != correlationID || reply.Status != status {
			t.Errorf("reply = %+v, want %d %s", reply, correlationID, status)
		}
	}

	h.RequestSession(protocol.RequestSession{LibraryID: 2, ConnectionID: 1, CorrelationID: 10})
	expectReply(10, protocol.ReplySessionNotLoggedIn)

	client := newCounterparty(t, clientConn, "CLIENT", "GATEWAY")
	client.logon()
	client.next()
	eventually(t, func() bool { return activeSessions(g) == 1 }, "session never became ACTIVE")

	h.RequestSession(protocol.RequestSession{LibraryID: 2, ConnectionID: 1, CorrelationID: 11})
	expectReply(11, protocol.ReplyOK)
	h.RequestSession(protocol.RequestSession{LibraryID: 3, ConnectionID: 1, CorrelationID: 12})
	expectReply(12, protocol.ReplyOtherSessionOwner)
	h.ReleaseSession(protocol.ReleaseSession{LibraryID: 3, ConnectionID: 1, CorrelationID: 13})
	expectReply(13, protocol.ReplyOtherSessionOwner)
	h.ReleaseSession(protocol.ReleaseSession{LibraryID: 2, ConnectionID: 1, CorrelationID: 14})
	expectReply(14, protocol.ReplyOK)
	h.RequestSession(protocol.RequestSession{LibraryID: 2, ConnectionID: 99, CorrelationID: 15})
	expectReply(15, protocol.ReplyUnknownSession)

	// one from the connection starting, one for the library
	receive(t, events.manage)
	h.LibraryConnect(protocol.LibraryConnect{LibraryID: 4, Type: protocol.Acceptor})
	manage := receive(t, events.manage)
	if manage.LibraryID != 4 || manage.ConnectionID != 1 || manage.State != "ACTIVE" || manage.LastReceivedSeqNum != 1 {
		t.Errorf("manage connection = %+v", manage)
	}

	h.RequestDisconnect(protocol.RequestDisconnect{LibraryID: 2, ConnectionID: 99})
	if e := receive(t, events.errors); e.Kind != protocol.ErrorUnknownSession || !errors.Is(g.Disconnect(99, ""), ErrUnknownConnection) {
		t.Errorf("error = %+v", e)
	}

	h.RequestDisconnect(protocol.RequestDisconnect{LibraryID: 2, ConnectionID: 1})
	client.expectClosed()
	g.Wait()
}

func TestGateway_InitiateConnectionRequest(t *testing.T) {
	acceptor := startAcceptor(t)
	host, port, err := net.SplitHostPort(acceptor.addr)
	if err != nil {
		t.Fatalf("SplitHostPort failed: %v", err)
	}
	portNumber, err := net.LookupPort("tcp", port)
	if err != nil {
		t.Fatalf("LookupPort failed: %v", err)
	}

	handler := newRecordingHandler()
	initiator := NewGateway(SessionHandlerOption(handler), HeartbeatOption(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	initiator.Protocol(ctx).InitiateConnection(protocol.InitiateConnection{
		LibraryID:          5,
		Host:               host,
		Port:               portNumber,
		SenderCompID:       "CLIENT",
		TargetCompID:       "GATEWAY",
		SequenceNumberType: protocol.SequenceTransient,
	})
	receive(t, handler.logons)
	eventually(t, func() bool { return activeSessions(acceptor.gateway) == 1 }, "acceptor session never became ACTIVE")

	shutdown, stop := context.WithTimeout(context.Background(), testTimeout)
	defer stop()
	if err := initiator.Shutdown(shutdown); err != nil {
		t.Errorf("Shutdown returned %v", err)
	}
	if reason := receive(t, handler.disconnects); reason != "logout received: " {
		t.Errorf("disconnect reason = %q", reason)
	}
	eventually(t, func() bool { return len(acceptor.gateway.Sessions()) == 0 }, "acceptor session never ended")
}

func TestGateway_RefusesConnectionsAfterShutdown(t *testing.T) {
	events := newEventRecorder()
	g := NewGateway(
		SessionConfigOption(acceptorConfig()),
		EventsOption(events.handler()),
		HeartbeatOption(20*time.Millisecond),
	)

	shutdown, stop := context.WithTimeout(context.Background(), testTimeout)
	defer stop()
	if err := g.Shutdown(shutdown); err != nil {
		t.Fatalf("Shutdown returned %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverConn, clientConn := createTestTCPPair(t)
	defer clientConn.Close()

	handled := make(chan struct{})
	go func() {
		g.Handle(ctx, serverConn)
		close(handled)
	}()
	receive(t, handled)
	newCounterparty(t, clientConn, "CLIENT", "GATEWAY").expectClosed()

	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	defer listener.Close()

	if _, err := g.Connect(ctx, listener.Addr().String(), initiatorConfig()); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Connect after Shutdown returned %v, want ErrShuttingDown", err)
	}

	g.Protocol(ctx).InitiateConnection(protocol.InitiateConnection{
		LibraryID:    6,
		Host:         "127.0.0.1",
		Port:         listener.Addr().(*net.TCPAddr).Port,
		SenderCompID: "CLIENT",
		TargetCompID: "GATEWAY",
	})
	if e := receive(t, events.errors); e.Kind != protocol.ErrorUnableToConnect || e.LibraryID != 6 {
		t.Errorf("error = %+v", e)
	}

	if len(g.Sessions()) != 0 {
		t.Error("connection registered after Shutdown")
	}
	g.Wait()
}
