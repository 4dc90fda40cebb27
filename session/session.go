// Package session implements the FIX session layer: the logon handshake,
// sequence number continuity, heartbeats and resend recovery.
//
// A Session is driven by exactly one goroutine. Observers on other
// goroutines read it through Snapshot.
package session

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Zereker/fixgateway/fixmsg"
	"github.com/Zereker/fixgateway/protocol"
)

// ErrLoggedOn is returned when sequence numbers are restored after logon.
var ErrLoggedOn = errors.New("session: already logged on")

// Logon carries the fields of an inbound logon message.
type Logon struct {
	HeartbeatInterval time.Duration
	MsgSeqNum         int
	SessionID         int64
	Key               Key
	SendingTime       time.Time
	OrigSendingTime   time.Time
	PossDup           bool
	ResetSeqNum       bool
	Username          string
	Password          string
}

// Header carries the fields every inbound message contributes to sequencing.
type Header struct {
	MsgType         string
	MsgSeqNum       int
	SendingTime     time.Time
	OrigSendingTime time.Time
	PossDup         bool

	// NewSeqNo is set for SequenceReset messages.
	NewSeqNo int
	// Reset marks a SequenceReset in reset mode, which ignores MsgSeqNum.
	Reset bool
}

// Session is the state of one FIX session on one connection.
type Session struct {
	role   Role
	opts   options
	proxy  Proxy
	logger Logger

	connectionID int64
	id           int64
	key          Key
	bound        bool
	state        State

	heartbeatInterval time.Duration
	expectedReceived  int
	nextSent          int
	resendTarget      int

	lastSendingTime     time.Time
	lastOrigSendingTime time.Time
	lastPossDup         bool

	connectedAt  time.Time
	lastReceived time.Time
	lastSent     time.Time

	testReqID     string
	testReqSentAt time.Time

	logoutSent     bool
	logoutDeadline time.Time

	disconnectReason string

	snapshot atomic.Pointer[Snapshot]
}

// New creates a session for a connection. proxy writes the session's
// outbound messages.
func New(role Role, connectionID int64, proxy Proxy, opts ...Option) *Session {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	now := o.clock()
	s := &Session{
		role:             role,
		opts:             o,
		proxy:            proxy,
		logger:           o.logger,
		connectionID:     connectionID,
		state:            role.initialState(),
		expectedReceived: 1,
		nextSent:         1,
		connectedAt:      now,
		lastReceived:     now,
		lastSent:         now,
	}
	s.publish()
	return s
}

// Start runs the role's opening move. An initiator sends its logon here.
func (s *Session) Start() {
	s.role.start(s)
	s.publish()
}

// RestoreSequenceNumbers continues numbering from stored values. It is only
// valid before logon.
func (s *Session) RestoreSequenceNumbers(nextSent, nextReceived int) error {
	if s.state != Connected {
		return ErrLoggedOn
	}
	if nextSent > 0 {
		s.nextSent = nextSent
	}
	if nextReceived > 0 {
		s.expectedReceived = nextReceived
	}
	s.publish()
	return nil
}

// OnLogon handles an inbound logon. While Connected it runs the handshake;
// afterwards a logon only counts towards sequencing.
func (s *Session) OnLogon(l Logon) {
	defer s.publish()

	s.bind(l.SessionID, l.Key)
	header := Header{
		MsgType:         fixmsg.MsgTypeLogon,
		MsgSeqNum:       l.MsgSeqNum,
		SendingTime:     l.SendingTime,
		OrigSendingTime: l.OrigSendingTime,
		PossDup:         l.PossDup,
	}

	if s.state != Connected {
		s.onMessage(header)
		return
	}

	if reason := s.validateLogon(l); reason != "" {
		s.logoutAndDisconnect(protocol.ErrorLogonRejected, reason)
		return
	}
	if l.ResetSeqNum {
		s.role.resetSequenceNumbers(s)
	}

	expected := s.expectedReceived
	switch {
	case l.MsgSeqNum == expected:
		s.heartbeatInterval = l.HeartbeatInterval
		s.setState(Active)
		s.role.replyToLogon(s, l)
	case l.MsgSeqNum > expected:
		s.heartbeatInterval = l.HeartbeatInterval
		s.setState(AwaitingResend)
		s.role.replyToLogon(s, l)
		s.requestResend(l.MsgSeqNum)
	default:
		s.logoutAndDisconnect(protocol.ErrorSequenceNumber,
			fmt.Sprintf("MsgSeqNum too low, expecting %d but received %d", expected, l.MsgSeqNum))
		return
	}

	s.opts.journal.SaveLogon(s.connectionID, s.id)
	s.onMessage(header)
	if s.state == Disconnected {
		return
	}

	s.logger.Info("session logged on",
		"connectionId", s.connectionID, "sessionId", s.id, "key", s.key.String(),
		"state", s.state.String(), "heartbeat", s.heartbeatInterval)
	s.opts.events.Logon(protocol.Logon{
		LibraryID:          s.opts.config.LibraryID,
		ConnectionID:       s.connectionID,
		SessionID:          s.id,
		LastSentSeqNum:     s.nextSent - 1,
		LastReceivedSeqNum: s.expectedReceived - 1,
		SenderCompID:       s.key.SenderCompID,
		TargetCompID:       s.key.TargetCompID,
		Username:           l.Username,
		Password:           l.Password,
	})
}

func (s *Session) validateLogon(l Logon) string {
	cfg := s.opts.config
	if l.HeartbeatInterval < cfg.MinHeartbeat || (cfg.MaxHeartbeat > 0 && l.HeartbeatInterval > cfg.MaxHeartbeat) {
		return fmt.Sprintf("HeartBtInt %s outside [%s, %s]", l.HeartbeatInterval, cfg.MinHeartbeat, cfg.MaxHeartbeat)
	}
	if cfg.SendingTimeWindow > 0 {
		skew := s.opts.clock().Sub(l.SendingTime)
		if skew < 0 {
			skew = -skew
		}
		if skew > cfg.SendingTimeWindow {
			return "SendingTime accuracy problem"
		}
	}
	if cfg.SenderCompID != "" && l.Key.SenderCompID != cfg.SenderCompID {
		return "CompID problem"
	}
	if cfg.TargetCompID != "" && l.Key.TargetCompID != cfg.TargetCompID {
		return "CompID problem"
	}
	return ""
}

func (s *Session) onHeartbeat(h Header) {
	s.onMessage(h)
}

func (s *Session) onTestRequest(h Header, testReqID []byte) {
	if s.onMessage(h) {
		s.sent(s.proxy.Heartbeat(s.newSentSeqNum(), testReqID))
	}
}

// onResendRequest answers with a gap fill up to the next sequence number we
// will send, since no outbound messages are stored for replay.
func (s *Session) onResendRequest(h Header, beginSeqNo, endSeqNo int) {
	s.onMessage(h)
	if s.state == Disconnected {
		return
	}
	if beginSeqNo < 1 || beginSeqNo >= s.nextSent {
		s.logger.Debug("resend request needs no gap fill",
			"connectionId", s.connectionID, "begin", beginSeqNo, "end", endSeqNo, "nextSent", s.nextSent)
		return
	}
	s.sent(s.proxy.SequenceReset(beginSeqNo, s.nextSent, true))
}

func (s *Session) onSequenceReset(h Header) {
	s.onMessage(h)
}

func (s *Session) onReject(h Header, refSeqNum int, text []byte) {
	s.onMessage(h)
	s.logger.Warn("message rejected by counterparty",
		"connectionId", s.connectionID, "refSeqNum", refSeqNum, "text", string(text))
	s.opts.events.Error(protocol.Error{
		Kind:      protocol.ErrorSessionReject,
		LibraryID: s.opts.config.LibraryID,
		Message:   fmt.Sprintf("refSeqNum %d rejected: %s", refSeqNum, text),
	})
}

func (s *Session) onLogout(h Header, text []byte) {
	s.onMessage(h)
	if s.state == Disconnected {
		return
	}
	if !s.logoutSent {
		s.sent(s.proxy.Logout(s.newSentSeqNum(), ""))
		s.logoutSent = true
	}
	s.Disconnect("logout received: " + string(text))
}

// onApplication reports whether an application message may be delivered.
func (s *Session) onApplication(h Header) bool {
	return s.onMessage(h) && s.state.LoggedOn()
}

// Poll runs the timers: logon timeout, outbound heartbeats, test requests on
// inbound silence and the logout acknowledgement deadline.
func (s *Session) Poll(now time.Time) {
	switch s.state {
	case Disconnected:
		return
	case Connected:
		if timeout := s.opts.config.LogonTimeout; timeout > 0 && now.Sub(s.connectedAt) >= timeout {
			s.Disconnect("no logon within " + timeout.String())
		}
		return
	}
	defer s.publish()

	if s.logoutSent {
		if !now.Before(s.logoutDeadline) {
			s.Disconnect("logout not acknowledged")
		}
		return
	}

	interval := s.heartbeatInterval
	if interval <= 0 {
		return
	}
	if now.Sub(s.lastSent) >= interval {
		s.sent(s.proxy.Heartbeat(s.newSentSeqNum(), nil))
	}

	if s.testReqID != "" {
		if now.Sub(s.testReqSentAt) >= interval {
			s.opts.events.Error(protocol.Error{
				Kind:      protocol.ErrorHeartbeatTimeout,
				LibraryID: s.opts.config.LibraryID,
				Message:   "test request " + s.testReqID + " not answered",
			})
			s.Disconnect("test request not answered")
		}
		return
	}
	if now.Sub(s.lastReceived) >= interval*12/10 {
		s.testReqID = uuid.NewString()
		s.testReqSentAt = now
		s.sent(s.proxy.TestRequest(s.newSentSeqNum(), s.testReqID))
	}
}

// Logout starts an orderly logout. The session disconnects when the
// counterparty answers or LogoutTimeout passes.
func (s *Session) Logout(text string) {
	defer s.publish()

	switch {
	case s.state == Disconnected, s.logoutSent:
		return
	case !s.state.LoggedOn():
		s.Disconnect(text)
		return
	}
	s.sent(s.proxy.Logout(s.newSentSeqNum(), text))
	s.logoutSent = true
	s.logoutDeadline = s.opts.clock().Add(s.opts.config.LogoutTimeout)
}

// Disconnect moves the session to Disconnected, stores its sequence numbers
// and runs the disconnect callback. Later calls do nothing.
func (s *Session) Disconnect(reason string) {
	if s.state == Disconnected {
		return
	}
	s.setState(Disconnected)
	s.disconnectReason = reason

	if s.bound {
		if err := s.opts.journal.SaveSequenceNumbers(s.id, s.nextSent, s.expectedReceived); err != nil {
			s.logger.Error("failed to save sequence numbers", "sessionId", s.id, "error", err)
		}
	}
	s.logger.Info("session disconnected", "connectionId", s.connectionID, "sessionId", s.id, "reason", reason)
	s.publish()

	if s.opts.onDisconnect != nil {
		s.opts.onDisconnect(reason)
	}
}

func (s *Session) logoutAndDisconnect(kind protocol.ErrorKind, reason string) {
	if !s.logoutSent {
		s.sent(s.proxy.Logout(s.newSentSeqNum(), reason))
		s.logoutSent = true
	}
	s.logger.Warn("session error", "connectionId", s.connectionID, "kind", kind.String(), "reason", reason)
	s.opts.events.Error(protocol.Error{
		Kind:      kind,
		LibraryID: s.opts.config.LibraryID,
		Message:   reason,
	})
	s.Disconnect(reason)
}

func (s *Session) invalidMessage(err error) {
	s.logger.Warn("dropping invalid message", "connectionId", s.connectionID, "error", err)
	s.opts.events.Error(protocol.Error{
		Kind:      protocol.ErrorInvalidMessage,
		LibraryID: s.opts.config.LibraryID,
		Message:   err.Error(),
	})
}

func (s *Session) bind(id int64, key Key) {
	s.id = id
	s.key = key
	s.bound = true
	s.proxy.SetupSession(id, key)
}

func (s *Session) setState(state State) {
	if s.state == state {
		return
	}
	s.logger.Debug("session state change",
		"connectionId", s.connectionID, "from", s.state.String(), "to", state.String())
	s.state = state
}

// sent records a send attempt. A full outbound queue is not fatal to the
// session; the heartbeat timers catch a connection that stays stuck.
func (s *Session) sent(err error) {
	if err != nil {
		s.logger.Warn("failed to send message", "connectionId", s.connectionID, "error", err)
		return
	}
	s.lastSent = s.opts.clock()
}

func (s *Session) received() {
	s.lastReceived = s.opts.clock()
	s.testReqID = ""
}

func (s *Session) publish() {
	s.snapshot.Store(&Snapshot{
		ConnectionID:           s.connectionID,
		SessionID:              s.id,
		Key:                    s.key,
		Role:                   s.role.Type().String(),
		State:                  s.state,
		ExpectedReceivedSeqNum: s.expectedReceived,
		NextSentSeqNum:         s.nextSent,
		HeartbeatInterval:      s.heartbeatInterval,
		LastReceived:           s.lastReceived,
		LastSent:               s.lastSent,
		LastSendingTime:        s.lastSendingTime,
		LastOrigSendingTime:    s.lastOrigSendingTime,
		LastPossDup:            s.lastPossDup,
	})
}

// Snapshot returns the most recently published copy of the session's
// counters. It is safe to call from any goroutine.
func (s *Session) Snapshot() Snapshot {
	return *s.snapshot.Load()
}

// ConnectionID returns the id of the connection the session runs on.
func (s *Session) ConnectionID() int64 { return s.connectionID }

// ID returns the durable session id, zero before logon.
func (s *Session) ID() int64 { return s.id }

// Key returns the session's comp ids.
func (s *Session) Key() Key { return s.key }

// Role returns the role the session was created with.
func (s *Session) Role() Role { return s.role }

// State returns the current state.
func (s *Session) State() State { return s.state }

// ExpectedReceivedSeqNum returns the MsgSeqNum expected on the next inbound message.
func (s *Session) ExpectedReceivedSeqNum() int { return s.expectedReceived }

// NextSentSeqNum returns the MsgSeqNum of the next outbound message.
func (s *Session) NextSentSeqNum() int { return s.nextSent }

// HeartbeatInterval returns the negotiated heartbeat interval.
func (s *Session) HeartbeatInterval() time.Duration { return s.heartbeatInterval }

// DisconnectReason returns why the session disconnected.
func (s *Session) DisconnectReason() string { return s.disconnectReason }
