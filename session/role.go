package session

import "github.com/Zereker/fixgateway/protocol"

// Role is the part of session behaviour that differs between the side that
// accepted the connection and the side that opened it. Acceptor and
// Initiator are the only implementations.
type Role interface {
	Type() protocol.ConnectionType
	initialState() State
	start(s *Session)
	replyToLogon(s *Session, l Logon)
	resetSequenceNumbers(s *Session)
}

// Acceptor waits for the counterparty's logon and acknowledges it.
type Acceptor struct{}

var _ Role = Acceptor{}

// Type returns protocol.Acceptor.
func (Acceptor) Type() protocol.ConnectionType { return protocol.Acceptor }

func (Acceptor) initialState() State { return Connected }

func (Acceptor) start(*Session) {}

func (Acceptor) replyToLogon(s *Session, l Logon) {
	s.sent(s.proxy.Logon(l.HeartbeatInterval, s.newSentSeqNum(), l.ResetSeqNum, "", ""))
}

func (Acceptor) resetSequenceNumbers(s *Session) {
	s.expectedReceived = 1
	s.nextSent = 1
}

// Initiator sends the first logon and treats the counterparty's logon as
// the acknowledgement.
type Initiator struct{}

var _ Role = Initiator{}

// Type returns protocol.Initiator.
func (Initiator) Type() protocol.ConnectionType { return protocol.Initiator }

func (Initiator) initialState() State { return Connected }

func (Initiator) start(s *Session) {
	cfg := s.opts.config
	s.bind(s.id, Key{SenderCompID: cfg.SenderCompID, TargetCompID: cfg.TargetCompID})
	if cfg.ResetSeqNum {
		s.expectedReceived = 1
		s.nextSent = 1
	}
	s.sent(s.proxy.Logon(cfg.HeartbeatInterval, s.newSentSeqNum(), cfg.ResetSeqNum, cfg.Username, cfg.Password))
}

func (Initiator) replyToLogon(*Session, Logon) {}

// Our own logon already consumed a sequence number, so only the inbound
// side restarts.
func (Initiator) resetSequenceNumbers(s *Session) {
	s.expectedReceived = 1
}
