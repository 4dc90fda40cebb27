package session

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Zereker/fixgateway/fixmsg"
	"github.com/Zereker/fixgateway/protocol"
)

// Parser errors, reported through the invalid message path.
var (
	// ErrGarbled is reported for messages whose checksum does not match.
	ErrGarbled = errors.New("session: garbled message")
	// ErrMissingField is reported for messages without a required header field.
	ErrMissingField = errors.New("session: missing required field")
)

// maxHeartBtInt is the largest HeartBtInt, in seconds, a time.Duration holds.
const maxHeartBtInt = math.MaxInt64 / int64(time.Second)

// heartbeatInterval converts HeartBtInt without wrapping. Out of range
// values saturate, which logon validation then rejects.
func heartbeatInterval(seconds int) time.Duration {
	switch {
	case int64(seconds) > maxHeartBtInt:
		return math.MaxInt64
	case int64(seconds) < -maxHeartBtInt:
		return math.MinInt64
	}
	return time.Duration(seconds) * time.Second
}

// Parser decodes framed messages and dispatches them to a Session.
type Parser struct {
	session *Session
	decoder fixmsg.Decoder
	msg     fixmsg.Message
}

// NewParser creates a parser feeding s.
func NewParser(s *Session) *Parser {
	return &Parser{session: s}
}

// MsgType returns the MsgType of the last message handed to OnMessage,
// empty when it could not be decoded.
func (p *Parser) MsgType() string {
	return p.msg.MsgType
}

// OnMessage handles one framed message. Its signature matches framer.Handler
// and it must not retain buf.
func (p *Parser) OnMessage(buf []byte, offset, length int) {
	s := p.session
	if s.state == Disconnected {
		p.msg.MsgType = ""
		return
	}

	m := &p.msg
	if err := p.decoder.Decode(buf[offset:offset+length], m); err != nil {
		s.invalidMessage(err)
		return
	}
	if s.opts.config.ValidateChecksum && !m.ValidChecksum() {
		s.invalidMessage(fmt.Errorf("%w: checksum %03d", ErrGarbled, m.CheckSum))
		return
	}
	if m.MsgType == "" || m.MsgSeqNum <= 0 {
		s.invalidMessage(fmt.Errorf("%w: MsgType or MsgSeqNum", ErrMissingField))
		return
	}
	if string(m.BeginString) != s.opts.config.BeginString {
		p.rejectBeginString(m)
		return
	}

	if m.MsgType == fixmsg.MsgTypeLogon {
		p.onLogon(m)
		return
	}
	if s.state == Connected {
		s.Disconnect("first message was " + m.MsgType + ", not a logon")
		return
	}
	if !p.compIDsMatch(m) {
		s.logoutAndDisconnect(protocol.ErrorInvalidMessage, "CompID problem")
		return
	}

	defer s.publish()
	h := headerOf(m)
	switch m.MsgType {
	case fixmsg.MsgTypeHeartbeat:
		s.onHeartbeat(h)
	case fixmsg.MsgTypeTestRequest:
		s.onTestRequest(h, m.TestReqID)
	case fixmsg.MsgTypeResendRequest:
		s.onResendRequest(h, m.BeginSeqNo, m.EndSeqNo)
	case fixmsg.MsgTypeSequenceReset:
		if m.NewSeqNo <= 0 {
			s.invalidMessage(fmt.Errorf("%w: NewSeqNo", ErrMissingField))
			return
		}
		h.NewSeqNo = m.NewSeqNo
		h.Reset = !m.GapFill
		s.onSequenceReset(h)
	case fixmsg.MsgTypeReject:
		s.onReject(h, m.RefSeqNum, m.Text)
	case fixmsg.MsgTypeLogout:
		s.onLogout(h, m.Text)
	default:
		if s.onApplication(h) && s.opts.application != nil {
			s.opts.application.OnMessage(s, m)
		}
	}
}

func (p *Parser) onLogon(m *fixmsg.Message) {
	s := p.session
	key := Key{SenderCompID: string(m.TargetCompID), TargetCompID: string(m.SenderCompID)}

	id := s.id
	if s.state == Connected {
		var err error
		id, err = s.opts.journal.SessionID(key.SenderCompID, key.TargetCompID)
		if err != nil {
			s.logger.Error("session id lookup failed", "connectionId", s.connectionID, "key", key.String(), "error", err)
			s.opts.events.Error(protocol.Error{
				Kind:      protocol.ErrorException,
				LibraryID: s.opts.config.LibraryID,
				Message:   err.Error(),
			})
			s.Disconnect("session id lookup failed")
			return
		}
		if !s.bound && s.opts.config.PersistSequenceNumbers && !m.ResetSeqNum {
			p.restore(id)
		}
	} else if key != s.key {
		s.logoutAndDisconnect(protocol.ErrorInvalidMessage, "CompID problem")
		return
	}

	s.OnLogon(Logon{
		HeartbeatInterval: heartbeatInterval(m.HeartBtInt),
		MsgSeqNum:         m.MsgSeqNum,
		SessionID:         id,
		Key:               key,
		SendingTime:       m.SendingTime,
		OrigSendingTime:   m.OrigSendingTime,
		PossDup:           m.PossDup || m.PossResend,
		ResetSeqNum:       m.ResetSeqNum,
		Username:          string(m.Username),
		Password:          string(m.Password),
	})
}

// rejectBeginString ends a session whose counterparty speaks another
// protocol version. Before logon there is no session to log out of.
func (p *Parser) rejectBeginString(m *fixmsg.Message) {
	s := p.session
	reason := fmt.Sprintf("incorrect BeginString %s, expecting %s", m.BeginString, s.opts.config.BeginString)
	if s.state != Connected {
		s.logoutAndDisconnect(protocol.ErrorInvalidMessage, reason)
		return
	}
	s.logger.Warn("session error", "connectionId", s.connectionID, "reason", reason)
	s.opts.events.Error(protocol.Error{
		Kind:      protocol.ErrorInvalidMessage,
		LibraryID: s.opts.config.LibraryID,
		Message:   reason,
	})
	s.Disconnect(reason)
}

func (p *Parser) restore(id int64) {
	s := p.session
	nextSent, nextReceived, found, err := s.opts.journal.LoadSequenceNumbers(id)
	if err != nil {
		s.logger.Error("failed to load sequence numbers", "sessionId", id, "error", err)
		return
	}
	if !found {
		return
	}
	if err := s.RestoreSequenceNumbers(nextSent, nextReceived); err != nil {
		s.logger.Warn("sequence numbers not restored", "sessionId", id, "error", err)
		return
	}
	s.logger.Debug("sequence numbers restored", "sessionId", id, "nextSent", nextSent, "nextReceived", nextReceived)
}

func (p *Parser) compIDsMatch(m *fixmsg.Message) bool {
	key := p.session.key
	return string(m.TargetCompID) == key.SenderCompID && string(m.SenderCompID) == key.TargetCompID
}

func headerOf(m *fixmsg.Message) Header {
	return Header{
		MsgType:         m.MsgType,
		MsgSeqNum:       m.MsgSeqNum,
		SendingTime:     m.SendingTime,
		OrigSendingTime: m.OrigSendingTime,
		PossDup:         m.PossDup || m.PossResend,
	}
}
