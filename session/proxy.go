package session

import (
	"time"

	"github.com/Zereker/fixgateway/fixmsg"
)

// proxy encodes session messages with a fixmsg.Encoder and hands the
// finished bytes to send.
type proxy struct {
	encoder *fixmsg.Encoder
	send    func([]byte) error
	clock   func() time.Time
}

// NewProxy returns a Proxy that writes messages for beginString through send.
// A nil clock means time.Now.
func NewProxy(beginString string, send func([]byte) error, clock func() time.Time) Proxy {
	if clock == nil {
		clock = time.Now
	}
	return &proxy{
		encoder: fixmsg.NewEncoder(beginString),
		send:    send,
		clock:   clock,
	}
}

func (p *proxy) SetupSession(_ int64, key Key) {
	p.encoder.SetCompIDs(key.SenderCompID, key.TargetCompID)
}

func (p *proxy) Logon(heartbeatInterval time.Duration, msgSeqNum int, resetSeqNum bool, username, password string) error {
	e := p.encoder.Begin(fixmsg.MsgTypeLogon, msgSeqNum, p.clock()).
		Int(fixmsg.TagEncryptMethod, 0).
		Int(fixmsg.TagHeartBtInt, int(heartbeatInterval/time.Second))
	if resetSeqNum {
		e.Bool(fixmsg.TagResetSeqNumFlag, true)
	}
	if username != "" {
		e.String(fixmsg.TagUsername, username)
	}
	if password != "" {
		e.String(fixmsg.TagPassword, password)
	}
	return p.send(e.Finish())
}

func (p *proxy) Heartbeat(msgSeqNum int, testReqID []byte) error {
	e := p.encoder.Begin(fixmsg.MsgTypeHeartbeat, msgSeqNum, p.clock())
	if len(testReqID) > 0 {
		e.String(fixmsg.TagTestReqID, string(testReqID))
	}
	return p.send(e.Finish())
}

func (p *proxy) TestRequest(msgSeqNum int, testReqID string) error {
	return p.send(p.encoder.Begin(fixmsg.MsgTypeTestRequest, msgSeqNum, p.clock()).
		String(fixmsg.TagTestReqID, testReqID).
		Finish())
}

func (p *proxy) ResendRequest(msgSeqNum, beginSeqNo, endSeqNo int) error {
	return p.send(p.encoder.Begin(fixmsg.MsgTypeResendRequest, msgSeqNum, p.clock()).
		Int(fixmsg.TagBeginSeqNo, beginSeqNo).
		Int(fixmsg.TagEndSeqNo, endSeqNo).
		Finish())
}

// SequenceReset in gap fill mode is a possible duplicate of the messages it
// replaces.
func (p *proxy) SequenceReset(msgSeqNum, newSeqNo int, gapFill bool) error {
	now := p.clock()
	e := p.encoder.Begin(fixmsg.MsgTypeSequenceReset, msgSeqNum, now)
	if gapFill {
		e.Bool(fixmsg.TagPossDupFlag, true).
			Time(fixmsg.TagOrigSendingTime, now).
			Bool(fixmsg.TagGapFillFlag, true)
	}
	return p.send(e.Int(fixmsg.TagNewSeqNo, newSeqNo).Finish())
}

func (p *proxy) Reject(msgSeqNum, refSeqNum int, text string) error {
	e := p.encoder.Begin(fixmsg.MsgTypeReject, msgSeqNum, p.clock()).
		Int(fixmsg.TagRefSeqNum, refSeqNum)
	if text != "" {
		e.String(fixmsg.TagText, text)
	}
	return p.send(e.Finish())
}

func (p *proxy) Logout(msgSeqNum int, text string) error {
	e := p.encoder.Begin(fixmsg.MsgTypeLogout, msgSeqNum, p.clock())
	if text != "" {
		e.String(fixmsg.TagText, text)
	}
	return p.send(e.Finish())
}
