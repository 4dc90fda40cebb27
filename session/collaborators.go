package session

import (
	"time"

	"github.com/Zereker/fixgateway/fixmsg"
)

// Proxy sends session level messages to the counterparty.
// Every method takes the MsgSeqNum to put on the wire.
type Proxy interface {
	SetupSession(sessionID int64, key Key)
	Logon(heartbeatInterval time.Duration, msgSeqNum int, resetSeqNum bool, username, password string) error
	Heartbeat(msgSeqNum int, testReqID []byte) error
	TestRequest(msgSeqNum int, testReqID string) error
	ResendRequest(msgSeqNum, beginSeqNo, endSeqNo int) error
	SequenceReset(msgSeqNum, newSeqNo int, gapFill bool) error
	Reject(msgSeqNum, refSeqNum int, text string) error
	Logout(msgSeqNum int, text string) error
}

// Log appends logon events to the durable log.
type Log interface {
	SaveLogon(connectionID, sessionID int64)
}

// IDStrategy maps a session key to a durable session id.
type IDStrategy interface {
	SessionID(senderCompID, targetCompID string) (int64, error)
}

// SequenceStore keeps the last sequence numbers of each session id.
type SequenceStore interface {
	LoadSequenceNumbers(sessionID int64) (nextSent, nextReceived int, found bool, err error)
	SaveSequenceNumbers(sessionID int64, nextSent, nextReceived int) error
}

// Journal is the durable collaborator of a session.
type Journal interface {
	Log
	IDStrategy
	SequenceStore
}

// Application receives application level messages that arrived in sequence
// on a logged on session.
type Application interface {
	OnMessage(s *Session, m *fixmsg.Message)
}

// ApplicationFunc adapts a function to Application.
type ApplicationFunc func(s *Session, m *fixmsg.Message)

// OnMessage calls f(s, m).
func (f ApplicationFunc) OnMessage(s *Session, m *fixmsg.Message) {
	f(s, m)
}

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopJournal struct{}

func (nopJournal) SaveLogon(int64, int64) {}

func (nopJournal) SessionID(string, string) (int64, error) { return 0, nil }

func (nopJournal) LoadSequenceNumbers(int64) (int, int, bool, error) { return 0, 0, false, nil }

func (nopJournal) SaveSequenceNumbers(int64, int, int) error { return nil }
