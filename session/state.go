package session

import (
	"fmt"
	"time"
)

// State is the lifecycle stage of a session.
type State int32

const (
	// Connected is the initial state: TCP is up, logon has not completed.
	Connected State = iota
	// Active means logon completed and sequence numbers are in step.
	Active
	// AwaitingResend means logon completed but a resend is outstanding.
	AwaitingResend
	// Disconnected is terminal.
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connected:
		return "CONNECTED"
	case Active:
		return "ACTIVE"
	case AwaitingResend:
		return "AWAITING_RESEND"
	case Disconnected:
		return "DISCONNECTED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// LoggedOn reports whether the logon handshake has completed.
func (s State) LoggedOn() bool {
	return s == Active || s == AwaitingResend
}

// Key identifies a session by its comp ids, seen from our side.
type Key struct {
	SenderCompID string
	TargetCompID string
}

func (k Key) String() string {
	return k.SenderCompID + "->" + k.TargetCompID
}

// Snapshot is a read-only copy of a session's counters for observers.
type Snapshot struct {
	ConnectionID           int64
	SessionID              int64
	Key                    Key
	Role                   string
	State                  State
	ExpectedReceivedSeqNum int
	NextSentSeqNum         int
	HeartbeatInterval      time.Duration
	LastReceived           time.Time
	LastSent               time.Time

	// Header fields of the last message accepted in sequence.
	LastSendingTime     time.Time
	LastOrigSendingTime time.Time
	LastPossDup         bool
}
