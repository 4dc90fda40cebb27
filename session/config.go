package session

import "time"

// Config holds the per-session protocol settings.
type Config struct {
	// LibraryID is reported on every protocol notification.
	LibraryID int

	BeginString  string
	SenderCompID string
	// TargetCompID may be empty on an acceptor to accept any counterparty.
	TargetCompID string

	// HeartbeatInterval is what an initiator proposes in its logon.
	HeartbeatInterval time.Duration
	MinHeartbeat      time.Duration
	MaxHeartbeat      time.Duration

	// SendingTimeWindow bounds the clock skew accepted on a logon.
	SendingTimeWindow time.Duration
	LogonTimeout      time.Duration
	LogoutTimeout     time.Duration

	// ResetSeqNum makes an initiator request a sequence number reset.
	ResetSeqNum bool
	// PersistSequenceNumbers restores the last stored sequence numbers
	// before the first logon of a session id.
	PersistSequenceNumbers bool

	Username string
	Password string

	ValidateChecksum bool
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{
		BeginString:            "FIX.4.2",
		HeartbeatInterval:      30 * time.Second,
		MinHeartbeat:           1 * time.Second,
		MaxHeartbeat:           120 * time.Second,
		SendingTimeWindow:      2 * time.Minute,
		LogonTimeout:           10 * time.Second,
		LogoutTimeout:          5 * time.Second,
		PersistSequenceNumbers: true,
		ValidateChecksum:       true,
	}
}
