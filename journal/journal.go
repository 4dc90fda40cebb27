// Package journal stores what a gateway must remember across connections:
// logon events, the durable id of every session key and the last sequence
// numbers of each session.
package journal

import (
	"time"

	"github.com/Zereker/fixgateway/session"
)

// LogonRecord is one completed logon.
type LogonRecord struct {
	ConnectionID int64     `json:"connectionId"`
	SessionID    int64     `json:"sessionId"`
	Time         time.Time `json:"time"`
}

// Journal is a session.Journal that can be listed and closed.
type Journal interface {
	session.Journal
	Logons() ([]LogonRecord, error)
	Close() error
}

var (
	_ Journal = (*Memory)(nil)
	_ Journal = (*Badger)(nil)
)

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
