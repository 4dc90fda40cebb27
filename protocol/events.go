// Package protocol defines the notifications exchanged between the session
// layer and the processes built on top of it.
//
// Every notification is an independently optional hook on Handler. A Handler
// that does not set a hook silently ignores that notification.
package protocol

import (
	"fmt"
	"time"
)

// ConnectionType tells which side opened the TCP connection.
type ConnectionType int

const (
	// Acceptor means the counterparty connected to us.
	Acceptor ConnectionType = iota
	// Initiator means we connected to the counterparty.
	Initiator
)

func (t ConnectionType) String() string {
	switch t {
	case Acceptor:
		return "ACCEPTOR"
	case Initiator:
		return "INITIATOR"
	}
	return fmt.Sprintf("ConnectionType(%d)", int(t))
}

// ErrorKind classifies errors reported through OnError.
type ErrorKind int

const (
	// ErrorException is an unexpected failure.
	ErrorException ErrorKind = iota
	// ErrorUnableToConnect means an outbound connection could not be established.
	ErrorUnableToConnect
	// ErrorUnknownSession means a request referenced a connection that does not exist.
	ErrorUnknownSession
	// ErrorInvalidMessage means inbound bytes could not be framed or decoded.
	ErrorInvalidMessage
	// ErrorLogonRejected means a logon failed validation.
	ErrorLogonRejected
	// ErrorSequenceNumber means the counterparty's sequence numbers are behind ours.
	ErrorSequenceNumber
	// ErrorSessionReject means the counterparty rejected one of our messages.
	ErrorSessionReject
	// ErrorHeartbeatTimeout means the counterparty stopped answering.
	ErrorHeartbeatTimeout
)

var errorKindNames = map[ErrorKind]string{
	ErrorException:        "EXCEPTION",
	ErrorUnableToConnect:  "UNABLE_TO_CONNECT",
	ErrorUnknownSession:   "UNKNOWN_SESSION",
	ErrorInvalidMessage:   "INVALID_MESSAGE",
	ErrorLogonRejected:    "LOGON_REJECTED",
	ErrorSequenceNumber:   "SEQUENCE_NUMBER",
	ErrorSessionReject:    "SESSION_REJECT",
	ErrorHeartbeatTimeout: "HEARTBEAT_TIMEOUT",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// SessionReplyStatus answers a release or request session call.
type SessionReplyStatus int

const (
	// ReplyOK means the request was carried out.
	ReplyOK SessionReplyStatus = iota
	// ReplyUnknownSession means the connection id is not known.
	ReplyUnknownSession
	// ReplyOtherSessionOwner means another library owns the session.
	ReplyOtherSessionOwner
	// ReplySessionNotLoggedIn means the session has not completed logon.
	ReplySessionNotLoggedIn
)

func (s SessionReplyStatus) String() string {
	switch s {
	case ReplyOK:
		return "OK"
	case ReplyUnknownSession:
		return "UNKNOWN_SESSION"
	case ReplyOtherSessionOwner:
		return "OTHER_SESSION_OWNER"
	case ReplySessionNotLoggedIn:
		return "SESSION_NOT_LOGGED_IN"
	}
	return fmt.Sprintf("SessionReplyStatus(%d)", int(s))
}

// SequenceNumberType selects how an initiated session numbers its messages.
type SequenceNumberType int

const (
	// SequenceTransient restarts sequence numbers on every connection.
	SequenceTransient SequenceNumberType = iota
	// SequencePersistent continues from the last stored sequence numbers.
	SequencePersistent
)

// ManageConnection announces a connection that the session layer now drives.
type ManageConnection struct {
	LibraryID          int            `json:"libraryId"`
	ConnectionID       int64          `json:"connectionId"`
	Type               ConnectionType `json:"type"`
	LastSentSeqNum     int            `json:"lastSentSeqNum"`
	LastReceivedSeqNum int            `json:"lastReceivedSeqNum"`
	Address            string         `json:"address"`
	State              string         `json:"state"`
}

// Logon reports a completed logon handshake.
type Logon struct {
	LibraryID          int    `json:"libraryId"`
	ConnectionID       int64  `json:"connectionId"`
	SessionID          int64  `json:"sessionId"`
	LastSentSeqNum     int    `json:"lastSentSeqNum"`
	LastReceivedSeqNum int    `json:"lastReceivedSeqNum"`
	SenderCompID       string `json:"senderCompId"`
	SenderSubID        string `json:"senderSubId,omitempty"`
	SenderLocationID   string `json:"senderLocationId,omitempty"`
	TargetCompID       string `json:"targetCompId"`
	Username           string `json:"username,omitempty"`
	Password           string `json:"-"`
}

// InitiateConnection asks the gateway to connect to a counterparty.
type InitiateConnection struct {
	LibraryID              int                `json:"libraryId"`
	Port                   int                `json:"port"`
	Host                   string             `json:"host"`
	SenderCompID           string             `json:"senderCompId"`
	SenderSubID            string             `json:"senderSubId,omitempty"`
	SenderLocationID       string             `json:"senderLocationId,omitempty"`
	TargetCompID           string             `json:"targetCompId"`
	SequenceNumberType     SequenceNumberType `json:"sequenceNumberType"`
	RequestedInitialSeqNum int                `json:"requestedInitialSeqNum,omitempty"`
	Username               string             `json:"username,omitempty"`
	Password               string             `json:"password,omitempty"`
}

// RequestDisconnect asks the gateway to log out and close a connection.
type RequestDisconnect struct {
	LibraryID    int   `json:"libraryId"`
	ConnectionID int64 `json:"connectionId"`
}

// Error reports a failure to the owning library.
type Error struct {
	Kind      ErrorKind `json:"kind"`
	LibraryID int       `json:"libraryId"`
	Message   string    `json:"message"`
}

// ApplicationHeartbeat is a liveness signal from a library.
type ApplicationHeartbeat struct {
	LibraryID int       `json:"libraryId"`
	Time      time.Time `json:"time"`
}

// LibraryConnect announces a library.
type LibraryConnect struct {
	LibraryID int            `json:"libraryId"`
	Type      ConnectionType `json:"type"`
}

// ReleaseSession hands a session back to the gateway.
type ReleaseSession struct {
	LibraryID         int           `json:"libraryId"`
	ConnectionID      int64         `json:"connectionId"`
	CorrelationID     int64         `json:"correlationId"`
	State             string        `json:"state"`
	HeartbeatInterval time.Duration `json:"heartbeatInterval"`
}

// RequestSession asks the gateway for ownership of a session.
type RequestSession struct {
	LibraryID     int   `json:"libraryId"`
	ConnectionID  int64 `json:"connectionId"`
	CorrelationID int64 `json:"correlationId"`
}

// SessionReply answers ReleaseSession and RequestSession.
type SessionReply struct {
	CorrelationID int64              `json:"correlationId"`
	Status        SessionReplyStatus `json:"status"`
}
