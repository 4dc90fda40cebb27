package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

// Event names, used as the last subject token on NATS.
const (
	EventManageConnection     = "manage_connection"
	EventLogon                = "logon"
	EventInitiateConnection   = "initiate_connection"
	EventRequestDisconnect    = "request_disconnect"
	EventError                = "error"
	EventApplicationHeartbeat = "application_heartbeat"
	EventLibraryConnect       = "library_connect"
	EventReleaseSession       = "release_session"
	EventReleaseSessionReply  = "release_session_reply"
	EventRequestSession       = "request_session"
	EventRequestSessionReply  = "request_session_reply"
)

// ErrUnknownEvent is returned by Dispatch for subjects it does not recognise.
var ErrUnknownEvent = errors.New("protocol: unknown event")

// Logger is satisfied by *slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Publisher is the part of *nats.Conn used for publishing.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSPublisher turns notifications into JSON publications on
// <prefix>.<event> subjects.
type NATSPublisher struct {
	conn   Publisher
	prefix string
	logger Logger
}

// NewNATSPublisher creates a publisher. A nil logger means slog.Default().
func NewNATSPublisher(conn Publisher, prefix string, logger Logger) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns the subject an event is published on.
func (p *NATSPublisher) Subject(event string) string {
	return p.prefix + "." + event
}

func (p *NATSPublisher) publish(event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("failed to encode event", "event", event, "error", err)
		return
	}
	if err := p.conn.Publish(p.Subject(event), data); err != nil {
		p.logger.Warn("failed to publish event", "event", event, "error", err)
	}
}

// Handler returns a Handler that publishes every notification.
func (p *NATSPublisher) Handler() Handler {
	return Handler{
		OnManageConnection:     func(e ManageConnection) { p.publish(EventManageConnection, e) },
		OnLogon:                func(e Logon) { p.publish(EventLogon, e) },
		OnInitiateConnection:   func(e InitiateConnection) { p.publish(EventInitiateConnection, e) },
		OnRequestDisconnect:    func(e RequestDisconnect) { p.publish(EventRequestDisconnect, e) },
		OnError:                func(e Error) { p.publish(EventError, e) },
		OnApplicationHeartbeat: func(e ApplicationHeartbeat) { p.publish(EventApplicationHeartbeat, e) },
		OnLibraryConnect:       func(e LibraryConnect) { p.publish(EventLibraryConnect, e) },
		OnReleaseSession:       func(e ReleaseSession) { p.publish(EventReleaseSession, e) },
		OnReleaseSessionReply:  func(e SessionReply) { p.publish(EventReleaseSessionReply, e) },
		OnRequestSession:       func(e RequestSession) { p.publish(EventRequestSession, e) },
		OnRequestSessionReply:  func(e SessionReply) { p.publish(EventRequestSessionReply, e) },
	}
}

// SubscribeNATS delivers every publication under prefix to h.
func SubscribeNATS(nc *nats.Conn, prefix string, h Handler, logger Logger) (*nats.Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return nc.Subscribe(prefix+".>", func(m *nats.Msg) {
		if err := Dispatch(prefix, m.Subject, m.Data, h); err != nil {
			logger.Warn("dropping event", "subject", m.Subject, "error", err)
		}
	})
}

// Dispatch decodes one publication and calls the matching hook of h.
func Dispatch(prefix, subject string, data []byte, h Handler) error {
	event, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		return fmt.Errorf("%w: subject %q outside %q", ErrUnknownEvent, subject, prefix)
	}

	switch event {
	case EventManageConnection:
		return decodeInto(data, h.ManageConnection)
	case EventLogon:
		return decodeInto(data, h.Logon)
	case EventInitiateConnection:
		return decodeInto(data, h.InitiateConnection)
	case EventRequestDisconnect:
		return decodeInto(data, h.RequestDisconnect)
	case EventError:
		return decodeInto(data, h.Error)
	case EventApplicationHeartbeat:
		return decodeInto(data, h.ApplicationHeartbeat)
	case EventLibraryConnect:
		return decodeInto(data, h.LibraryConnect)
	case EventReleaseSession:
		return decodeInto(data, h.ReleaseSession)
	case EventReleaseSessionReply:
		return decodeInto(data, h.ReleaseSessionReply)
	case EventRequestSession:
		return decodeInto(data, h.RequestSession)
	case EventRequestSessionReply:
		return decodeInto(data, h.RequestSessionReply)
	}
	return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
}

func decodeInto[T any](data []byte, deliver func(T)) error {
	var e T
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("protocol: decoding %T: %w", e, err)
	}
	deliver(e)
	return nil
}
