package session

import (
	"log/slog"
	"time"

	"github.com/Zereker/fixgateway/protocol"
)

// options holds the collaborators of a session.
type options struct {
	config      Config
	journal     Journal
	events      protocol.Handler
	application Application
	logger      Logger
	clock       func() time.Time

	// onDisconnect is called once, after the session became Disconnected.
	onDisconnect func(reason string)
}

// Option is a function that configures a session.
type Option func(*options)

func defaultOptions() options {
	return options{
		config:  DefaultConfig(),
		journal: nopJournal{},
		logger:  slog.Default(),
		clock:   time.Now,
	}
}

// ConfigOption returns an Option that sets the protocol settings.
func ConfigOption(cfg Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// JournalOption returns an Option that sets the durable log, session id
// strategy and sequence number store.
func JournalOption(j Journal) Option {
	return func(o *options) {
		o.journal = j
	}
}

// EventsOption returns an Option that sets the protocol notification sink.
func EventsOption(h protocol.Handler) Option {
	return func(o *options) {
		o.events = h
	}
}

// ApplicationOption returns an Option that sets the receiver of
// application messages.
func ApplicationOption(app Application) Option {
	return func(o *options) {
		o.application = app
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// ClockOption returns an Option that sets the time source.
func ClockOption(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// OnDisconnectOption returns an Option that sets the callback run once the
// session is disconnected. The owner of the transport closes it there.
func OnDisconnectOption(cb func(reason string)) Option {
	return func(o *options) {
		o.onDisconnect = cb
	}
}
