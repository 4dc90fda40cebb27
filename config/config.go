// Package config loads the gateway configuration from a YAML file and
// FIXGW_ prefixed environment variables.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/Zereker/fixgateway/session"
)

// EnvPrefix prefixes every environment override, e.g. FIXGW_SESSION_COMP_ID.
const EnvPrefix = "FIXGW"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the whole gateway configuration.
type Config struct {
	Listen     string            `mapstructure:"listen"`
	Session    SessionConfig     `mapstructure:"session"`
	Buffers    BuffersConfig     `mapstructure:"buffers"`
	Journal    JournalConfig     `mapstructure:"journal"`
	Log        LogConfig         `mapstructure:"log"`
	Metrics    MetricsConfig     `mapstructure:"metrics"`
	NATS       NATSConfig        `mapstructure:"nats"`
	Initiators []InitiatorConfig `mapstructure:"initiators"`
}

type SessionConfig struct {
	BeginString            string        `mapstructure:"begin_string"`
	CompID                 string        `mapstructure:"comp_id"`
	Heartbeat              time.Duration `mapstructure:"heartbeat"`
	MinHeartbeat           time.Duration `mapstructure:"min_heartbeat"`
	MaxHeartbeat           time.Duration `mapstructure:"max_heartbeat"`
	SendingTimeWindow      time.Duration `mapstructure:"sending_time_window"`
	LogonTimeout           time.Duration `mapstructure:"logon_timeout"`
	LogoutTimeout          time.Duration `mapstructure:"logout_timeout"`
	ValidateChecksum       bool          `mapstructure:"validate_checksum"`
	PersistSequenceNumbers bool          `mapstructure:"persist_sequence_numbers"`
}

type BuffersConfig struct {
	// Receive is the largest message a connection can frame.
	Receive   int `mapstructure:"receive"`
	SendQueue int `mapstructure:"send_queue"`
}

type JournalConfig struct {
	// Dir holds the badger database. Empty keeps the journal in memory.
	Dir     string `mapstructure:"dir"`
	Backlog int    `mapstructure:"backlog"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type MetricsConfig struct {
	// Listen is the address of the /metrics endpoint. Empty disables it.
	Listen string `mapstructure:"listen"`
}

type NATSConfig struct {
	// URL of the NATS server. Empty disables event publication.
	URL      string `mapstructure:"url"`
	Subject  string `mapstructure:"subject"`
	// Commands is the subject prefix the gateway takes requests on.
	Commands string `mapstructure:"commands"`
}

// InitiatorConfig describes one outbound session.
type InitiatorConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	SenderCompID string        `mapstructure:"sender_comp_id"`
	TargetCompID string        `mapstructure:"target_comp_id"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	ResetSeqNum  bool          `mapstructure:"reset_seq_num"`
	Heartbeat    time.Duration `mapstructure:"heartbeat"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":9880")

	v.SetDefault("session.begin_string", "FIX.4.2")
	v.SetDefault("session.comp_id", "")
	v.SetDefault("session.heartbeat", 30*time.Second)
	v.SetDefault("session.min_heartbeat", time.Second)
	v.SetDefault("session.max_heartbeat", 120*time.Second)
	v.SetDefault("session.sending_time_window", 2*time.Minute)
	v.SetDefault("session.logon_timeout", 10*time.Second)
	v.SetDefault("session.logout_timeout", 5*time.Second)
	v.SetDefault("session.validate_checksum", true)
	v.SetDefault("session.persist_sequence_numbers", true)

	v.SetDefault("buffers.receive", 64*1024)
	v.SetDefault("buffers.send_queue", 256)

	v.SetDefault("journal.dir", "")
	v.SetDefault("journal.backlog", 1024)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("metrics.listen", "")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "fixgw.events")
	v.SetDefault("nats.commands", "fixgw.commands")
}

// Load reads path, applies environment overrides and validates the result.
// An empty path uses defaults and the environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "reading config %s", path)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the values Load cannot default.
func (c *Config) Validate() error {
	s := c.Session
	switch {
	case c.Listen == "" && len(c.Initiators) == 0:
		return errors.Wrap(ErrInvalid, "nothing to do: no listen address and no initiators")
	case s.BeginString == "":
		return errors.Wrap(ErrInvalid, "session.begin_string is empty")
	case c.Listen != "" && s.CompID == "":
		return errors.Wrap(ErrInvalid, "session.comp_id is required to accept connections")
	case s.MinHeartbeat > s.MaxHeartbeat:
		return errors.Wrapf(ErrInvalid, "session.min_heartbeat %s above session.max_heartbeat %s", s.MinHeartbeat, s.MaxHeartbeat)
	case s.Heartbeat < s.MinHeartbeat || s.Heartbeat > s.MaxHeartbeat:
		return errors.Wrapf(ErrInvalid, "session.heartbeat %s outside [%s, %s]", s.Heartbeat, s.MinHeartbeat, s.MaxHeartbeat)
	case c.Buffers.Receive < 128:
		return errors.Wrapf(ErrInvalid, "buffers.receive %d too small", c.Buffers.Receive)
	case c.Buffers.SendQueue < 1:
		return errors.Wrapf(ErrInvalid, "buffers.send_queue %d must be positive", c.Buffers.SendQueue)
	}

	for i, in := range c.Initiators {
		switch {
		case in.Host == "" || in.Port <= 0:
			return errors.Wrapf(ErrInvalid, "initiators[%d]: host and port are required", i)
		case in.SenderCompID == "" || in.TargetCompID == "":
			return errors.Wrapf(ErrInvalid, "initiators[%d]: sender_comp_id and target_comp_id are required", i)
		}
	}
	return nil
}

// AcceptorSession returns the session settings for accepted connections.
func (c *Config) AcceptorSession() session.Config {
	s := c.Session
	return session.Config{
		BeginString:            s.BeginString,
		SenderCompID:           s.CompID,
		HeartbeatInterval:      s.Heartbeat,
		MinHeartbeat:           s.MinHeartbeat,
		MaxHeartbeat:           s.MaxHeartbeat,
		SendingTimeWindow:      s.SendingTimeWindow,
		LogonTimeout:           s.LogonTimeout,
		LogoutTimeout:          s.LogoutTimeout,
		PersistSequenceNumbers: s.PersistSequenceNumbers,
		ValidateChecksum:       s.ValidateChecksum,
	}
}

// InitiatorSession returns the session settings for one outbound session.
func (c *Config) InitiatorSession(in InitiatorConfig) session.Config {
	cfg := c.AcceptorSession()
	cfg.SenderCompID = in.SenderCompID
	cfg.TargetCompID = in.TargetCompID
	cfg.Username = in.Username
	cfg.Password = in.Password
	cfg.ResetSeqNum = in.ResetSeqNum
	cfg.PersistSequenceNumbers = cfg.PersistSequenceNumbers && !in.ResetSeqNum
	if in.Heartbeat > 0 {
		cfg.HeartbeatInterval = in.Heartbeat
	}
	return cfg
}
