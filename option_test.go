package gateway

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Zereker/fixgateway/journal"
	"github.com/Zereker/fixgateway/metrics"
	"github.com/Zereker/fixgateway/protocol"
	"github.com/Zereker/fixgateway/session"
)

func TestBufferSizeOption(t *testing.T) {
	opt := BufferSizeOption(100)

	var opts options
	opt(&opts)

	if opts.bufferSize != 100 {
		t.Errorf("bufferSize = %d, want 100", opts.bufferSize)
	}
}

func TestHeartbeatOption(t *testing.T) {
	heartbeat := time.Millisecond * 500
	opt := HeartbeatOption(heartbeat)

	var opts options
	opt(&opts)

	if opts.heartbeat != heartbeat {
		t.Errorf("heartbeat = %v, want %v", opts.heartbeat, heartbeat)
	}
}

func TestWriteTimeoutOption(t *testing.T) {
	var opts options
	WriteTimeoutOption(time.Second)(&opts)

	if opts.writeTimeout != time.Second {
		t.Errorf("writeTimeout = %v, want 1s", opts.writeTimeout)
	}
}

func TestMessageMaxSize(t *testing.T) {
	opt := MessageMaxSize(4096)

	var opts options
	opt(&opts)

	if opts.maxReadLength != 4096 {
		t.Errorf("maxReadLength = %d, want 4096", opts.maxReadLength)
	}
}

func TestOnErrorOption(t *testing.T) {
	called := false
	opt := OnErrorOption(func(error) ErrorAction {
		called = true
		return Continue
	})

	var opts options
	opt(&opts)

	if opts.onError(nil) != Continue || !called {
		t.Error("onError not set correctly")
	}
}

func TestCollaboratorOptions(t *testing.T) {
	handler := newRecordingHandler()
	j := journal.NewMemory()
	m, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("metrics.New failed: %v", err)
	}
	logons := 0
	events := protocol.Handler{OnLogon: func(protocol.Logon) { logons++ }}
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	logger := &mockLogger{}

	opts := applyOptions([]Option{
		SessionHandlerOption(handler),
		JournalOption(j),
		MetricsOption(m),
		EventsOption(events),
		ClockOption(func() time.Time { return now }),
		LoggerOption(logger),
	})

	if opts.handler != handler {
		t.Error("handler not set")
	}
	if opts.journal != j {
		t.Error("journal not set")
	}
	if opts.metrics != m {
		t.Error("metrics not set")
	}
	opts.events.Logon(protocol.Logon{})
	if logons != 1 {
		t.Error("events not set")
	}
	if !opts.clock().Equal(now) {
		t.Error("clock not set")
	}
	if opts.logger != logger {
		t.Error("logger not set")
	}
}

func TestSessionConfigOption(t *testing.T) {
	if opts := applyOptions(nil); opts.sessionConfig != session.DefaultConfig() {
		t.Errorf("default session config = %+v", opts.sessionConfig)
	}

	cfg := acceptorConfig()
	cfg.LibraryID = 7
	opts := applyOptions([]Option{SessionConfigOption(cfg)})
	if opts.sessionConfig != cfg {
		t.Errorf("sessionConfig = %+v, want %+v", opts.sessionConfig, cfg)
	}
}

func TestErrorAction(t *testing.T) {
	// Test Disconnect constant
	if Disconnect != 0 {
		t.Errorf("Disconnect = %d, want 0", Disconnect)
	}

	// Test Continue constant
	if Continue != 1 {
		t.Errorf("Continue = %d, want 1", Continue)
	}
}
