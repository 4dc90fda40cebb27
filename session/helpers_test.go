package session

import (
	"sync"
	"time"

	"github.com/Zereker/fixgateway/protocol"
)

type sentMessage struct {
	msgType   string
	seq       int
	heartbeat time.Duration
	reset     bool
	username  string
	testReqID string
	begin     int
	end       int
	newSeqNo  int
	gapFill   bool
	refSeqNum int
	text      string
}

// recordingProxy records every message the session asks it to send.
type recordingProxy struct {
	setups []Key
	sent   []sentMessage
}

func (p *recordingProxy) SetupSession(_ int64, key Key) {
	p.setups = append(p.setups, key)
}

func (p *recordingProxy) Logon(hb time.Duration, seq int, reset bool, username, _ string) error {
	p.sent = append(p.sent, sentMessage{msgType: "A", seq: seq, heartbeat: hb, reset: reset, username: username})
	return nil
}

func (p *recordingProxy) Heartbeat(seq int, testReqID []byte) error {
	p.sent = append(p.sent, sentMessage{msgType: "0", seq: seq, testReqID: string(testReqID)})
	return nil
}

func (p *recordingProxy) TestRequest(seq int, testReqID string) error {
	p.sent = append(p.sent, sentMessage{msgType: "1", seq: seq, testReqID: testReqID})
	return nil
}

func (p *recordingProxy) ResendRequest(seq, begin, end int) error {
	p.sent = append(p.sent, sentMessage{msgType: "2", seq: seq, begin: begin, end: end})
	return nil
}

func (p *recordingProxy) SequenceReset(seq, newSeqNo int, gapFill bool) error {
	p.sent = append(p.sent, sentMessage{msgType: "4", seq: seq, newSeqNo: newSeqNo, gapFill: gapFill})
	return nil
}

func (p *recordingProxy) Reject(seq, refSeqNum int, text string) error {
	p.sent = append(p.sent, sentMessage{msgType: "3", seq: seq, refSeqNum: refSeqNum, text: text})
	return nil
}

func (p *recordingProxy) Logout(seq int, text string) error {
	p.sent = append(p.sent, sentMessage{msgType: "5", seq: seq, text: text})
	return nil
}

func (p *recordingProxy) count(msgType string) int {
	n := 0
	for _, m := range p.sent {
		if m.msgType == msgType {
			n++
		}
	}
	return n
}

func (p *recordingProxy) last() sentMessage {
	return p.sent[len(p.sent)-1]
}

// memoryJournal is a minimal Journal for tests.
type memoryJournal struct {
	mu        sync.Mutex
	logons    [][2]int64
	ids       map[Key]int64
	sequences map[int64][2]int
}

func newMemoryJournal() *memoryJournal {
	return &memoryJournal{ids: make(map[Key]int64), sequences: make(map[int64][2]int)}
}

func (j *memoryJournal) SaveLogon(connectionID, sessionID int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.logons = append(j.logons, [2]int64{connectionID, sessionID})
}

func (j *memoryJournal) SessionID(sender, target string) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	key := Key{SenderCompID: sender, TargetCompID: target}
	if id, ok := j.ids[key]; ok {
		return id, nil
	}
	id := int64(len(j.ids) + 1)
	j.ids[key] = id
	return id, nil
}

func (j *memoryJournal) LoadSequenceNumbers(id int64) (int, int, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	seq, ok := j.sequences[id]
	return seq[0], seq[1], ok, nil
}

func (j *memoryJournal) SaveSequenceNumbers(id int64, nextSent, nextReceived int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.sequences[id] = [2]int{nextSent, nextReceived}
	return nil
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// eventRecorder collects protocol notifications.
type eventRecorder struct {
	logons []protocol.Logon
	errors []protocol.Error
}

func (r *eventRecorder) handler() protocol.Handler {
	return protocol.Handler{
		OnLogon: func(e protocol.Logon) { r.logons = append(r.logons, e) },
		OnError: func(e protocol.Error) { r.errors = append(r.errors, e) },
	}
}

type fixture struct {
	session      *Session
	proxy        *recordingProxy
	journal      *memoryJournal
	clock        *fakeClock
	events       *eventRecorder
	disconnected []string
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SenderCompID = "GATEWAY"
	return cfg
}

func newFixture(role Role, cfg Config, opts ...Option) *fixture {
	f := &fixture{
		proxy:   &recordingProxy{},
		journal: newMemoryJournal(),
		clock:   newFakeClock(),
		events:  &eventRecorder{},
	}
	all := append([]Option{
		ConfigOption(cfg),
		JournalOption(f.journal),
		EventsOption(f.events.handler()),
		ClockOption(f.clock.Now),
		OnDisconnectOption(func(reason string) { f.disconnected = append(f.disconnected, reason) }),
	}, opts...)
	f.session = New(role, 7, f.proxy, all...)
	return f
}

func (f *fixture) logon(seq int) Logon {
	return Logon{
		HeartbeatInterval: 30 * time.Second,
		MsgSeqNum:         seq,
		SessionID:         42,
		Key:               Key{SenderCompID: "GATEWAY", TargetCompID: "CLIENT"},
		SendingTime:       f.clock.Now(),
	}
}

func (f *fixture) header(msgType string, seq int) Header {
	return Header{MsgType: msgType, MsgSeqNum: seq, SendingTime: f.clock.Now()}
}
