package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/fixgateway/protocol"
)

func TestAcceptor_LogonEqualSequence(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())
	s := f.session
	prior := s.NextSentSeqNum()

	s.OnLogon(f.logon(1))

	assert.Equal(t, Active, s.State())
	require.Len(t, f.proxy.sent, 1)
	ack := f.proxy.sent[0]
	assert.Equal(t, "A", ack.msgType)
	assert.Equal(t, prior, ack.seq)
	assert.Equal(t, 30*time.Second, ack.heartbeat)
	assert.Equal(t, prior+1, s.NextSentSeqNum())
	assert.Equal(t, 2, s.ExpectedReceivedSeqNum())
	assert.Equal(t, 30*time.Second, s.HeartbeatInterval())

	assert.Equal(t, [][2]int64{{7, 42}}, f.journal.logons)
	assert.Equal(t, []Key{{SenderCompID: "GATEWAY", TargetCompID: "CLIENT"}}, f.proxy.setups)
	require.Len(t, f.events.logons, 1)
	assert.Equal(t, int64(42), f.events.logons[0].SessionID)
	assert.Equal(t, 1, f.events.logons[0].LastSentSeqNum)
	assert.Equal(t, 1, f.events.logons[0].LastReceivedSeqNum)
}

func TestAcceptor_LogonHigherSequence(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())
	s := f.session

	s.OnLogon(f.logon(5))

	assert.Equal(t, AwaitingResend, s.State())
	assert.Equal(t, 1, f.proxy.count("A"))
	require.Len(t, f.proxy.sent, 2)
	assert.Equal(t, sentMessage{msgType: "2", seq: 2, begin: 1, end: 0}, f.proxy.sent[1])
	assert.Equal(t, 1, s.ExpectedReceivedSeqNum())
	assert.Len(t, f.journal.logons, 1)

	// gap fill covering everything up to and including the logon
	s.onSequenceReset(Header{MsgType: "4", MsgSeqNum: 1, PossDup: true, NewSeqNo: 6})

	assert.Equal(t, Active, s.State())
	assert.Equal(t, 6, s.ExpectedReceivedSeqNum())
}

func TestAcceptor_LogonLowerSequence(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())
	s := f.session
	require.NoError(t, s.RestoreSequenceNumbers(1, 10))

	s.OnLogon(f.logon(3))

	assert.Equal(t, Disconnected, s.State())
	require.Len(t, f.proxy.sent, 1)
	assert.Equal(t, "5", f.proxy.sent[0].msgType)
	assert.Contains(t, f.proxy.sent[0].text, "too low")
	require.Len(t, f.events.errors, 1)
	assert.Equal(t, protocol.ErrorSequenceNumber, f.events.errors[0].Kind)
	assert.Len(t, f.disconnected, 1)
	assert.Empty(t, f.journal.logons)
	assert.Equal(t, [2]int{2, 10}, f.journal.sequences[42])
}

func TestAcceptor_LogonValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(l *Logon)
	}{
		{"heartbeat below minimum", func(l *Logon) { l.HeartbeatInterval = 0 }},
		{"heartbeat above maximum", func(l *Logon) { l.HeartbeatInterval = 200 * time.Second }},
		{"sending time too old", func(l *Logon) { l.SendingTime = l.SendingTime.Add(-5 * time.Minute) }},
		{"sending time in the future", func(l *Logon) { l.SendingTime = l.SendingTime.Add(5 * time.Minute) }},
		{"wrong comp id", func(l *Logon) { l.Key.SenderCompID = "OTHER" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Acceptor{}, testConfig())
			l := f.logon(1)
			tt.modify(&l)

			f.session.OnLogon(l)

			assert.Equal(t, Disconnected, f.session.State())
			require.Len(t, f.proxy.sent, 1)
			assert.Equal(t, "5", f.proxy.sent[0].msgType)
			require.Len(t, f.events.errors, 1)
			assert.Equal(t, protocol.ErrorLogonRejected, f.events.errors[0].Kind)
			assert.Empty(t, f.events.logons)
			assert.Empty(t, f.journal.logons)
		})
	}
}

func TestAcceptor_LogonResetSeqNum(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())
	s := f.session
	require.NoError(t, s.RestoreSequenceNumbers(10, 10))

	l := f.logon(1)
	l.ResetSeqNum = true
	s.OnLogon(l)

	assert.Equal(t, Active, s.State())
	require.Len(t, f.proxy.sent, 1)
	assert.Equal(t, 1, f.proxy.sent[0].seq)
	assert.True(t, f.proxy.sent[0].reset)
	assert.Equal(t, 2, s.NextSentSeqNum())
	assert.Equal(t, 2, s.ExpectedReceivedSeqNum())
}

func TestSession_SecondLogonOnlySequences(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())
	s := f.session
	s.OnLogon(f.logon(1))

	s.OnLogon(f.logon(2))

	assert.Equal(t, Active, s.State())
	assert.Len(t, f.proxy.sent, 1)
	assert.Len(t, f.events.logons, 1)
	assert.Equal(t, 3, s.ExpectedReceivedSeqNum())
	assert.Equal(t, ErrLoggedOn, s.RestoreSequenceNumbers(5, 5))
}

func TestSession_GapRecovery(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())
	s := f.session
	s.OnLogon(f.logon(1))

	s.onHeartbeat(f.header("0", 4))
	assert.Equal(t, AwaitingResend, s.State())
	assert.Equal(t, sentMessage{msgType: "2", seq: 2, begin: 2, end: 0}, f.proxy.last())

	s.onHeartbeat(f.header("0", 5))
	assert.Equal(t, 1, f.proxy.count("2"), "only one resend request per gap")

	for seq := 2; seq <= 5; seq++ {
		h := f.header("0", seq)
		h.PossDup = true
		s.onHeartbeat(h)
		if seq < 5 {
			assert.Equal(t, AwaitingResend, s.State(), "seq %d", seq)
		}
	}
	assert.Equal(t, Active, s.State())
	assert.Equal(t, 6, s.ExpectedReceivedSeqNum())
}

func TestSession_LowSequenceNumber(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())
	s := f.session
	s.OnLogon(f.logon(1))
	s.onHeartbeat(f.header("0", 2))

	dup := f.header("0", 1)
	dup.PossDup = true
	s.onHeartbeat(dup)
	assert.Equal(t, Active, s.State())
	assert.Equal(t, 3, s.ExpectedReceivedSeqNum())
	assert.Len(t, f.proxy.sent, 1)

	s.onHeartbeat(f.header("0", 1))
	assert.Equal(t, Disconnected, s.State())
	assert.Equal(t, "5", f.proxy.last().msgType)
	require.Len(t, f.events.errors, 1)
	assert.Equal(t, protocol.ErrorSequenceNumber, f.events.errors[0].Kind)
}

func TestSession_SequenceResetMode(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())
	s := f.session
	s.OnLogon(f.logon(1))

	s.onSequenceReset(Header{MsgType: "4", MsgSeqNum: 9, NewSeqNo: 1, Reset: true})
	assert.Equal(t, "3", f.proxy.last().msgType)
	assert.Equal(t, 9, f.proxy.last().refSeqNum)
	assert.Equal(t, 2, s.ExpectedReceivedSeqNum())

	s.onSequenceReset(Header{MsgType: "4", MsgSeqNum: 9, NewSeqNo: 10, Reset: true})
	assert.Equal(t, 10, s.ExpectedReceivedSeqNum())
	assert.Equal(t, Active, s.State())
}

func TestSession_TestRequest(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())
	s := f.session
	s.OnLogon(f.logon(1))

	s.onTestRequest(f.header("1", 2), []byte("PING"))

	assert.Equal(t, sentMessage{msgType: "0", seq: 2, testReqID: "PING"}, f.proxy.last())
}

func TestSession_ResendRequestGapFills(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())
	s := f.session
	s.OnLogon(f.logon(1))

	s.onResendRequest(f.header("2", 2), 1, 0)

	assert.Equal(t, sentMessage{msgType: "4", seq: 1, newSeqNo: 2, gapFill: true}, f.proxy.last())
	assert.Equal(t, 2, s.NextSentSeqNum())

	s.onResendRequest(f.header("2", 3), 5, 0)
	assert.Len(t, f.proxy.sent, 2)
}

func TestSession_LogoutReceived(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())
	s := f.session
	s.OnLogon(f.logon(1))

	s.onLogout(f.header("5", 2), []byte("bye"))

	assert.Equal(t, sentMessage{msgType: "5", seq: 2}, f.proxy.last())
	assert.Equal(t, Disconnected, s.State())
	assert.Contains(t, s.DisconnectReason(), "bye")
	assert.Len(t, f.disconnected, 1)
	assert.Equal(t, [2]int{3, 3}, f.journal.sequences[42])
}

func TestSession_ApplicationMessages(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())
	s := f.session
	s.OnLogon(f.logon(1))

	assert.True(t, s.onApplication(f.header("D", 2)))
	assert.False(t, s.onApplication(f.header("D", 4)))
	assert.Equal(t, AwaitingResend, s.State())
}

func TestSession_LogonTimeout(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())
	s := f.session

	f.clock.Advance(9 * time.Second)
	s.Poll(f.clock.Now())
	assert.Equal(t, Connected, s.State())

	f.clock.Advance(time.Second)
	s.Poll(f.clock.Now())
	assert.Equal(t, Disconnected, s.State())
	assert.Empty(t, f.proxy.sent)
}

func TestSession_HeartbeatAndTestRequest(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())
	s := f.session
	s.OnLogon(f.logon(1))

	f.clock.Advance(30 * time.Second)
	s.Poll(f.clock.Now())
	assert.Equal(t, sentMessage{msgType: "0", seq: 2}, f.proxy.last())

	f.clock.Advance(6 * time.Second)
	s.Poll(f.clock.Now())
	testRequest := f.proxy.last()
	assert.Equal(t, "1", testRequest.msgType)
	assert.Equal(t, 3, testRequest.seq)
	assert.NotEmpty(t, testRequest.testReqID)

	f.clock.Advance(30 * time.Second)
	s.Poll(f.clock.Now())
	assert.Equal(t, Disconnected, s.State())
	require.Len(t, f.events.errors, 1)
	assert.Equal(t, protocol.ErrorHeartbeatTimeout, f.events.errors[0].Kind)
}

func TestSession_InboundTrafficAnswersTestRequest(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())
	s := f.session
	s.OnLogon(f.logon(1))

	f.clock.Advance(36 * time.Second)
	s.Poll(f.clock.Now())
	require.Equal(t, 1, f.proxy.count("1"))

	f.clock.Advance(4 * time.Second)
	s.onHeartbeat(f.header("0", 2))

	f.clock.Advance(26 * time.Second)
	s.Poll(f.clock.Now())
	assert.Equal(t, Active, s.State())
	assert.Empty(t, f.events.errors)
	assert.Equal(t, 1, f.proxy.count("1"))
}

func TestSession_Logout(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())
	s := f.session
	s.OnLogon(f.logon(1))

	s.Logout("end of day")
	assert.Equal(t, sentMessage{msgType: "5", seq: 2, text: "end of day"}, f.proxy.last())
	assert.Equal(t, Active, s.State())

	s.Logout("again")
	assert.Equal(t, 1, f.proxy.count("5"))

	f.clock.Advance(4 * time.Second)
	s.Poll(f.clock.Now())
	assert.Equal(t, Active, s.State())

	f.clock.Advance(time.Second)
	s.Poll(f.clock.Now())
	assert.Equal(t, Disconnected, s.State())
	assert.Equal(t, "logout not acknowledged", s.DisconnectReason())
}

func TestSession_LogoutBeforeLogon(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())

	f.session.Logout("shutdown")

	assert.Equal(t, Disconnected, f.session.State())
	assert.Empty(t, f.proxy.sent)
}

func TestSession_DisconnectOnce(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())
	s := f.session
	s.OnLogon(f.logon(1))

	s.Disconnect("first")
	s.Disconnect("second")

	assert.Equal(t, []string{"first"}, f.disconnected)
	assert.Equal(t, "first", s.DisconnectReason())
	assert.Equal(t, [2]int{2, 2}, f.journal.sequences[42])
}

func TestInitiator_Handshake(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SenderCompID = "CLIENT"
	cfg.TargetCompID = "GATEWAY"
	cfg.ResetSeqNum = true
	cfg.Username = "user"
	f := newFixture(Initiator{}, cfg)
	s := f.session

	s.Start()

	require.Len(t, f.proxy.sent, 1)
	assert.Equal(t, sentMessage{msgType: "A", seq: 1, heartbeat: 30 * time.Second, reset: true, username: "user"}, f.proxy.sent[0])
	assert.Equal(t, []Key{{SenderCompID: "CLIENT", TargetCompID: "GATEWAY"}}, f.proxy.setups)
	assert.Equal(t, Connected, s.State())

	s.OnLogon(Logon{
		HeartbeatInterval: 30 * time.Second,
		MsgSeqNum:         1,
		SessionID:         3,
		Key:               Key{SenderCompID: "CLIENT", TargetCompID: "GATEWAY"},
		SendingTime:       f.clock.Now(),
		ResetSeqNum:       true,
	})

	assert.Equal(t, Active, s.State())
	assert.Len(t, f.proxy.sent, 1, "initiator does not acknowledge the acknowledgement")
	assert.Equal(t, 2, s.NextSentSeqNum())
	assert.Equal(t, 2, s.ExpectedReceivedSeqNum())
	assert.Equal(t, protocol.Initiator, s.Role().Type())
}

func TestSession_Snapshot(t *testing.T) {
	f := newFixture(Acceptor{}, testConfig())
	s := f.session
	assert.Equal(t, Connected, s.Snapshot().State)

	s.OnLogon(f.logon(1))

	snap := s.Snapshot()
	assert.Equal(t, int64(7), snap.ConnectionID)
	assert.Equal(t, int64(42), snap.SessionID)
	assert.Equal(t, Active, snap.State)
	assert.Equal(t, "ACCEPTOR", snap.Role)
	assert.Equal(t, 2, snap.ExpectedReceivedSeqNum)
	assert.Equal(t, 2, snap.NextSentSeqNum)
	assert.Equal(t, 30*time.Second, snap.HeartbeatInterval)
	assert.Equal(t, "GATEWAY->CLIENT", snap.Key.String())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CONNECTED", Connected.String())
	assert.Equal(t, "AWAITING_RESEND", AwaitingResend.String())
	assert.Equal(t, "State(9)", State(9).String())
	assert.True(t, Active.LoggedOn())
	assert.False(t, Disconnected.LoggedOn())
}
