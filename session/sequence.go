package session

import (
	"fmt"

	"github.com/Zereker/fixgateway/protocol"
)

// onMessage is the only place the expected inbound sequence number moves.
// It reports whether the message arrived in sequence and should be acted on.
func (s *Session) onMessage(h Header) bool {
	s.received()

	if h.Reset {
		s.resetSequence(h)
		return true
	}

	expected := s.expectedReceived
	switch {
	case h.MsgSeqNum == expected:
		next := h.MsgSeqNum + 1
		if h.NewSeqNo > next {
			next = h.NewSeqNo
		}
		s.expectedReceived = next
		s.lastSendingTime = h.SendingTime
		s.lastOrigSendingTime = h.OrigSendingTime
		s.lastPossDup = h.PossDup
		s.checkResendComplete()
		return true

	case h.MsgSeqNum > expected:
		if s.state == AwaitingResend {
			if h.MsgSeqNum > s.resendTarget {
				s.resendTarget = h.MsgSeqNum
			}
			return false
		}
		s.setState(AwaitingResend)
		s.requestResend(h.MsgSeqNum)
		return false

	case h.PossDup:
		return false

	default:
		s.logoutAndDisconnect(protocol.ErrorSequenceNumber,
			fmt.Sprintf("MsgSeqNum too low, expecting %d but received %d", expected, h.MsgSeqNum))
		return false
	}
}

// resetSequence applies a SequenceReset in reset mode. The expected number
// only moves forward.
func (s *Session) resetSequence(h Header) {
	if h.NewSeqNo < s.expectedReceived {
		s.sent(s.proxy.Reject(s.newSentSeqNum(), h.MsgSeqNum,
			fmt.Sprintf("NewSeqNo %d lower than expected %d", h.NewSeqNo, s.expectedReceived)))
		return
	}
	s.expectedReceived = h.NewSeqNo
	s.checkResendComplete()
}

// requestResend asks for everything from the expected number onwards and
// remembers the highest number seen so recovery can tell when it is done.
func (s *Session) requestResend(seen int) {
	s.resendTarget = seen
	s.sent(s.proxy.ResendRequest(s.newSentSeqNum(), s.expectedReceived, 0))
}

func (s *Session) checkResendComplete() {
	if s.state == AwaitingResend && s.expectedReceived > s.resendTarget {
		s.setState(Active)
	}
}

// newSentSeqNum returns the next outbound sequence number and consumes it.
func (s *Session) newSentSeqNum() int {
	n := s.nextSent
	s.nextSent++
	return n
}
