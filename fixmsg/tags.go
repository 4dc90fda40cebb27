// Package fixmsg decodes and encodes the session level subset of FIX:
// the standard header, Logon, Heartbeat, TestRequest, ResendRequest,
// Reject, SequenceReset and Logout. Application messages are decoded only as
// far as their header.
package fixmsg

// Field tags.
const (
	TagBeginSeqNo          = 7
	TagBeginString         = 8
	TagBodyLength          = 9
	TagCheckSum            = 10
	TagEndSeqNo            = 16
	TagMsgSeqNum           = 34
	TagMsgType             = 35
	TagNewSeqNo            = 36
	TagPossDupFlag         = 43
	TagRefSeqNum           = 45
	TagSenderCompID        = 49
	TagSendingTime         = 52
	TagTargetCompID        = 56
	TagText                = 58
	TagPossResend          = 97
	TagEncryptMethod       = 98
	TagHeartBtInt          = 108
	TagTestReqID           = 112
	TagOrigSendingTime     = 122
	TagGapFillFlag         = 123
	TagResetSeqNumFlag     = 141
	TagSessionRejectReason = 373
	TagUsername            = 553
	TagPassword            = 554
)

// Session level message types.
const (
	MsgTypeHeartbeat     = "0"
	MsgTypeTestRequest   = "1"
	MsgTypeResendRequest = "2"
	MsgTypeReject        = "3"
	MsgTypeSequenceReset = "4"
	MsgTypeLogout        = "5"
	MsgTypeLogon         = "A"
)

// SOH is the field delimiter.
const SOH byte = 0x01

// IsAdmin reports whether msgType is a session level message.
func IsAdmin(msgType string) bool {
	switch msgType {
	case MsgTypeHeartbeat, MsgTypeTestRequest, MsgTypeResendRequest,
		MsgTypeReject, MsgTypeSequenceReset, MsgTypeLogout, MsgTypeLogon:
		return true
	}
	return false
}
