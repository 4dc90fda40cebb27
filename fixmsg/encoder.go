package fixmsg

import (
	"strconv"
	"time"
)

// UTCTimestampFormat is the millisecond precision UTCTimestamp layout.
const UTCTimestampFormat = "20060102-15:04:05.000"

// Encoder builds complete messages with a correct body length and checksum.
// It is not safe for concurrent use.
type Encoder struct {
	beginString  string
	senderCompID string
	targetCompID string

	body []byte
}

// NewEncoder creates an Encoder for the given begin string.
func NewEncoder(beginString string) *Encoder {
	return &Encoder{
		beginString: beginString,
		body:        make([]byte, 0, 256),
	}
}

// SetCompIDs sets the identities written into every header.
func (e *Encoder) SetCompIDs(senderCompID, targetCompID string) {
	e.senderCompID = senderCompID
	e.targetCompID = targetCompID
}

// CompIDs returns the identities written into every header.
func (e *Encoder) CompIDs() (string, string) {
	return e.senderCompID, e.targetCompID
}

// Begin starts a new message with the standard header.
func (e *Encoder) Begin(msgType string, msgSeqNum int, sendingTime time.Time) *Encoder {
	e.body = e.body[:0]
	e.String(TagMsgType, msgType)
	if e.senderCompID != "" {
		e.String(TagSenderCompID, e.senderCompID)
	}
	if e.targetCompID != "" {
		e.String(TagTargetCompID, e.targetCompID)
	}
	e.Int(TagMsgSeqNum, msgSeqNum)
	e.Time(TagSendingTime, sendingTime)
	return e
}

// String appends a string field.
func (e *Encoder) String(tag int, value string) *Encoder {
	e.body = strconv.AppendInt(e.body, int64(tag), 10)
	e.body = append(e.body, '=')
	e.body = append(e.body, value...)
	e.body = append(e.body, SOH)
	return e
}

// Int appends an integer field.
func (e *Encoder) Int(tag, value int) *Encoder {
	e.body = strconv.AppendInt(e.body, int64(tag), 10)
	e.body = append(e.body, '=')
	e.body = strconv.AppendInt(e.body, int64(value), 10)
	e.body = append(e.body, SOH)
	return e
}

// Bool appends a Y/N field.
func (e *Encoder) Bool(tag int, value bool) *Encoder {
	if value {
		return e.String(tag, "Y")
	}
	return e.String(tag, "N")
}

// Time appends a UTCTimestamp field.
func (e *Encoder) Time(tag int, value time.Time) *Encoder {
	e.body = strconv.AppendInt(e.body, int64(tag), 10)
	e.body = append(e.body, '=')
	e.body = value.UTC().AppendFormat(e.body, UTCTimestampFormat)
	e.body = append(e.body, SOH)
	return e
}

// Finish returns the complete message in a newly allocated slice, so the
// result may be queued while the encoder is reused.
func (e *Encoder) Finish() []byte {
	length := strconv.Itoa(len(e.body))
	size := len("8=") + len(e.beginString) + len("\x019=") + len(length) + 1 + len(e.body) + len("10=000\x01")

	out := make([]byte, 0, size)
	out = append(out, "8="...)
	out = append(out, e.beginString...)
	out = append(out, SOH)
	out = append(out, "9="...)
	out = append(out, length...)
	out = append(out, SOH)
	out = append(out, e.body...)

	sum := Checksum(out)
	out = append(out, "10="...)
	out = append(out, byte('0'+sum/100), byte('0'+sum/10%10), byte('0'+sum%10))
	out = append(out, SOH)
	return out
}
