package fixmsg

import (
	"errors"
	"fmt"
	"time"

	"github.com/Zereker/fixgateway/ascii"
)

// Decoding errors.
var (
	// ErrMalformed is returned when a field is not of the form tag=value<SOH>.
	ErrMalformed = errors.New("fixmsg: malformed field")
	// ErrInvalidField is returned when a known field holds an unparseable value.
	ErrInvalidField = errors.New("fixmsg: invalid field value")
	// ErrInvalidTimestamp is returned for values that are not UTCTimestamps.
	ErrInvalidTimestamp = errors.New("fixmsg: invalid UTC timestamp")
)

// Message is the decoded session level view of one framed message.
// Byte slice fields alias the framed bytes and share their lifetime.
type Message struct {
	BeginString  []byte
	MsgType      string
	MsgSeqNum    int
	SenderCompID []byte
	TargetCompID []byte

	SendingTime     time.Time
	OrigSendingTime time.Time
	PossDup         bool
	PossResend      bool

	HeartBtInt  int
	ResetSeqNum bool
	Username    []byte
	Password    []byte

	TestReqID  []byte
	BeginSeqNo int
	EndSeqNo   int
	NewSeqNo   int
	GapFill    bool
	RefSeqNum  int
	Text       []byte

	CheckSum int

	raw            []byte
	checksumOffset int
}

// Raw returns the framed bytes the message was decoded from.
func (m *Message) Raw() []byte {
	return m.raw
}

// ValidChecksum reports whether tag 10 matches the bytes preceding it.
func (m *Message) ValidChecksum() bool {
	if m.checksumOffset <= 0 {
		return false
	}
	return Checksum(m.raw[:m.checksumOffset]) == m.CheckSum
}

// Checksum returns the FIX checksum of b: the byte sum modulo 256.
func Checksum(b []byte) int {
	sum := 0
	for _, c := range b {
		sum += int(c)
	}
	return sum % 256
}

// Decoder walks the fields of a framed message. The zero value is ready to use.
type Decoder struct {
	flyweight ascii.Flyweight
}

// Decode fills m from the framed message in msg. m is reset first.
func (d *Decoder) Decode(msg []byte, m *Message) error {
	*m = Message{raw: msg, checksumOffset: -1}
	d.flyweight.Wrap(msg)

	end := len(msg)
	for pos := 0; pos < end; {
		equals := d.flyweight.Scan(pos, end, '=')
		if equals == ascii.UnknownIndex {
			return fmt.Errorf("%w at offset %d", ErrMalformed, pos)
		}
		tag, err := d.flyweight.GetInt(pos, equals)
		if err != nil {
			return fmt.Errorf("%w: tag at offset %d", ErrMalformed, pos)
		}
		valueEnd := d.flyweight.Scan(equals+1, end, SOH)
		if valueEnd == ascii.UnknownIndex {
			return fmt.Errorf("%w: tag %d not terminated", ErrMalformed, tag)
		}

		if tag == TagCheckSum {
			m.checksumOffset = pos
		}
		if err := d.field(m, tag, equals+1, valueEnd); err != nil {
			return err
		}
		pos = valueEnd + 1
	}
	return nil
}

func (d *Decoder) field(m *Message, tag, start, end int) error {
	var err error
	switch tag {
	case TagBeginString:
		m.BeginString = d.flyweight.Bytes(start, end)
	case TagMsgType:
		m.MsgType = internMsgType(d.flyweight.Bytes(start, end))
	case TagMsgSeqNum:
		m.MsgSeqNum, err = d.flyweight.GetInt(start, end)
	case TagSenderCompID:
		m.SenderCompID = d.flyweight.Bytes(start, end)
	case TagTargetCompID:
		m.TargetCompID = d.flyweight.Bytes(start, end)
	case TagSendingTime:
		m.SendingTime, err = ParseUTCTimestamp(d.flyweight.Bytes(start, end))
	case TagOrigSendingTime:
		m.OrigSendingTime, err = ParseUTCTimestamp(d.flyweight.Bytes(start, end))
	case TagPossDupFlag:
		m.PossDup, err = d.getBool(start, end)
	case TagPossResend:
		m.PossResend, err = d.getBool(start, end)
	case TagHeartBtInt:
		m.HeartBtInt, err = d.flyweight.GetInt(start, end)
	case TagResetSeqNumFlag:
		m.ResetSeqNum, err = d.getBool(start, end)
	case TagUsername:
		m.Username = d.flyweight.Bytes(start, end)
	case TagPassword:
		m.Password = d.flyweight.Bytes(start, end)
	case TagTestReqID:
		m.TestReqID = d.flyweight.Bytes(start, end)
	case TagBeginSeqNo:
		m.BeginSeqNo, err = d.flyweight.GetInt(start, end)
	case TagEndSeqNo:
		m.EndSeqNo, err = d.flyweight.GetInt(start, end)
	case TagNewSeqNo:
		m.NewSeqNo, err = d.flyweight.GetInt(start, end)
	case TagGapFillFlag:
		m.GapFill, err = d.getBool(start, end)
	case TagRefSeqNum:
		m.RefSeqNum, err = d.flyweight.GetInt(start, end)
	case TagText:
		m.Text = d.flyweight.Bytes(start, end)
	case TagCheckSum:
		m.CheckSum, err = d.flyweight.GetInt(start, end)
	}
	if err != nil {
		return fmt.Errorf("%w: tag %d: %v", ErrInvalidField, tag, err)
	}
	return nil
}

func (d *Decoder) getBool(start, end int) (bool, error) {
	if end-start != 1 {
		return false, ascii.ErrNotNumeric
	}
	switch d.flyweight.GetChar(start) {
	case 'Y':
		return true, nil
	case 'N':
		return false, nil
	}
	return false, ascii.ErrNotNumeric
}

// internMsgType avoids allocating for the session level message types.
func internMsgType(b []byte) string {
	if len(b) == 1 {
		switch b[0] {
		case '0':
			return MsgTypeHeartbeat
		case '1':
			return MsgTypeTestRequest
		case '2':
			return MsgTypeResendRequest
		case '3':
			return MsgTypeReject
		case '4':
			return MsgTypeSequenceReset
		case '5':
			return MsgTypeLogout
		case 'A':
			return MsgTypeLogon
		}
	}
	return string(b)
}

// ParseUTCTimestamp parses YYYYMMDD-HH:MM:SS with an optional fraction of
// up to nine digits.
func ParseUTCTimestamp(b []byte) (time.Time, error) {
	if len(b) < 17 || b[8] != '-' || b[11] != ':' || b[14] != ':' {
		return time.Time{}, ErrInvalidTimestamp
	}

	f := ascii.New(b)
	var parts [6]int
	ranges := [6][2]int{{0, 4}, {4, 6}, {6, 8}, {9, 11}, {12, 14}, {15, 17}}
	for i, r := range ranges {
		v, err := f.GetInt(r[0], r[1])
		if err != nil || v < 0 {
			return time.Time{}, ErrInvalidTimestamp
		}
		parts[i] = v
	}

	nanos := 0
	if len(b) > 17 {
		if b[17] != '.' || len(b) == 18 || len(b) > 27 {
			return time.Time{}, ErrInvalidTimestamp
		}
		fraction, err := f.GetInt(18, len(b))
		if err != nil || fraction < 0 {
			return time.Time{}, ErrInvalidTimestamp
		}
		nanos = fraction
		for digits := len(b) - 18; digits < 9; digits++ {
			nanos *= 10
		}
	}

	if parts[1] < 1 || parts[1] > 12 || parts[2] < 1 || parts[2] > 31 ||
		parts[3] > 23 || parts[4] > 59 || parts[5] > 60 {
		return time.Time{}, ErrInvalidTimestamp
	}

	return time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], parts[5], nanos, time.UTC), nil
}
