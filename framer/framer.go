// Package framer reassembles FIX messages from a TCP byte stream.
//
// A Framer owns one receive buffer. Each call to OnReadable appends whatever
// the transport has available, delivers every complete message found in the
// buffer to the registered Handler and moves the unconsumed tail back to the
// start of the buffer, so the buffer only ever holds the partial message
// currently in flight.
//
// A Framer is not safe for concurrent use; it is driven by the goroutine that
// owns the connection.
package framer

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/Zereker/fixgateway/ascii"
)

// Wire constants used for framing.
const (
	// SOH is the field delimiter.
	SOH byte = 0x01

	bodyLengthTag = 9

	// MinChecksumSize is the shortest span from the last body byte to the
	// delimiter ending the checksum field.
	MinChecksumSize = len("\x0110=") + 1

	// DefaultBeginString is the protocol version the framer expects.
	DefaultBeginString = "FIX.4.2"
	// DefaultBufferSize is the default receive buffer capacity (64KB).
	DefaultBufferSize = 64 * 1024
)

// Errors reported through the invalid message path.
var (
	// ErrInvalidMessage is the parent of every structural framing error.
	ErrInvalidMessage = errors.New("framer: invalid message")
	// ErrInvalidBeginString means the message does not start with the expected begin string.
	ErrInvalidBeginString = fmt.Errorf("%w: bad begin string", ErrInvalidMessage)
	// ErrInvalidBodyLengthTag means tag 9 does not follow the begin string.
	ErrInvalidBodyLengthTag = fmt.Errorf("%w: body length must be the second field", ErrInvalidMessage)
	// ErrInvalidBodyLength means the body length value is not a non-negative integer.
	ErrInvalidBodyLength = fmt.Errorf("%w: body length is not numeric", ErrInvalidMessage)
	// ErrInvalidChecksumTag means tag 10 is not where the body length says it is.
	ErrInvalidChecksumTag = fmt.Errorf("%w: checksum field misplaced", ErrInvalidMessage)
	// ErrMessageTooLarge means a message cannot fit in the receive buffer.
	ErrMessageTooLarge = fmt.Errorf("%w: message too large", ErrInvalidMessage)
)

// Handler receives one framed message as a view into the receive buffer.
// The view is only valid for the duration of the call.
type Handler func(buf []byte, offset, length int)

// Framer extracts whole FIX messages from partially filled socket reads.
type Framer struct {
	buffer    []byte
	used      int
	flyweight ascii.Flyweight
	handler   Handler

	opts options

	beginString       []byte
	prefixLength      int
	startOfBodyLength int

	totalRead int64
	consumed  int64
	discarded int64
}

// New creates a Framer that delivers messages to handler.
func New(handler Handler, opt ...Option) *Framer {
	opts := options{
		bufferSize:  DefaultBufferSize,
		beginString: DefaultBeginString,
		onInvalid:   func(error) {},
	}
	for _, o := range opt {
		o(&opts)
	}

	// "8=" + begin string + SOH
	prefixLength := 2 + len(opts.beginString) + 1

	f := &Framer{
		buffer:            make([]byte, opts.bufferSize),
		handler:           handler,
		opts:              opts,
		beginString:       []byte(opts.beginString),
		prefixLength:      prefixLength,
		startOfBodyLength: prefixLength + 2,
	}
	f.flyweight.Wrap(f.buffer)
	return f
}

// OnReadable reads once from r into the free part of the buffer and frames
// every complete message. Bytes read before a transport error are framed
// before the error is returned. Structural errors are reported through the
// invalid message callback, never returned.
func (f *Framer) OnReadable(r io.Reader) (int, error) {
	n, err := r.Read(f.buffer[f.used:])
	if n > 0 {
		f.used += n
		f.totalRead += int64(n)
		f.frameMessages()
	}
	return n, err
}

func (f *Framer) frameMessages() {
	offset := 0
	for {
		startOfBodyLength := offset + f.startOfBodyLength
		if f.used < startOfBodyLength {
			break
		}

		if err := f.validateHeader(offset); err != nil {
			f.invalidate(offset, err)
			return
		}

		endOfBodyLength := f.flyweight.Scan(startOfBodyLength+1, f.used, SOH)
		if endOfBodyLength == ascii.UnknownIndex {
			break
		}

		bodyLength, err := f.flyweight.GetInt(startOfBodyLength, endOfBodyLength)
		if err != nil || bodyLength < 0 {
			f.invalidate(offset, ErrInvalidBodyLength)
			return
		}
		if bodyLength > len(f.buffer) {
			f.invalidate(offset, ErrMessageTooLarge)
			return
		}

		startOfChecksum := endOfBodyLength + 1 + bodyLength
		if startOfChecksum+len("10=000\x01")-offset > len(f.buffer) {
			f.invalidate(offset, ErrMessageTooLarge)
			return
		}

		earliestChecksumEnd := endOfBodyLength + bodyLength + MinChecksumSize
		if earliestChecksumEnd >= f.used {
			break
		}

		if !f.isChecksumTag(startOfChecksum) {
			f.invalidate(offset, ErrInvalidChecksumTag)
			return
		}

		lastByte := f.flyweight.Scan(earliestChecksumEnd, f.used, SOH)
		if lastByte == ascii.UnknownIndex {
			break
		}

		length := lastByte + 1 - offset
		f.handler(f.buffer, offset, length)

		f.consumed += int64(length)
		offset += length
	}

	f.pushRemainderToBufferStart(offset)

	if f.used == len(f.buffer) {
		f.invalidate(0, ErrMessageTooLarge)
	}
}

// validateHeader checks "8=<begin string>SOH9=" at offset.
func (f *Framer) validateHeader(offset int) error {
	if f.flyweight.GetChar(offset) != '8' || f.flyweight.GetChar(offset+1) != '=' ||
		f.flyweight.GetChar(offset+f.prefixLength-1) != SOH ||
		!bytes.Equal(f.flyweight.Bytes(offset+2, offset+f.prefixLength-1), f.beginString) {
		return ErrInvalidBeginString
	}

	tagOffset := offset + f.prefixLength
	if digit, ok := f.flyweight.GetDigit(tagOffset); !ok || digit != bodyLengthTag ||
		f.flyweight.GetChar(tagOffset+1) != '=' {
		return ErrInvalidBodyLengthTag
	}
	return nil
}

func (f *Framer) isChecksumTag(index int) bool {
	return f.flyweight.GetChar(index) == '1' &&
		f.flyweight.GetChar(index+1) == '0' &&
		f.flyweight.GetChar(index+2) == '='
}

func (f *Framer) pushRemainderToBufferStart(offset int) {
	if offset == 0 {
		return
	}
	f.used = copy(f.buffer, f.buffer[offset:f.used])
}

// invalidate drops everything buffered from offset onwards.
func (f *Framer) invalidate(offset int, err error) {
	f.discarded += int64(f.used - offset)
	f.used = 0
	f.opts.onInvalid(fmt.Errorf("%w (offset %d)", err, offset))
}

// Used returns the number of buffered bytes not yet framed.
func (f *Framer) Used() int {
	return f.used
}

// Capacity returns the receive buffer size.
func (f *Framer) Capacity() int {
	return len(f.buffer)
}

// TotalRead returns the number of bytes ever read by this framer.
func (f *Framer) TotalRead() int64 {
	return f.totalRead
}

// Consumed returns the number of bytes delivered as messages.
func (f *Framer) Consumed() int64 {
	return f.consumed
}

// Discarded returns the number of bytes dropped by structural errors.
func (f *Framer) Discarded() int64 {
	return f.discarded
}
