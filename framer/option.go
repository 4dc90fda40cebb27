package framer

// options holds the configuration for a Framer.
type options struct {
	bufferSize  int
	beginString string
	onInvalid   func(error)
}

// Option configures a Framer.
type Option func(*options)

// BufferSizeOption sets the receive buffer capacity, which is also the
// largest message the framer can deliver.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.bufferSize = size
		}
	}
}

// BeginStringOption sets the expected begin string, e.g. "FIX.4.4".
// Its length determines where the body length field must start.
func BeginStringOption(beginString string) Option {
	return func(o *options) {
		if beginString != "" {
			o.beginString = beginString
		}
	}
}

// OnInvalidOption sets the callback for structurally corrupt input.
// The framer has already discarded the buffered data when it is called.
func OnInvalidOption(cb func(error)) Option {
	return func(o *options) {
		if cb != nil {
			o.onInvalid = cb
		}
	}
}
