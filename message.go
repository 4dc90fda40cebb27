package gateway

import "github.com/Zereker/fixgateway/fixmsg"

// SessionHandler is the interface for the application behind the gateway.
// All methods run on the connection's read goroutine and must not block.
type SessionHandler interface {
	// OnLogon is called once the session has completed its handshake.
	OnLogon(c *Conn)
	// OnMessage is called for each application message received in sequence.
	// m and its byte slices are only valid during the call.
	OnMessage(c *Conn, m *fixmsg.Message)
	// OnDisconnect is called once, after the session is disconnected.
	OnDisconnect(c *Conn, reason string)
}

// NopSessionHandler ignores everything. Embed it to implement only some of
// the methods.
type NopSessionHandler struct{}

var _ SessionHandler = NopSessionHandler{}

// OnLogon does nothing.
func (NopSessionHandler) OnLogon(*Conn) {}

// OnMessage does nothing.
func (NopSessionHandler) OnMessage(*Conn, *fixmsg.Message) {}

// OnDisconnect does nothing.
func (NopSessionHandler) OnDisconnect(*Conn, string) {}
