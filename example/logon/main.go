package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"time"

	gateway "github.com/Zereker/fixgateway"
	"github.com/Zereker/fixgateway/fixmsg"
	"github.com/Zereker/fixgateway/journal"
	"github.com/Zereker/fixgateway/protocol"
	"github.com/Zereker/fixgateway/session"
)

// printer logs what happens to the sessions it is given to.
type printer struct {
	name   string
	logons chan int64
}

func (p *printer) OnLogon(c *gateway.Conn) {
	snap := c.Snapshot()
	slog.Info("logged on", "side", p.name, "connectionId", c.ID(), "key", snap.Key.String(),
		"heartbeat", snap.HeartbeatInterval)
	p.logons <- c.ID()
}

func (p *printer) OnMessage(c *gateway.Conn, m *fixmsg.Message) {
	slog.Info("application message", "side", p.name, "connectionId", c.ID(), "msgType", m.MsgType)
}

func (p *printer) OnDisconnect(c *gateway.Conn, reason string) {
	slog.Info("disconnected", "side", p.name, "connectionId", c.ID(), "reason", reason)
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})))

	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	server, err := gateway.NewServer(addr)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		return
	}

	acceptorCfg := session.DefaultConfig()
	acceptorCfg.SenderCompID = "GATEWAY"
	acceptor := gateway.NewGateway(
		gateway.SessionConfigOption(acceptorCfg),
		gateway.SessionHandlerOption(&printer{name: "acceptor", logons: make(chan int64, 1)}),
		gateway.JournalOption(journal.NewMemory()),
		gateway.EventsOption(protocol.Handler{
			OnManageConnection: func(e protocol.ManageConnection) {
				slog.Info("managing connection", "connectionId", e.ConnectionID, "address", e.Address, "state", e.State)
			},
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := server.Serve(ctx, acceptor); err != nil {
			slog.Error("server error", "error", err)
		}
	}()

	client := &printer{name: "initiator", logons: make(chan int64, 1)}
	initiator := gateway.NewGateway(
		gateway.SessionHandlerOption(client),
		gateway.HeartbeatOption(50*time.Millisecond),
	)

	initiatorCfg := session.DefaultConfig()
	initiatorCfg.SenderCompID = "CLIENT"
	initiatorCfg.TargetCompID = "GATEWAY"
	initiatorCfg.HeartbeatInterval = 5 * time.Second

	conn, err := initiator.Connect(ctx, server.Addr().String(), initiatorCfg)
	if err != nil {
		slog.Error("connect failed", "error", err)
		cancel()
		<-served
		return
	}

	select {
	case <-client.logons:
	case <-time.After(5 * time.Second):
		slog.Error("logon timed out")
	}

	for _, s := range acceptor.Sessions() {
		slog.Info("acceptor session", "connectionId", s.ConnectionID, "state", s.State.String(),
			"expected", s.ExpectedReceivedSeqNum, "nextSent", s.NextSentSeqNum)
	}

	if err := initiator.Logout(conn.ID(), "demo finished"); err != nil {
		slog.Error("logout failed", "error", err)
	}
	initiator.Wait()

	cancel()
	<-served
}
