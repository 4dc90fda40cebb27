// Command fixgateway accepts FIX sessions on the configured address and
// opens the configured initiator sessions.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gateway "github.com/Zereker/fixgateway"
	"github.com/Zereker/fixgateway/config"
	"github.com/Zereker/fixgateway/journal"
	"github.com/Zereker/fixgateway/metrics"
	"github.com/Zereker/fixgateway/protocol"
	"github.com/Zereker/fixgateway/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fixgateway: %v\n", err)
		os.Exit(1)
	}

	logger, syncLogger, err := gateway.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fixgateway: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	err = run(cfg, logger)
	_ = syncLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fixgateway: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sessions outlive the signal so that Shutdown can log them out.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeJournal, err := openJournal(cfg.Journal, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeJournal(); err != nil {
			logger.Error("failed to close journal", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		return errors.Wrap(err, "registering metrics")
	}

	events := protocol.Handler{
		OnError: func(e protocol.Error) {
			logger.Warn("session error", "kind", e.Kind.String(), "libraryId", e.LibraryID, "message", e.Message)
		},
	}

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name("fixgateway"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(time.Second),
			nats.Timeout(5*time.Second),
		)
		if err != nil {
			return errors.Wrapf(err, "connecting to nats %s", cfg.NATS.URL)
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				logger.Warn("nats drain failed", "error", err)
			}
		}()
		events = protocol.Multi(events, protocol.NewNATSPublisher(nc, cfg.NATS.Subject, logger).Handler())
	}

	gw := gateway.NewGateway(
		gateway.LoggerOption(logger),
		gateway.SessionConfigOption(cfg.AcceptorSession()),
		gateway.BufferSizeOption(cfg.Buffers.SendQueue),
		gateway.MessageMaxSize(cfg.Buffers.Receive),
		gateway.JournalOption(store),
		gateway.MetricsOption(m),
		gateway.EventsOption(events),
	)
	registry.MustRegister(metrics.NewCollector(gw))

	if nc != nil {
		sub, err := protocol.SubscribeNATS(nc, cfg.NATS.Commands, gw.Protocol(ctx), logger)
		if err != nil {
			return errors.Wrapf(err, "subscribing to %s", cfg.NATS.Commands)
		}
		defer func() { _ = sub.Unsubscribe() }()
		logger.Info("taking library requests", "subject", cfg.NATS.Commands+".>")
	}

	if cfg.Metrics.Listen != "" {
		metricsServer := serveMetrics(cfg.Metrics.Listen, registry, logger)
		defer func() { _ = metricsServer.Close() }()
	}

	var serveErr chan error
	if cfg.Listen != "" {
		serveErr = make(chan error, 1)
		addr, err := net.ResolveTCPAddr("tcp", cfg.Listen)
		if err != nil {
			return errors.Wrapf(err, "resolving %s", cfg.Listen)
		}
		server, err := gateway.NewServer(addr, gateway.ServerLoggerOption(logger))
		if err != nil {
			return err
		}
		logger.Info("accepting sessions", "addr", server.Addr().String(), "compId", cfg.Session.CompID)
		go func() {
			serveErr <- server.Serve(ctx, gw)
		}()
	}

	for _, in := range cfg.Initiators {
		addr := net.JoinHostPort(in.Host, strconv.Itoa(in.Port))
		if _, err := gw.Connect(ctx, addr, cfg.InitiatorSession(in)); err != nil {
			logger.Error("initiator failed", "addr", addr, "senderCompId", in.SenderCompID,
				"targetCompId", in.TargetCompID, "error", err)
		}
	}

	select {
	case <-signalCtx.Done():
		logger.Info("shutting down", "sessions", len(gw.Sessions()))
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", "error", err)
		}
		serveErr = nil
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Warn("sessions did not log out in time", "error", err)
	}
	cancel()
	if serveErr != nil {
		<-serveErr
	}
	return nil
}

// openJournal opens the badger journal in dir, or an in-memory one when
// dir is empty.
func openJournal(cfg config.JournalConfig, logger *slog.Logger) (session.Journal, func() error, error) {
	if cfg.Dir == "" {
		logger.Warn("journal is in memory, sequence numbers will not survive a restart")
		j := journal.NewMemory()
		return j, j.Close, nil
	}

	j, err := journal.OpenBadger(cfg.Dir,
		journal.LoggerOption(logger),
		journal.BacklogOption(cfg.Backlog),
	)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("journal opened", "dir", cfg.Dir)
	return j, j.Close, nil
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	return server
}
