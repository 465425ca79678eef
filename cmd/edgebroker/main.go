// Command edgebroker runs the edge-resident MQTT broker: it accepts
// local client connections, routes publications through the hub, and
// optionally authenticates against an HTTP callout.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gonzalop/edgemqtt/auth"
	"github.com/gonzalop/edgemqtt/broker"
	"github.com/gonzalop/edgemqtt/session"
)

func main() {
	addr := flag.String("addr", ":1883", "address to listen on")
	authURL := flag.String("auth-url", "", "HTTP authentication callout URL; empty allows all clients")
	maxTopicLength := flag.Int("max-topic-length", 4096, "maximum accepted topic length in bytes")
	maxPayloadSize := flag.Int("max-payload-size", 256*1024, "maximum accepted publish payload size in bytes")
	queueCapacity := flag.Int("queue-capacity", 1000, "per-session outbound queue capacity")
	sessionTimeout := flag.Duration("session-timeout", 1*time.Hour, "accepted but not applied: offline persistent sessions are kept until the client reconnects")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var authenticator auth.Authenticator
	if *authURL != "" {
		authenticator = auth.NewHTTPAuthenticator(*authURL)
	}

	cfg := broker.Config{
		Authenticator:  authenticator,
		Authorizer:     auth.AllowAll{},
		MaxTopicLength: *maxTopicLength,
		MaxPayloadSize: *maxPayloadSize,
		QueueCapacity:  *queueCapacity,
		QueuePolicy:    session.DropOld,
		SessionTimeout: *sessionTimeout,
		Logger:         logger,
	}
	hub := broker.NewHub(cfg)

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		logger.Error("listen failed", "addr", *addr, "error", err)
		os.Exit(1)
	}

	server := broker.NewServer(hub, cfg, listener)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)

	logger.Info("edgebroker listening", "addr", *addr)
	if err := server.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.Error("serve failed", "error", err)
		os.Exit(1)
	}

	hub.Stop()
	logger.Info("edgebroker stopped")
}
