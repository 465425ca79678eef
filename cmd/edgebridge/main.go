// Command edgebridge runs the bridge client: a long-lived connection to
// an upstream MQTT broker that relays local traffic, restores
// subscriptions across reconnects, and accepts control commands over
// the local RPC channel.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gonzalop/edgemqtt/bridge"
)

// localPublisher delivers RPC ack/nack replies to the local broker over
// the same client connection used to receive RPC commands.
type localPublisher struct {
	local  *bridge.Client
	logger *slog.Logger
}

func (p localPublisher) PublishLocal(topic string, payload []byte, qos uint8, retain bool) {
	if err := p.local.Publish(topic, payload, qos, retain).Wait(context.Background()); err != nil {
		p.logger.Warn("rpc reply publish failed", "topic", topic, "error", err)
	}
}

func main() {
	upstreamAddr := flag.String("upstream", "tls://localhost:8883", "upstream broker address")
	localAddr := flag.String("local", "tcp://localhost:1883", "local edge broker address")
	clientID := flag.String("client-id", "edgebridge", "upstream client id")
	username := flag.String("username", "", "upstream username (plain credential mode)")
	keepAlive := flag.Duration("keepalive", 60*time.Second, "upstream keepalive interval")
	initialBackoff := flag.Duration("initial-backoff", time.Second, "initial reconnect backoff")
	maxBackoff := flag.Duration("max-backoff", 2*time.Minute, "maximum reconnect backoff")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	var creds bridge.CredentialProvider
	if *username != "" {
		creds = bridge.PlainCredentials{Username: *username, Password: []byte(os.Getenv("EDGEBRIDGE_PASSWORD"))}
	}

	upstream := bridge.New(bridge.Options{
		Addr:           *upstreamAddr,
		ClientID:       *clientID,
		CleanSession:   true,
		KeepAlive:      *keepAlive,
		Credentials:    creds,
		InitialBackoff: *initialBackoff,
		MaxBackoff:     *maxBackoff,
		Logger:         logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := upstream.Start(ctx); err != nil {
		logger.Error("upstream connect failed", "error", err)
		os.Exit(1)
	}
	defer upstream.Stop()

	local := bridge.New(bridge.Options{
		Addr:           *localAddr,
		ClientID:       *clientID + "-rpc",
		CleanSession:   true,
		KeepAlive:      *keepAlive,
		InitialBackoff: *initialBackoff,
		MaxBackoff:     *maxBackoff,
		Logger:         logger,
	})
	if err := local.Start(ctx); err != nil {
		logger.Error("local broker connect failed", "error", err)
		os.Exit(1)
	}
	defer local.Stop()

	rpc := bridge.NewRPCHandler(upstream, localPublisher{local: local, logger: logger}, logger)
	if err := local.Subscribe("$upstream/rpc/+", 1, func(topic string, payload []byte, qos uint8, retain bool) {
		rpc.HandleLocalPublish(topic, payload)
	}).Wait(ctx); err != nil {
		logger.Error("rpc channel subscribe failed", "error", err)
		os.Exit(1)
	}

	logger.Info("edgebridge connected", "upstream", *upstreamAddr, "local", *localAddr)
	<-ctx.Done()

	logger.Info("edgebridge stopped")
}
