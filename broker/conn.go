package broker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gonzalop/edgemqtt/internal/wire"
	"github.com/gonzalop/edgemqtt/session"
)

// connActor owns one physical connection: a reader goroutine that decodes
// incoming packets and feeds them to the hub, and a writer goroutine that
// drains an outgoing channel onto the wire. This is the teacher's
// readLoop/writeLoop split (client.go) turned around: there the two loops
// serve one client talking to a server, here they serve the hub talking to
// one client.
type connActor struct {
	clientID session.ClientId
	framer   *wire.Framer
	logger   *slog.Logger

	outgoing chan wire.Packet
	toHub    chan<- hubEvent

	cancel context.CancelFunc
	stop   chan struct{}
}

func newConnActor(clientID session.ClientId, framer *wire.Framer, toHub chan<- hubEvent, logger *slog.Logger) *connActor {
	return &connActor{
		clientID: clientID,
		framer:   framer,
		logger:   logger,
		outgoing: make(chan wire.Packet, 64),
		toHub:    toHub,
		stop:     make(chan struct{}),
	}
}

// run blocks until either direction fails or Stop is called. Whichever
// task finishes first cancels the group's context, which the other task
// observes on its next blocking point and uses to drain without attempting
// further reordering. a.stop is closed exactly once, here, regardless of
// whether the loops ended on their own or via Stop.
func (a *connActor) run(ctx context.Context) error {
	gctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	defer cancel()

	group, gctx := errgroup.WithContext(gctx)
	group.Go(func() error { return a.readLoop(gctx) })
	group.Go(func() error { return a.writeLoop(gctx) })

	err := group.Wait()
	a.framer.Close()
	close(a.stop)

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Debug("connection closed", "client_id", a.clientID, "error", err)
	}

	a.toHub <- hubEvent{clientID: a.clientID, kind: eventConnClosed, err: err}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Stop forces the connection closed, unblocking any in-progress read and
// causing run to return. Safe to call from the hub goroutine even while
// run is still in progress elsewhere.
func (a *connActor) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.framer.Close()
}

func (a *connActor) readLoop(ctx context.Context) error {
	for {
		pkt, err := a.framer.ReadPacket()
		if err != nil {
			return err
		}

		select {
		case a.toHub <- hubEvent{clientID: a.clientID, kind: eventPacket, packet: pkt}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (a *connActor) writeLoop(ctx context.Context) error {
	for {
		select {
		case pkt, ok := <-a.outgoing:
			if !ok {
				return nil
			}
			if err := a.framer.WritePacket(pkt); err != nil {
				return err
			}
		case <-ctx.Done():
			// Drain whatever is already queued so a clean shutdown still
			// flushes a CONNACK/DISCONNECT the hub just enqueued, but don't
			// block waiting for more — the read side already failed.
			a.drainOnce()
			return ctx.Err()
		}
	}
}

func (a *connActor) drainOnce() {
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case pkt, ok := <-a.outgoing:
			if !ok {
				return
			}
			_ = a.framer.WritePacket(pkt)
		case <-deadline:
			return
		default:
			return
		}
	}
}

// send enqueues pkt for delivery, dropping it if the actor has already
// stopped rather than blocking the hub loop.
func (a *connActor) send(pkt wire.Packet) {
	select {
	case a.outgoing <- pkt:
	case <-a.stop:
	}
}
