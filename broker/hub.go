package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/gonzalop/edgemqtt/auth"
	"github.com/gonzalop/edgemqtt/internal/topic"
	"github.com/gonzalop/edgemqtt/internal/wire"
	"github.com/gonzalop/edgemqtt/session"
)

// Config bundles a Hub's tunables, following the teacher's functional-
// options-backed Options struct (options.go) but scoped to a broker instead
// of a client.
type Config struct {
	Authenticator auth.Authenticator
	Authorizer    auth.Authorizer

	MaxTopicLength    int
	MaxPayloadSize    int
	MaxIncomingPacket int
	MaxClientIDLength int

	QueueCapacity  int
	QueuePolicy    session.OverflowPolicy
	SessionTimeout time.Duration // not read by Hub: Offline sessions are kept until their client reconnects

	Logger *slog.Logger
}

// Hub is the single-threaded event loop that owns every session, the
// subscription trie, and the retained store. No mutex guards any of its
// fields — the same invariant the teacher's logicLoop documents for
// c.pending and c.subscriptions, scaled from one client's view of one
// server to one broker's view of every client.
type Hub struct {
	cfg Config

	sessions map[session.ClientId]*session.Session
	actors   map[session.ClientId]*connActor
	subs     *topic.Trie[session.ClientId]
	retained *retainedStore

	events chan hubEvent
	stop   chan struct{}
}

// NewHub constructs a Hub ready to Run.
func NewHub(cfg Config) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hub{
		cfg:      cfg,
		sessions: make(map[session.ClientId]*session.Session),
		actors:   make(map[session.ClientId]*connActor),
		subs:     topic.NewTrie[session.ClientId](),
		retained: newRetainedStore(),
		events:   make(chan hubEvent, 256),
		stop:     make(chan struct{}),
	}
}

// Submit enqueues a connection admission request, blocking until the hub
// has decided whether to admit it. Called by the listener goroutine that
// accepted the TCP connection and performed the CONNECT handshake read.
func (h *Hub) Submit(req session.ConnReq, actor *connActor) connResult {
	result := make(chan connResult, 1)
	h.events <- hubEvent{
		clientID: req.ClientID,
		kind:     eventConnReq,
		connReq:  &connRequest{req: req, actor: actor, result: result},
	}
	return <-result
}

// Run drives the event loop until ctx is cancelled or Stop is called. This
// mirrors the teacher's logicLoop (logic.go): one goroutine, one select,
// every mutation happens on this goroutine alone.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev := <-h.events:
			h.handleEvent(ev)
		case <-ticker.C:
			h.tick()
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		}
	}
}

// Stop halts Run.
func (h *Hub) Stop() { close(h.stop) }

func (h *Hub) handleEvent(ev hubEvent) {
	switch ev.kind {
	case eventConnReq:
		h.admit(ev.connReq)
	case eventPacket:
		h.handlePacket(ev.clientID, ev.packet)
	case eventConnClosed:
		h.handleConnClosed(ev.clientID, ev.err)
	}
}

// tick is the periodic housekeeping pass: it flushes the outbound queue of
// every session that has a live connection, on the same ticker shape as the
// teacher's retryPending (logic.go). It does not resend unacked QoS 1/2
// publishes (replaySession does that when a persistent session reconnects)
// and does not expire Offline sessions.
func (h *Hub) tick() {
	for id, sess := range h.sessions {
		if sess.State == session.Offline {
			continue
		}
		actor, ok := h.actors[id]
		if !ok {
			continue
		}
		h.flushQueue(sess, actor)
	}
}

// admit processes a CONNECT admission request that Server.serveConn has
// already decoded and authenticated: it handles session takeover and
// attaches or creates session state. Mirrors
// spec.md §4.5's admission sequence.
func (h *Hub) admit(cr *connRequest) {
	req := cr.req

	if existingActor, ok := h.actors[req.ClientID]; ok {
		// Session takeover: the old connection is dropped without emitting
		// its will, per the protocol's "a new connection... the Server MUST
		// disconnect the existing Client" rule.
		existingActor.send(&wire.DisconnectPacket{})
		existingActor.Stop()
		delete(h.actors, req.ClientID)
	}

	existing, hadSession := h.sessions[req.ClientID]
	var sessionPresent bool
	var sess *session.Session

	switch {
	case req.CleanSession:
		if hadSession {
			h.forgetSession(req.ClientID, existing)
		}
		sess = session.New(req.ClientID, req.PeerAddr, false, h.cfg.QueueCapacity, h.cfg.QueuePolicy)
	case hadSession && existing.State == session.Offline:
		sess = existing
		sess.State = session.Persistent
		sess.PeerAddr = req.PeerAddr
		sessionPresent = true
	default:
		sess = session.New(req.ClientID, req.PeerAddr, true, h.cfg.QueueCapacity, h.cfg.QueuePolicy)
	}

	sess.Identity = req.AuthenticatedIdentity
	sess.Will = req.Will
	h.sessions[req.ClientID] = sess
	h.actors[req.ClientID] = cr.actor

	cr.result <- connResult{sessionPresent: sessionPresent, returnCode: wire.ConnAccepted, accepted: true}

	if sessionPresent {
		h.replaySession(sess, cr.actor)
	}
	h.flushQueue(sess, cr.actor)
}

// forgetSession removes every trace of a session: its subscriptions from
// the trie and the session itself from the map.
func (h *Hub) forgetSession(id session.ClientId, sess *session.Session) {
	filters := make([]string, 0, len(sess.Subscriptions()))
	for _, sub := range sess.Subscriptions() {
		filters = append(filters, sub.Filter)
	}
	h.subs.RemoveAll(id, filters)
	delete(h.sessions, id)
}

// replaySession resends a reconnecting persistent session's in-flight QoS
// 1/2 work, in packet-id ascending order, per spec.md §4.3.
func (h *Hub) replaySession(sess *session.Session, actor *connActor) {
	replay := sess.PrepareReplay(true)
	for _, p := range replay.Publishes {
		actor.send(&wire.PublishPacket{
			Dup:      true,
			QoS:      p.Publication.QoS,
			Retain:   p.Publication.Retain,
			Topic:    p.Publication.Topic,
			PacketID: p.PacketID,
			Payload:  p.Publication.Payload,
		})
	}
	for _, id := range replay.Pubrecs {
		actor.send(&wire.PubrecPacket{PacketID: id})
	}
}

func (h *Hub) handlePacket(id session.ClientId, pkt wire.Packet) {
	sess, ok := h.sessions[id]
	if !ok {
		return
	}
	actor, ok := h.actors[id]
	if !ok {
		return
	}

	switch p := pkt.(type) {
	case *wire.PublishPacket:
		h.handlePublish(sess, actor, p)
	case *wire.PubackPacket:
		sess.HandlePubAck(p.PacketID)
		h.flushQueue(sess, actor)
	case *wire.PubrecPacket:
		if sess.HandlePubRec(p.PacketID) {
			actor.send(&wire.PubrelPacket{PacketID: p.PacketID})
		}
	case *wire.PubrelPacket:
		if route, ok := sess.HandlePubRel(p.PacketID); ok {
			h.route(sess, *route)
		}
		actor.send(&wire.PubcompPacket{PacketID: p.PacketID})
	case *wire.PubcompPacket:
		sess.HandlePubComp(p.PacketID)
		h.flushQueue(sess, actor)
	case *wire.SubscribePacket:
		h.handleSubscribe(sess, actor, p)
	case *wire.UnsubscribePacket:
		h.handleUnsubscribe(sess, actor, p)
	case *wire.PingreqPacket:
		actor.send(&wire.PingrespPacket{})
	case *wire.DisconnectPacket:
		h.handleGracefulDisconnect(sess, actor)
	}
}

// handlePublish admits an inbound PUBLISH: checks authorization, applies
// the dup-tolerance rule via sess.HandlePublish, updates the retained
// store, routes to matching subscribers, and replies with the QoS's ack.
func (h *Hub) handlePublish(sess *session.Session, actor *connActor, p *wire.PublishPacket) {
	if err := topic.ValidatePublish(p.Topic, h.cfg.MaxTopicLength); err != nil {
		actor.Stop()
		return
	}
	if err := topic.ValidatePayload(p.Payload, h.cfg.MaxPayloadSize); err != nil {
		actor.Stop()
		return
	}

	pub := session.Publication{Topic: p.Topic, QoS: p.QoS, Retain: p.Retain, Payload: p.Payload}

	if h.cfg.Authorizer != nil {
		allow, _, err := h.cfg.Authorizer.Authorize(context.Background(), auth.AuthzRequest{
			Identity: sess.Identity, Operation: auth.OpPublish, Topic: p.Topic, QoS: p.QoS, Retain: p.Retain,
		})
		if err != nil || !allow {
			return
		}
	}

	route, ackID, needsPuback, needsPubrec, err := sess.HandlePublish(pub, p.PacketID, p.Dup)
	if err != nil {
		return
	}
	if route != nil {
		h.route(sess, *route)
	}
	if needsPuback {
		actor.send(&wire.PubackPacket{PacketID: ackID})
	}
	if needsPubrec {
		actor.send(&wire.PubrecPacket{PacketID: ackID})
	}
}

// route fans pub out to the retained store and every matching subscriber.
func (h *Hub) route(publisher *session.Session, pub session.Publication) {
	if pub.Retain {
		h.retained.update(pub)
	}

	h.subs.Match(pub.Topic, func(subscriber session.ClientId, maxQoS uint8) {
		target, ok := h.sessions[subscriber]
		if !ok {
			return
		}
		forwarded := pub
		forwarded.Retain = false
		if err := target.PublishTo(forwarded, maxQoS); err != nil {
			h.handleQueueError(subscriber, target, err)
			return
		}
		if actor, ok := h.actors[subscriber]; ok {
			h.flushQueue(target, actor)
		}
	})
}

// handleQueueError applies the session's configured overflow consequence
// when PublishTo reports the outbound queue is full.
func (h *Hub) handleQueueError(id session.ClientId, sess *session.Session, err error) {
	if sess.QueuePolicy() != session.Disconnect {
		return
	}
	sess.State = session.Disconnecting
	if actor, ok := h.actors[id]; ok {
		if sess.Will != nil {
			h.route(sess, *sess.Will)
		}
		actor.send(&wire.DisconnectPacket{})
		actor.Stop()
		delete(h.actors, id)
	}
}

func (h *Hub) handleSubscribe(sess *session.Session, actor *connActor, p *wire.SubscribePacket) {
	codes := make([]uint8, len(p.Topics))
	for i, filter := range p.Topics {
		qos, err := sess.SubscribeTo(filter, p.QoS[i], func(f string) error {
			return topic.ValidateFilter(f, h.cfg.MaxTopicLength)
		})
		if err != nil {
			codes[i] = wire.SubackFailure
			continue
		}
		h.subs.Insert(filter, sess.ClientID, qos)
		codes[i] = qos

		for _, retainedPub := range h.retained.matching(topic.Match, filter) {
			_ = sess.PublishTo(retainedPub, qos)
		}
	}
	actor.send(&wire.SubackPacket{PacketID: p.PacketID, ReturnCodes: codes})
	h.flushQueue(sess, actor)
}

func (h *Hub) handleUnsubscribe(sess *session.Session, actor *connActor, p *wire.UnsubscribePacket) {
	for _, filter := range p.Topics {
		sess.Unsubscribe(filter)
		h.subs.Remove(filter, sess.ClientID)
	}
	actor.send(&wire.UnsubackPacket{PacketID: p.PacketID})
}

// handleGracefulDisconnect processes a client-initiated DISCONNECT: the
// will, if any, is discarded (it is only published on an ungraceful
// close), and the session either detaches (persistent) or is forgotten
// (transient).
func (h *Hub) handleGracefulDisconnect(sess *session.Session, actor *connActor) {
	sess.Will = nil
	actor.Stop()
	delete(h.actors, sess.ClientID)
	h.detachOrForget(sess)
}

// handleConnClosed processes an actor reporting its connection died, which
// covers every ungraceful path: read timeout, write error, or a client
// vanishing without DISCONNECT. The will, if any, is published.
func (h *Hub) handleConnClosed(id session.ClientId, _ error) {
	sess, ok := h.sessions[id]
	if !ok {
		return
	}
	if _, stillOwns := h.actors[id]; !stillOwns {
		// Already superseded by a takeover or a graceful DISCONNECT.
		return
	}
	delete(h.actors, id)

	if sess.Will != nil {
		h.route(sess, *sess.Will)
		sess.Will = nil
	}
	h.detachOrForget(sess)
}

func (h *Hub) detachOrForget(sess *session.Session) {
	if sess.State == session.Persistent {
		sess.Detach()
		return
	}
	h.forgetSession(sess.ClientID, sess)
}

// flushQueue drains a session's outbound queue onto its connection.
func (h *Hub) flushQueue(sess *session.Session, actor *connActor) {
	for _, qp := range sess.DequeueAll() {
		actor.send(&wire.PublishPacket{
			QoS:      qp.Publication.QoS,
			Retain:   qp.Publication.Retain,
			Topic:    qp.Publication.Topic,
			PacketID: qp.PacketID,
			Payload:  qp.Publication.Payload,
		})
	}
}
