package session

import (
	"sort"
	"time"
)

// Session is one client's mutable state: subscriptions, in-flight QoS 1/2
// exchanges, its packet-id pool, and its outbound queue. It has exactly one
// owner (the broker hub's event loop) at any time, so none of its methods
// take locks — the same invariant the teacher's client.go documents for
// logicLoop's ownership of c.pending and c.subscriptions.
type Session struct {
	ClientID ClientId
	PeerAddr string
	Identity string
	State    State

	KeepAlive time.Duration
	LastActive time.Time

	subscriptions map[string]Subscription

	waitingToBeAcked     map[uint16]*PendingPublish // QoS1 awaiting PUBACK, QoS2 awaiting PUBREC
	waitingToBeReleased  map[uint16]*ReceivedQoS2   // QoS2 received, PUBREC sent, awaiting PUBREL
	waitingToBeCompleted map[uint16]*PendingPublish // QoS2, PUBREC received, awaiting PUBCOMP

	ids *idPool

	queue         *outboundQueue
	Will          *Publication
}

// New creates a fresh session for an admitted client.
func New(clientID ClientId, peerAddr string, persistent bool, queueCapacity int, policy OverflowPolicy) *Session {
	state := Transient
	if persistent {
		state = Persistent
	}
	s := &Session{
		ClientID:             clientID,
		PeerAddr:             peerAddr,
		State:                state,
		LastActive:           time.Now(),
		subscriptions:        make(map[string]Subscription),
		waitingToBeAcked:     make(map[uint16]*PendingPublish),
		waitingToBeReleased:  make(map[uint16]*ReceivedQoS2),
		waitingToBeCompleted: make(map[uint16]*PendingPublish),
		ids:                  newIDPool(),
		queue:                newOutboundQueue(queueCapacity, policy),
	}
	s.queue.onEvictID = func(id uint16) {
		delete(s.waitingToBeAcked, id)
		s.ids.release(id)
	}
	return s
}

// Subscriptions returns a snapshot of the session's current topic filters.
func (s *Session) Subscriptions() []Subscription {
	out := make([]Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		out = append(out, sub)
	}
	return out
}

// SubscribeTo registers or replaces a subscription, returning the granted
// QoS. An error indicates a malformed filter; the caller still owes a
// SUBACK, but with a failure code for that filter.
func (s *Session) SubscribeTo(filter string, qos uint8, validate func(string) error) (uint8, error) {
	if err := validate(filter); err != nil {
		return 0, err
	}
	s.subscriptions[filter] = Subscription{Filter: filter, MaxQoS: qos}
	return qos, nil
}

// Unsubscribe removes filter if present. It always "succeeds" from the
// caller's perspective — UNSUBACK is unconditional per MQTT 3.1.1.
func (s *Session) Unsubscribe(filter string) {
	delete(s.subscriptions, filter)
}

// HandlePublish processes an inbound PUBLISH. For QoS 0 it returns the
// publication to route with no ack due. For QoS 1 it returns the
// publication plus a PUBACK obligation. For QoS 2 it buffers the
// publication in waitingToBeReleased (unless already present, per the
// dup-tolerance rule) and returns a PUBREC obligation with no publication
// yet — it is released to routing only on PUBREL.
func (s *Session) HandlePublish(pub Publication, packetID uint16, dup bool) (route *Publication, ackPacketID uint16, needsPuback, needsPubrec bool, err error) {
	switch pub.QoS {
	case 0:
		return &pub, 0, false, false, nil
	case 1:
		return &pub, packetID, true, false, nil
	case 2:
		if _, exists := s.waitingToBeReleased[packetID]; exists {
			if !dup {
				return nil, 0, false, false, ErrDuplicateQoS2NotMarkedDuplicate
			}
			// Known duplicate retransmit: PUBREC already sent, absorb silently.
			return nil, packetID, false, true, nil
		}
		s.waitingToBeReleased[packetID] = &ReceivedQoS2{PacketID: packetID, Publication: pub}
		return nil, packetID, false, true, nil
	default:
		return nil, 0, false, false, ErrMalformedFilter
	}
}

// HandlePubAck completes a QoS 1 outbound publish, returning its id to the pool.
func (s *Session) HandlePubAck(packetID uint16) {
	if _, ok := s.waitingToBeAcked[packetID]; !ok {
		return // unknown id: logged by caller, not a protocol violation
	}
	delete(s.waitingToBeAcked, packetID)
	s.ids.release(packetID)
}

// HandlePubRec advances a QoS 2 outbound publish from waitingToBeAcked to
// waitingToBeCompleted. The caller owes a PUBREL in response.
func (s *Session) HandlePubRec(packetID uint16) (needsPubrel bool) {
	pending, ok := s.waitingToBeAcked[packetID]
	if !ok {
		return false
	}
	delete(s.waitingToBeAcked, packetID)
	s.waitingToBeCompleted[packetID] = pending
	return true
}

// HandlePubRel releases a buffered QoS 2 inbound publication for routing.
// The caller owes a PUBCOMP in response.
func (s *Session) HandlePubRel(packetID uint16) (route *Publication, ok bool) {
	entry, present := s.waitingToBeReleased[packetID]
	if !present {
		return nil, false
	}
	delete(s.waitingToBeReleased, packetID)
	return &entry.Publication, true
}

// HandlePubComp completes a QoS 2 outbound publish, returning its id to the pool.
func (s *Session) HandlePubComp(packetID uint16) {
	if _, ok := s.waitingToBeCompleted[packetID]; !ok {
		return
	}
	delete(s.waitingToBeCompleted, packetID)
	s.ids.release(packetID)
}

// PublishTo enqueues pub for delivery to this session at the effective QoS
// (min of the publication's QoS and the subscription's granted max). QoS 0
// is enqueued bare; QoS 1/2 reserves a packet id, records a DUP=1 copy in
// waitingToBeAcked for retransmission, and enqueues the DUP=0 packet.
func (s *Session) PublishTo(pub Publication, maxQoS uint8) error {
	effective := pub.QoS
	if maxQoS < effective {
		effective = maxQoS
	}
	outbound := pub
	outbound.QoS = effective

	if effective == 0 {
		return s.queue.push(queuedPublication{publication: outbound})
	}

	id, err := s.ids.acquire()
	if err != nil {
		return ErrPacketIdentifiersExhausted
	}
	s.waitingToBeAcked[id] = &PendingPublish{PacketID: id, Publication: outbound, Dup: true}

	qp := queuedPublication{publication: outbound, packetID: id, hasPacketID: true}
	if err := s.queue.push(qp); err != nil {
		delete(s.waitingToBeAcked, id)
		s.ids.release(id)
		return err
	}
	return nil
}

// DequeueAll drains the outbound queue, in FIFO order.
func (s *Session) DequeueAll() []QueuedPublication {
	entries := s.queue.drainAll()
	out := make([]QueuedPublication, len(entries))
	for i, e := range entries {
		out[i] = QueuedPublication{Publication: e.publication, PacketID: e.packetID, HasPacketID: e.hasPacketID}
	}
	return out
}

// ReplayState describes what a reconnecting persistent session must replay,
// in packet-id ascending order, per spec.md §4.3's reconnect-replay rule.
type ReplayState struct {
	Publishes []PendingPublish // from waitingToBeAcked and waitingToBeCompleted, DUP=1
	Pubrecs   []uint16         // one per waitingToBeReleased entry
}

// PrepareReplay computes the replay set for a session resuming after
// reconnect. When sessionPresent is false, the QoS 2 flow is restarted from
// PUBLISH: waitingToBeCompleted entries move back to waitingToBeAcked, and
// waitingToBeReleased is cleared with its ids returned to the pool.
func (s *Session) PrepareReplay(sessionPresent bool) ReplayState {
	if !sessionPresent {
		for id, pending := range s.waitingToBeCompleted {
			s.waitingToBeAcked[id] = pending
			delete(s.waitingToBeCompleted, id)
		}
		for id := range s.waitingToBeReleased {
			delete(s.waitingToBeReleased, id)
			s.ids.release(id)
		}
	}

	var replay ReplayState
	ids := make([]uint16, 0, len(s.waitingToBeAcked)+len(s.waitingToBeCompleted))
	byID := make(map[uint16]*PendingPublish, len(ids))
	for id, p := range s.waitingToBeAcked {
		ids = append(ids, id)
		byID[id] = p
	}
	for id, p := range s.waitingToBeCompleted {
		ids = append(ids, id)
		byID[id] = p
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		p := *byID[id]
		p.Dup = true
		replay.Publishes = append(replay.Publishes, p)
	}

	pubrecIDs := make([]uint16, 0, len(s.waitingToBeReleased))
	for id := range s.waitingToBeReleased {
		pubrecIDs = append(pubrecIDs, id)
	}
	sort.Slice(pubrecIDs, func(i, j int) bool { return pubrecIDs[i] < pubrecIDs[j] })
	replay.Pubrecs = pubrecIDs

	return replay
}

// QueueLen reports the number of publications currently queued for delivery.
func (s *Session) QueueLen() int { return s.queue.len() }

// QueuePolicy reports the configured overflow policy, so the hub can decide
// whether an ErrQueueFull from PublishTo should transition this session to
// Disconnecting.
func (s *Session) QueuePolicy() OverflowPolicy { return s.queue.policy }

// Detach moves a Persistent session to Offline, preserving all state.
func (s *Session) Detach() {
	if s.State == Persistent {
		s.State = Offline
	}
}
