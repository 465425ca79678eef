// Package session implements per-client MQTT session state: subscriptions,
// in-flight QoS 1/2 bookkeeping, the packet-identifier pool, and the
// outbound publication queue with its overflow policy. It is the broker
// hub's single-owner view of one client — the same "all mutable state
// behind one loop" discipline the teacher's logicLoop applies to a
// client's view of one server, turned around to the hub's view of one
// client.
package session

// State is a session's lifecycle phase.
type State int

const (
	// Transient sessions are destroyed on disconnect.
	Transient State = iota
	// Persistent sessions detach to Offline on disconnect, retaining state.
	Persistent
	// Offline holds a persistent session's state between connections.
	Offline
	// Disconnecting is the terminal state during which a will, if any, is published.
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Transient:
		return "Transient"
	case Persistent:
		return "Persistent"
	case Offline:
		return "Offline"
	case Disconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// ClientId is an opaque string identifying an MQTT client.
type ClientId string

// Publication is a message bound to a topic, independent of wire encoding.
type Publication struct {
	Topic   string
	QoS     uint8
	Retain  bool
	Payload []byte
}

// Subscription is what a session knows about one of its topic filters.
type Subscription struct {
	Filter string
	MaxQoS uint8
}

// OverflowPolicy governs outbound queue behavior once it reaches capacity.
type OverflowPolicy int

const (
	// DropNew rejects the publication that would overflow the queue.
	DropNew OverflowPolicy = iota
	// DropOld evicts the oldest QoS 0 entry first, then the oldest QoS 1/2
	// entry (returning its packet id to the pool).
	DropOld
	// Disconnect transitions the session to Disconnecting.
	Disconnect
)

// PendingPublish is an outbound QoS 1/2 publish awaiting acknowledgment.
type PendingPublish struct {
	PacketID    uint16
	Publication Publication
	Dup         bool
}

// ReceivedQoS2 is an inbound QoS 2 publication buffered pending PUBREL.
type ReceivedQoS2 struct {
	PacketID    uint16
	Publication Publication
}

// ConnReq is the admission request the broker hub consumes to admit a client.
type ConnReq struct {
	ClientID             ClientId
	PeerAddr             string
	CleanSession         bool
	KeepAlive            uint16
	Will                 *Publication
	AuthenticatedIdentity string
}
