package broker

import (
	"github.com/gonzalop/edgemqtt/internal/wire"
	"github.com/gonzalop/edgemqtt/session"
)

// hubEventKind discriminates the events a connActor delivers to the hub
// loop. The hub is the sole owner of every session, the subscription trie,
// and the retained store, so every cross-goroutine interaction funnels
// through this one channel — the same discipline the teacher's logicLoop
// applies to c.incoming, generalized from one client to many.
type hubEventKind int

const (
	eventConnReq hubEventKind = iota
	eventPacket
	eventConnClosed
	eventTick
)

// hubEvent is the sole message type flowing into the hub loop.
type hubEvent struct {
	clientID session.ClientId
	kind     hubEventKind

	connReq *connRequest // eventConnReq
	packet  wire.Packet  // eventPacket
	err     error        // eventConnClosed
}

// connRequest carries a newly accepted connection's admission request and
// the actor that will serve it, produced by the listener goroutine before
// the hub has decided whether to admit it.
type connRequest struct {
	req    session.ConnReq
	actor  *connActor
	result chan connResult
}

// connResult is the admission decision the hub hands back to the listener
// goroutine so it can send CONNACK and, on rejection, close the connection.
type connResult struct {
	sessionPresent bool
	returnCode     uint8
	accepted       bool
}
