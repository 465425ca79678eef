package broker

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/gonzalop/edgemqtt/auth"
	"github.com/gonzalop/edgemqtt/internal/wire"
	"github.com/gonzalop/edgemqtt/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testHub(t *testing.T) (*Hub, context.Context) {
	t.Helper()
	hub := NewHub(Config{
		Authorizer:    auth.AllowAll{},
		QueueCapacity: 16,
		QueuePolicy:   session.DropNew,
		Logger:        discardLogger(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub, ctx
}

// dialClient performs a CONNECT handshake over an in-memory net.Pipe,
// returning the client-side conn (raw bytes in/out) after reading CONNACK.
func dialClient(t *testing.T, ctx context.Context, srv *Server, clientID string, cleanSession bool) (net.Conn, *wire.ConnackPacket) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	go srv.serveConn(ctx, serverConn)

	connect := &wire.ConnectPacket{ClientID: clientID, CleanSession: cleanSession, KeepAlive: 60}
	if _, err := connect.WriteTo(clientConn); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	pkt, err := wire.ReadPacket(clientConn, 1<<20)
	if err != nil {
		t.Fatalf("read CONNACK: %v", err)
	}
	connack, ok := pkt.(*wire.ConnackPacket)
	if !ok {
		t.Fatalf("expected CONNACK, got %T", pkt)
	}
	clientConn.SetReadDeadline(time.Time{})
	return clientConn, connack
}

func newTestServer(hub *Hub) *Server {
	return NewServer(hub, Config{Authorizer: auth.AllowAll{}, QueueCapacity: 16, QueuePolicy: session.DropNew, Logger: discardLogger()}, nil)
}

func readPacket(t *testing.T, conn net.Conn, timeout time.Duration) wire.Packet {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	pkt, err := wire.ReadPacket(conn, 1<<20)
	if err != nil {
		t.Fatalf("read packet: %v", err)
	}
	conn.SetReadDeadline(time.Time{})
	return pkt
}

func TestHubPublishSubscribeQoS0(t *testing.T) {
	hub, ctx := testHub(t)
	srv := newTestServer(hub)

	sub, _ := dialClient(t, ctx, srv, "subscriber", true)
	defer sub.Close()
	pub, _ := dialClient(t, ctx, srv, "publisher", true)
	defer pub.Close()

	subscribe := &wire.SubscribePacket{PacketID: 1, Topics: []string{"sensors/temp"}, QoS: []uint8{0}}
	if _, err := subscribe.WriteTo(sub); err != nil {
		t.Fatalf("write SUBSCRIBE: %v", err)
	}
	if pkt := readPacket(t, sub, 2*time.Second); pkt.Type() != wire.SUBACK {
		t.Fatalf("expected SUBACK, got %T", pkt)
	}

	publish := &wire.PublishPacket{Topic: "sensors/temp", QoS: 0, Payload: []byte("21.5")}
	if _, err := publish.WriteTo(pub); err != nil {
		t.Fatalf("write PUBLISH: %v", err)
	}

	pkt := readPacket(t, sub, 2*time.Second)
	got, ok := pkt.(*wire.PublishPacket)
	if !ok {
		t.Fatalf("expected PUBLISH, got %T", pkt)
	}
	if got.Topic != "sensors/temp" || string(got.Payload) != "21.5" {
		t.Errorf("unexpected delivered publication: %+v", got)
	}
}

func TestHubRetainedMessageDeliveredOnSubscribe(t *testing.T) {
	hub, ctx := testHub(t)
	srv := newTestServer(hub)

	pub, _ := dialClient(t, ctx, srv, "publisher", true)
	defer pub.Close()

	publish := &wire.PublishPacket{Topic: "status/online", QoS: 0, Retain: true, Payload: []byte("1")}
	if _, err := publish.WriteTo(pub); err != nil {
		t.Fatalf("write PUBLISH: %v", err)
	}

	sub, _ := dialClient(t, ctx, srv, "late-subscriber", true)
	defer sub.Close()

	subscribe := &wire.SubscribePacket{PacketID: 1, Topics: []string{"status/online"}, QoS: []uint8{0}}
	if _, err := subscribe.WriteTo(sub); err != nil {
		t.Fatalf("write SUBSCRIBE: %v", err)
	}
	if pkt := readPacket(t, sub, 2*time.Second); pkt.Type() != wire.SUBACK {
		t.Fatalf("expected SUBACK, got %T", pkt)
	}

	pkt := readPacket(t, sub, 2*time.Second)
	got, ok := pkt.(*wire.PublishPacket)
	if !ok {
		t.Fatalf("expected retained PUBLISH, got %T", pkt)
	}
	if string(got.Payload) != "1" || !got.Retain {
		t.Errorf("unexpected retained delivery: %+v", got)
	}
}

func TestHubRetainedMessageRemovedByZeroLengthPayload(t *testing.T) {
	hub, ctx := testHub(t)
	srv := newTestServer(hub)

	pub, _ := dialClient(t, ctx, srv, "publisher", true)
	defer pub.Close()

	retain := &wire.PublishPacket{Topic: "status/online", QoS: 0, Retain: true, Payload: []byte("1")}
	if _, err := retain.WriteTo(pub); err != nil {
		t.Fatalf("write retained PUBLISH: %v", err)
	}
	clear := &wire.PublishPacket{Topic: "status/online", QoS: 0, Retain: true, Payload: nil}
	if _, err := clear.WriteTo(pub); err != nil {
		t.Fatalf("write clearing PUBLISH: %v", err)
	}

	// give the hub loop a moment to process both publishes in order
	time.Sleep(50 * time.Millisecond)

	sub, _ := dialClient(t, ctx, srv, "late-subscriber", true)
	defer sub.Close()

	subscribe := &wire.SubscribePacket{PacketID: 1, Topics: []string{"status/online"}, QoS: []uint8{0}}
	if _, err := subscribe.WriteTo(sub); err != nil {
		t.Fatalf("write SUBSCRIBE: %v", err)
	}
	if pkt := readPacket(t, sub, 2*time.Second); pkt.Type() != wire.SUBACK {
		t.Fatalf("expected SUBACK, got %T", pkt)
	}

	sub.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, err := wire.ReadPacket(sub, 1<<20); err == nil {
		t.Fatalf("expected no retained delivery after removal, but one arrived")
	}
}

func TestHubSessionTakeoverDisconnectsPriorConnection(t *testing.T) {
	hub, ctx := testHub(t)
	srv := newTestServer(hub)

	first, _ := dialClient(t, ctx, srv, "duplicate-id", true)
	defer first.Close()

	second, connack := dialClient(t, ctx, srv, "duplicate-id", true)
	defer second.Close()
	if connack.ReturnCode != wire.ConnAccepted {
		t.Fatalf("expected second connection accepted, got return code %d", connack.ReturnCode)
	}

	// The superseded connection is always closed; whether it also manages to
	// read a DISCONNECT first is a timing race against the Stop()-triggered
	// close, so either outcome (a DISCONNECT, or the pipe closing first) is
	// acceptable evidence of takeover.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	pkt, err := wire.ReadPacket(first, 1<<20)
	if err != nil {
		return
	}
	if pkt.Type() != wire.DISCONNECT {
		t.Fatalf("expected DISCONNECT on takeover, got %T", pkt)
	}
}

func TestHubQoS1PublishAcknowledgedHandshake(t *testing.T) {
	hub, ctx := testHub(t)
	srv := newTestServer(hub)

	sub, _ := dialClient(t, ctx, srv, "subscriber", true)
	defer sub.Close()
	pub, _ := dialClient(t, ctx, srv, "publisher", true)
	defer pub.Close()

	subscribe := &wire.SubscribePacket{PacketID: 1, Topics: []string{"cmds/+"}, QoS: []uint8{1}}
	if _, err := subscribe.WriteTo(sub); err != nil {
		t.Fatalf("write SUBSCRIBE: %v", err)
	}
	readPacket(t, sub, 2*time.Second) // SUBACK

	publish := &wire.PublishPacket{Topic: "cmds/reboot", QoS: 1, PacketID: 7, Payload: []byte("now")}
	if _, err := publish.WriteTo(pub); err != nil {
		t.Fatalf("write PUBLISH: %v", err)
	}
	if pkt := readPacket(t, pub, 2*time.Second); pkt.Type() != wire.PUBACK {
		t.Fatalf("expected PUBACK to publisher, got %T", pkt)
	}

	pkt := readPacket(t, sub, 2*time.Second)
	delivered, ok := pkt.(*wire.PublishPacket)
	if !ok || delivered.QoS != 1 {
		t.Fatalf("expected QoS1 PUBLISH to subscriber, got %+v", pkt)
	}

	puback := &wire.PubackPacket{PacketID: delivered.PacketID}
	if _, err := puback.WriteTo(sub); err != nil {
		t.Fatalf("write PUBACK: %v", err)
	}
}
