package wire

import (
	"bytes"
	"testing"
)

func roundTrip(t *testing.T, pkt Packet) Packet {
	t.Helper()
	var buf bytes.Buffer
	if _, err := pkt.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	got, err := ReadPacket(&buf, 0)
	if err != nil {
		t.Fatalf("ReadPacket: %v", err)
	}
	return got
}

func TestConnectRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  *ConnectPacket
	}{
		{"minimal", &ConnectPacket{ClientID: "dev-1", CleanSession: true, KeepAlive: 60}},
		{"with credentials", &ConnectPacket{
			ClientID: "dev-2", KeepAlive: 30,
			UsernameFlag: true, Username: "alice",
			PasswordFlag: true, Password: []byte("s3cret"),
		}},
		{"with will", &ConnectPacket{
			ClientID: "dev-3", KeepAlive: 10,
			WillFlag: true, WillTopic: "devices/dev-3/status",
			WillMessage: []byte("offline"), WillQoS: QoS1, WillRetain: true,
		}},
		{"empty client id", &ConnectPacket{ClientID: "", CleanSession: true, KeepAlive: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundTrip(t, tt.pkt).(*ConnectPacket)
			if got.ClientID != tt.pkt.ClientID || got.KeepAlive != tt.pkt.KeepAlive {
				t.Fatalf("got %+v, want %+v", got, tt.pkt)
			}
			if got.WillFlag != tt.pkt.WillFlag || got.WillTopic != tt.pkt.WillTopic {
				t.Fatalf("will mismatch: got %+v, want %+v", got, tt.pkt)
			}
			if got.Username != tt.pkt.Username || string(got.Password) != string(tt.pkt.Password) {
				t.Fatalf("credentials mismatch: got %+v, want %+v", got, tt.pkt)
			}
		})
	}
}

func TestConnectRejectsWrongProtocol(t *testing.T) {
	var buf bytes.Buffer
	(&ConnectPacket{ClientID: "x"}).WriteTo(&buf)
	raw := buf.Bytes()
	// Corrupt protocol level byte (offset: header(2) + "MQTT"(6) = 8).
	raw[8] = 5
	if _, err := ReadPacket(bytes.NewReader(raw), 0); err == nil {
		t.Fatal("expected error for unsupported protocol level")
	}
}

func TestPublishRoundTrip(t *testing.T) {
	tests := []*PublishPacket{
		{Topic: "a/b", QoS: QoS0, Payload: []byte("hello")},
		{Topic: "a/b", QoS: QoS1, PacketID: 42, Payload: []byte("at least once")},
		{Topic: "a/b", QoS: QoS2, PacketID: 7, Dup: true, Retain: true, Payload: nil},
	}
	for _, pkt := range tests {
		got := roundTrip(t, pkt).(*PublishPacket)
		if got.Topic != pkt.Topic || got.QoS != pkt.QoS || got.Retain != pkt.Retain || got.Dup != pkt.Dup {
			t.Fatalf("got %+v, want %+v", got, pkt)
		}
		if pkt.QoS > 0 && got.PacketID != pkt.PacketID {
			t.Fatalf("packet id mismatch: got %d, want %d", got.PacketID, pkt.PacketID)
		}
		if !bytes.Equal(got.Payload, pkt.Payload) {
			t.Fatalf("payload mismatch: got %q, want %q", got.Payload, pkt.Payload)
		}
	}
}

func TestAckPacketsRoundTrip(t *testing.T) {
	if got := roundTrip(t, &PubackPacket{PacketID: 1}).(*PubackPacket); got.PacketID != 1 {
		t.Fatalf("PUBACK: got %d", got.PacketID)
	}
	if got := roundTrip(t, &PubrecPacket{PacketID: 2}).(*PubrecPacket); got.PacketID != 2 {
		t.Fatalf("PUBREC: got %d", got.PacketID)
	}
	if got := roundTrip(t, &PubrelPacket{PacketID: 3}).(*PubrelPacket); got.PacketID != 3 {
		t.Fatalf("PUBREL: got %d", got.PacketID)
	}
	if got := roundTrip(t, &PubcompPacket{PacketID: 4}).(*PubcompPacket); got.PacketID != 4 {
		t.Fatalf("PUBCOMP: got %d", got.PacketID)
	}
}

func TestSubscribeRoundTrip(t *testing.T) {
	pkt := &SubscribePacket{PacketID: 9, Topics: []string{"a/+", "b/#"}, QoS: []uint8{QoS0, QoS2}}
	got := roundTrip(t, pkt).(*SubscribePacket)
	if got.PacketID != pkt.PacketID || len(got.Topics) != 2 {
		t.Fatalf("got %+v, want %+v", got, pkt)
	}
	for i := range pkt.Topics {
		if got.Topics[i] != pkt.Topics[i] || got.QoS[i] != pkt.QoS[i] {
			t.Fatalf("topic %d mismatch: got %s/%d, want %s/%d", i, got.Topics[i], got.QoS[i], pkt.Topics[i], pkt.QoS[i])
		}
	}
}

func TestSubackRoundTrip(t *testing.T) {
	pkt := &SubackPacket{PacketID: 9, ReturnCodes: []uint8{SubackQoS0, SubackFailure, SubackQoS2}}
	got := roundTrip(t, pkt).(*SubackPacket)
	if got.PacketID != pkt.PacketID || !bytes.Equal(got.ReturnCodes, pkt.ReturnCodes) {
		t.Fatalf("got %+v, want %+v", got, pkt)
	}
}

func TestUnsubscribeRoundTrip(t *testing.T) {
	pkt := &UnsubscribePacket{PacketID: 11, Topics: []string{"a/b", "c/d"}}
	got := roundTrip(t, pkt).(*UnsubscribePacket)
	if got.PacketID != pkt.PacketID || len(got.Topics) != 2 || got.Topics[1] != "c/d" {
		t.Fatalf("got %+v, want %+v", got, pkt)
	}
	if ackGot := roundTrip(t, &UnsubackPacket{PacketID: 11}).(*UnsubackPacket); ackGot.PacketID != 11 {
		t.Fatalf("UNSUBACK: got %d", ackGot.PacketID)
	}
}

func TestPingAndDisconnect(t *testing.T) {
	roundTrip(t, &PingreqPacket{})
	roundTrip(t, &PingrespPacket{})
	roundTrip(t, &DisconnectPacket{})
}

func TestConnackRoundTrip(t *testing.T) {
	pkt := &ConnackPacket{SessionPresent: true, ReturnCode: ConnRefusedNotAuthorized}
	got := roundTrip(t, pkt).(*ConnackPacket)
	if got.SessionPresent != pkt.SessionPresent || got.ReturnCode != pkt.ReturnCode {
		t.Fatalf("got %+v, want %+v", got, pkt)
	}
}

func TestReadPacketRejectsOversizedPacket(t *testing.T) {
	var buf bytes.Buffer
	(&PublishPacket{Topic: "a", Payload: make([]byte, 1024)}).WriteTo(&buf)
	if _, err := ReadPacket(&buf, 16); err == nil {
		t.Fatal("expected error for packet exceeding maxIncomingPacket")
	}
}

func TestVarIntRoundTrip(t *testing.T) {
	for _, v := range []int{0, 1, 127, 128, 16383, 16384, 2097151, 2097152, maxRemainingLength} {
		encoded := encodeVarInt(v)
		got, n, err := decodeVarIntBuf(encoded)
		if err != nil {
			t.Fatalf("decodeVarIntBuf(%d): %v", v, err)
		}
		if got != v || n != len(encoded) {
			t.Fatalf("decodeVarIntBuf(%d) = %d, %d bytes; want %d, %d bytes", v, got, n, v, len(encoded))
		}
	}
}
