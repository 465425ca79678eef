package wire

import "io"

// DisconnectPacket represents a graceful MQTT DISCONNECT.
type DisconnectPacket struct{}

// Type returns the packet type.
func (p *DisconnectPacket) Type() uint8 { return DISCONNECT }

// WriteTo writes the DISCONNECT packet to w.
func (p *DisconnectPacket) WriteTo(w io.Writer) (int64, error) {
	header := FixedHeader{PacketType: DISCONNECT}
	return header.WriteTo(w)
}

// DecodeDisconnect decodes a DISCONNECT packet, which carries no payload in 3.1.1.
func DecodeDisconnect(buf []byte) (*DisconnectPacket, error) { return &DisconnectPacket{}, nil }
