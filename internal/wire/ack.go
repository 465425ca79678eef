package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// PubackPacket acknowledges a QoS 1 PUBLISH.
type PubackPacket struct{ PacketID uint16 }

// Type returns the packet type.
func (p *PubackPacket) Type() uint8 { return PUBACK }

// WriteTo writes the PUBACK packet to w.
func (p *PubackPacket) WriteTo(w io.Writer) (int64, error) { return writeIDPacket(w, PUBACK, 0, p.PacketID) }

// DecodePuback decodes a PUBACK packet from buf.
func DecodePuback(buf []byte) (*PubackPacket, error) {
	id, err := decodeIDPacket(buf, "PUBACK")
	if err != nil {
		return nil, err
	}
	return &PubackPacket{PacketID: id}, nil
}

// PubrecPacket acknowledges receipt of a QoS 2 PUBLISH.
type PubrecPacket struct{ PacketID uint16 }

// Type returns the packet type.
func (p *PubrecPacket) Type() uint8 { return PUBREC }

// WriteTo writes the PUBREC packet to w.
func (p *PubrecPacket) WriteTo(w io.Writer) (int64, error) { return writeIDPacket(w, PUBREC, 0, p.PacketID) }

// DecodePubrec decodes a PUBREC packet from buf.
func DecodePubrec(buf []byte) (*PubrecPacket, error) {
	id, err := decodeIDPacket(buf, "PUBREC")
	if err != nil {
		return nil, err
	}
	return &PubrecPacket{PacketID: id}, nil
}

// PubrelPacket releases a QoS 2 publish for delivery.
type PubrelPacket struct{ PacketID uint16 }

// Type returns the packet type.
func (p *PubrelPacket) Type() uint8 { return PUBREL }

// WriteTo writes the PUBREL packet to w. PUBREL reserves flag bit 1 (0x02).
func (p *PubrelPacket) WriteTo(w io.Writer) (int64, error) { return writeIDPacket(w, PUBREL, 0x02, p.PacketID) }

// DecodePubrel decodes a PUBREL packet from buf.
func DecodePubrel(buf []byte) (*PubrelPacket, error) {
	id, err := decodeIDPacket(buf, "PUBREL")
	if err != nil {
		return nil, err
	}
	return &PubrelPacket{PacketID: id}, nil
}

// PubcompPacket completes a QoS 2 exchange.
type PubcompPacket struct{ PacketID uint16 }

// Type returns the packet type.
func (p *PubcompPacket) Type() uint8 { return PUBCOMP }

// WriteTo writes the PUBCOMP packet to w.
func (p *PubcompPacket) WriteTo(w io.Writer) (int64, error) { return writeIDPacket(w, PUBCOMP, 0, p.PacketID) }

// DecodePubcomp decodes a PUBCOMP packet from buf.
func DecodePubcomp(buf []byte) (*PubcompPacket, error) {
	id, err := decodeIDPacket(buf, "PUBCOMP")
	if err != nil {
		return nil, err
	}
	return &PubcompPacket{PacketID: id}, nil
}

// writeIDPacket writes the shared [FixedHeader][PacketID] shape used by all
// four QoS acknowledgement packets.
func writeIDPacket(w io.Writer, packetType, flags uint8, packetID uint16) (int64, error) {
	header := FixedHeader{PacketType: packetType, Flags: flags, RemainingLength: 2}
	hN, err := header.WriteTo(w)
	if err != nil {
		return hN, err
	}
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], packetID)
	n, err := w.Write(buf[:])
	return hN + int64(n), err
}

func decodeIDPacket(buf []byte, name string) (uint16, error) {
	if len(buf) < 2 {
		return 0, fmt.Errorf("buffer too short for %s packet", name)
	}
	return binary.BigEndian.Uint16(buf[0:2]), nil
}
