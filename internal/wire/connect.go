package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// ConnectPacket represents an MQTT CONNECT control packet.
type ConnectPacket struct {
	ClientID     string
	CleanSession bool
	KeepAlive    uint16

	WillFlag    bool
	WillTopic   string
	WillMessage []byte
	WillQoS     uint8
	WillRetain  bool

	UsernameFlag bool
	Username     string
	PasswordFlag bool
	Password     []byte
}

// Type returns the packet type.
func (p *ConnectPacket) Type() uint8 { return CONNECT }

// Encode serializes the CONNECT packet into dst.
func (p *ConnectPacket) Encode(dst []byte) ([]byte, error) {
	var flags uint8
	if p.CleanSession {
		flags |= 0x02
	}
	if p.WillFlag {
		flags |= 0x04
		flags |= (p.WillQoS & 0x03) << 3
		if p.WillRetain {
			flags |= 0x20
		}
	}
	if p.PasswordFlag {
		flags |= 0x40
	}
	if p.UsernameFlag {
		flags |= 0x80
	}

	variableHeaderLen := 2 + len(ProtocolName) + 1 + 1 + 2 // name + level + flags + keepalive
	payloadLen := 2 + len(p.ClientID)
	if p.WillFlag {
		payloadLen += 2 + len(p.WillTopic)
		payloadLen += 2 + len(p.WillMessage)
	}
	if p.UsernameFlag {
		payloadLen += 2 + len(p.Username)
	}
	if p.PasswordFlag {
		payloadLen += 2 + len(p.Password)
	}

	header := FixedHeader{
		PacketType:      CONNECT,
		Flags:           0,
		RemainingLength: variableHeaderLen + payloadLen,
	}
	dst = header.appendBytes(dst)

	dst = appendString(dst, ProtocolName)
	dst = append(dst, ProtocolLevel)
	dst = append(dst, flags)
	dst = binary.BigEndian.AppendUint16(dst, p.KeepAlive)

	dst = appendString(dst, p.ClientID)
	if p.WillFlag {
		dst = appendString(dst, p.WillTopic)
		dst = appendBinary(dst, p.WillMessage)
	}
	if p.UsernameFlag {
		dst = appendString(dst, p.Username)
	}
	if p.PasswordFlag {
		dst = appendBinary(dst, p.Password)
	}

	return dst, nil
}

// WriteTo writes the CONNECT packet to w.
func (p *ConnectPacket) WriteTo(w io.Writer) (int64, error) {
	bufPtr := GetBuffer(4096)
	defer PutBuffer(bufPtr)

	data, err := p.Encode((*bufPtr)[:0])
	if err != nil {
		return 0, err
	}
	n, err := w.Write(data)
	return int64(n), err
}

// DecodeConnect decodes a CONNECT packet from buf.
func DecodeConnect(buf []byte) (*ConnectPacket, error) {
	offset := 0

	name, n, err := decodeString(buf[offset:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode protocol name: %w", err)
	}
	if name != ProtocolName {
		return nil, fmt.Errorf("unsupported protocol name %q", name)
	}
	offset += n

	if offset >= len(buf) {
		return nil, fmt.Errorf("buffer too short for protocol level")
	}
	level := buf[offset]
	if level != ProtocolLevel {
		return nil, fmt.Errorf("unsupported protocol level %d", level)
	}
	offset++

	if offset >= len(buf) {
		return nil, fmt.Errorf("buffer too short for connect flags")
	}
	flags := buf[offset]
	offset++

	if offset+2 > len(buf) {
		return nil, fmt.Errorf("buffer too short for keep alive")
	}
	pkt := &ConnectPacket{
		CleanSession: flags&0x02 != 0,
		WillFlag:     flags&0x04 != 0,
		WillQoS:      (flags >> 3) & 0x03,
		WillRetain:   flags&0x20 != 0,
		PasswordFlag: flags&0x40 != 0,
		UsernameFlag: flags&0x80 != 0,
		KeepAlive:    binary.BigEndian.Uint16(buf[offset : offset+2]),
	}
	offset += 2

	if flags&0x01 != 0 {
		return nil, fmt.Errorf("reserved connect flag bit must be zero")
	}

	clientID, n, err := decodeString(buf[offset:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode client id: %w", err)
	}
	pkt.ClientID = clientID
	offset += n

	if pkt.WillFlag {
		willTopic, n, err := decodeString(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode will topic: %w", err)
		}
		pkt.WillTopic = willTopic
		offset += n

		willMessage, n, err := decodeBinary(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode will message: %w", err)
		}
		pkt.WillMessage = append([]byte(nil), willMessage...)
		offset += n
	}

	if pkt.UsernameFlag {
		username, n, err := decodeString(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode username: %w", err)
		}
		pkt.Username = username
		offset += n
	}

	if pkt.PasswordFlag {
		password, n, err := decodeBinary(buf[offset:])
		if err != nil {
			return nil, fmt.Errorf("failed to decode password: %w", err)
		}
		pkt.Password = append([]byte(nil), password...)
		offset += n
	}

	return pkt, nil
}
