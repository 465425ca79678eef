package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// maxRemainingLength is the largest value a Variable Byte Integer can hold,
// per MQTT 3.1.1 section 2.2.3: four 7-bit digits, continuation bit excluded.
const maxRemainingLength = 268435455

// encodeVarInt encodes value as a Variable Byte Integer (1-4 bytes).
func encodeVarInt(value int) []byte {
	if value < 128 && value >= 0 {
		return []byte{byte(value)}
	}
	return appendVarInt(make([]byte, 0, 4), value)
}

// appendVarInt appends the Variable Byte Integer encoding of value to dst.
func appendVarInt(dst []byte, value int) []byte {
	if value < 0 || value > maxRemainingLength {
		panic(fmt.Sprintf("value %d out of range for variable byte integer", value))
	}
	for {
		digit := byte(value % 128)
		value /= 128
		if value > 0 {
			digit |= 0x80
		}
		dst = append(dst, digit)
		if value == 0 {
			break
		}
	}
	return dst
}

// decodeVarInt reads a Variable Byte Integer from r.
func decodeVarInt(r io.Reader) (int, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = &byteReader{r: r}
	}

	val, err := binary.ReadUvarint(br)
	if err != nil {
		return 0, err
	}
	if val > maxRemainingLength {
		return 0, fmt.Errorf("variable byte integer exceeds limit")
	}
	return int(val), nil
}

// byteReader adapts an io.Reader to io.ByteReader, one byte at a time.
type byteReader struct {
	r   io.Reader
	buf [1]byte
}

func (br *byteReader) ReadByte() (byte, error) {
	_, err := io.ReadFull(br.r, br.buf[:])
	return br.buf[0], err
}

// decodeVarIntBuf reads a Variable Byte Integer from the front of buf.
func decodeVarIntBuf(buf []byte) (int, int, error) {
	val, n := binary.Uvarint(buf)
	if n == 0 {
		return 0, 0, fmt.Errorf("buffer too short for variable byte integer")
	}
	if n < 0 {
		return 0, 0, fmt.Errorf("malformed variable byte integer")
	}
	if n > 4 || val > maxRemainingLength {
		return 0, 0, fmt.Errorf("variable byte integer exceeds limit")
	}
	return int(val), n, nil
}
