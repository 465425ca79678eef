package queue

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// attributesSize is the fixed-width encoding of {block_size, data_size,
// index}, each a big-endian uint64, per spec.md §4.8.
const attributesSize = 8 + 8 + 8

// hashSize is the width of the fixed content-hash used for both the
// attributes hash and the payload hash (xxhash64, truncated to nothing —
// it is already 8 bytes).
const hashSize = 8

// envelopeSize is attributes || attributes_hash || payload_hash, the
// fixed overhead every block pays regardless of payload length. A block
// must be at least twice this so at least one byte of payload fits, per
// spec.md §4.8.
const envelopeSize = attributesSize + hashSize + hashSize

// minBlockSize is the smallest legal block size.
const minBlockSize = 2 * envelopeSize

type attributes struct {
	blockSize uint64
	dataSize  uint64
	index     uint64
}

func (a attributes) encode() []byte {
	buf := make([]byte, attributesSize)
	binary.BigEndian.PutUint64(buf[0:8], a.blockSize)
	binary.BigEndian.PutUint64(buf[8:16], a.dataSize)
	binary.BigEndian.PutUint64(buf[16:24], a.index)
	return buf
}

func decodeAttributes(buf []byte) attributes {
	return attributes{
		blockSize: binary.BigEndian.Uint64(buf[0:8]),
		dataSize:  binary.BigEndian.Uint64(buf[8:16]),
		index:     binary.BigEndian.Uint64(buf[16:24]),
	}
}

func hashOf(b []byte) uint64 {
	return xxhash.Sum64(b)
}

func putHash(dst []byte, h uint64) {
	binary.BigEndian.PutUint64(dst, h)
}

func getHash(src []byte) uint64 {
	return binary.BigEndian.Uint64(src)
}

// encodeBlock serializes attrs||attrs_hash||payload||payload_hash into a
// buffer of exactly blockSize bytes, zero-padding the unused payload tail.
func encodeBlock(blockSize int, index uint64, payload []byte) ([]byte, error) {
	if len(payload) > blockSize-envelopeSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds capacity %d", ErrMessageTooLarge, len(payload), blockSize-envelopeSize)
	}

	attrs := attributes{blockSize: uint64(blockSize), dataSize: uint64(len(payload)), index: index}
	attrBytes := attrs.encode()
	attrHash := hashOf(attrBytes)
	payloadHash := hashOf(payload)

	buf := make([]byte, blockSize)
	off := 0
	copy(buf[off:], attrBytes)
	off += attributesSize
	putHash(buf[off:off+hashSize], attrHash)
	off += hashSize
	copy(buf[off:], payload)
	off += blockSize - envelopeSize
	putHash(buf[off:off+hashSize], payloadHash)
	return buf, nil
}

// decodeBlock validates and extracts the payload from a raw block buffer.
// It returns ok=false (with no error) for an all-zero block, which is the
// ring buffer's representation of "empty" per spec.md §4.8.
func decodeBlock(buf []byte, expectedBlockSize int) (payload []byte, ok bool, err error) {
	if isZero(buf) {
		return nil, false, nil
	}

	off := 0
	attrBytes := buf[off : off+attributesSize]
	attrs := decodeAttributes(attrBytes)
	off += attributesSize

	wantAttrHash := getHash(buf[off : off+hashSize])
	off += hashSize
	if gotAttrHash := hashOf(attrBytes); gotAttrHash != wantAttrHash {
		return nil, false, fmt.Errorf("%w: attributes hash mismatch", ErrCorruptBlock)
	}

	if int(attrs.blockSize) != expectedBlockSize {
		return nil, false, fmt.Errorf("%w: block declares size %d, buffer is %d", ErrCorruptBlock, attrs.blockSize, expectedBlockSize)
	}

	capacity := expectedBlockSize - envelopeSize
	if int(attrs.dataSize) > capacity {
		return nil, false, fmt.Errorf("%w: declared data size %d exceeds capacity %d", ErrCorruptBlock, attrs.dataSize, capacity)
	}

	data := buf[off : off+capacity]
	off += capacity
	wantPayloadHash := getHash(buf[off : off+hashSize])

	payload = data[:attrs.dataSize]
	if gotPayloadHash := hashOf(payload); gotPayloadHash != wantPayloadHash {
		return nil, false, fmt.Errorf("%w: payload hash mismatch", ErrCorruptBlock)
	}
	return append([]byte(nil), payload...), true, nil
}

func isZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}
