// Package queue implements the fixed-size, file-backed FIFO ring buffer
// the bridge uses to decouple ingestion from upstream delivery, per
// spec.md §4.8. Grounded on the original bridge's ring_buffer_2.rs: a
// single memory-mapped (here, plain file+pwrite) region divided into
// fixed blocks, each independently lockable, with atomic read/write
// cursors and a self-describing, hash-verified block format so a
// torn write is detected rather than silently corrupting the stream.
package queue

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// ErrMessageTooLarge is returned by Save when the payload does not fit in
// one block.
var ErrMessageTooLarge = errors.New("queue: message too large for block")

// ErrFull is returned by Save when the write would overwrite a block that
// has not yet been removed.
var ErrFull = errors.New("queue: ring buffer full")

// ErrNotHead is returned by Remove when offset is not the current read
// head, since removal is strict FIFO consumption.
var ErrNotHead = errors.New("queue: offset is not the current read head")

// ErrCorruptBlock is returned when a block's hashes or declared sizes
// don't check out. Init treats a block that fails a hash check or declares
// an oversized payload as empty rather than returning an error, and fails
// on a block whose intact header declares a different block_size.
var ErrCorruptBlock = errors.New("queue: corrupt block")

// Entry is one (offset, payload) pair returned by Load/BatchLoad.
type Entry struct {
	Offset  uint64
	Payload []byte
}

// Queue is a fixed-size file-backed FIFO of serialized publications.
type Queue struct {
	file      *os.File
	fileSize  int64
	blockSize int64
	numBlocks int64

	locks []sync.RWMutex

	writeIndex uint64
	readIndex  uint64
	removed    uint64 // count of blocks removed, for Full detection

	wakeMu sync.Mutex
	wakers map[uint64][]chan struct{}
}

// Open creates or reuses the file at path, sized to fileSize and divided
// into blocks of blockSize. Call Init before Save/Load on a reused file.
func Open(path string, fileSize, blockSize int64) (*Queue, error) {
	if blockSize <= 0 || fileSize <= 0 {
		return nil, fmt.Errorf("queue: block_size and file_size must be positive")
	}
	if blockSize > fileSize {
		return nil, fmt.Errorf("queue: block_size must not exceed file_size")
	}
	if fileSize%blockSize != 0 {
		return nil, fmt.Errorf("queue: file_size must be divisible by block_size")
	}
	if blockSize < minBlockSize {
		return nil, fmt.Errorf("queue: block_size must be at least %d", minBlockSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("queue: open backing file: %w", err)
	}
	if err := f.Truncate(fileSize); err != nil {
		f.Close()
		return nil, fmt.Errorf("queue: size backing file: %w", err)
	}

	numBlocks := fileSize / blockSize
	q := &Queue{
		file:      f,
		fileSize:  fileSize,
		blockSize: blockSize,
		numBlocks: numBlocks,
		locks:     make([]sync.RWMutex, numBlocks),
		wakers:    make(map[uint64][]chan struct{}),
	}
	return q, nil
}

// Close releases the backing file.
func (q *Queue) Close() error {
	return q.file.Close()
}

// Init scans forward from block 0 to find the boundary between non-empty
// and empty blocks, setting the read and write cursors accordingly. It
// fails if a block declares a block_size disagreeing with the configured
// one; a block that merely fails its hash check is treated as empty (a
// torn write from a crash, per spec.md §4.8's durability contract).
func (q *Queue) Init() error {
	var lastIndex uint64
	var found bool

	for i := int64(0); i < q.numBlocks; i++ {
		buf, err := q.readRaw(i)
		if err != nil {
			return err
		}
		if !isZero(buf) {
			attrBytes := buf[:attributesSize]
			if hashOf(attrBytes) == getHash(buf[attributesSize:attributesSize+hashSize]) {
				if declared := decodeAttributes(attrBytes).blockSize; int64(declared) != q.blockSize {
					return fmt.Errorf("queue: block %d declares block_size %d, configured %d", i, declared, q.blockSize)
				}
			}
		}
		payload, ok, err := decodeBlock(buf, int(q.blockSize))
		if err != nil {
			if errors.Is(err, ErrCorruptBlock) {
				break
			}
			return err
		}
		if !ok {
			break
		}
		_ = payload
		lastIndex = uint64(i)
		found = true
	}

	if !found {
		atomic.StoreUint64(&q.writeIndex, 0)
		atomic.StoreUint64(&q.readIndex, 0)
		return nil
	}
	atomic.StoreUint64(&q.readIndex, 0)
	atomic.StoreUint64(&q.writeIndex, lastIndex+1)
	return nil
}

func (q *Queue) slot(index uint64) int64 {
	return int64(index % uint64(q.numBlocks))
}

func (q *Queue) readRaw(slot int64) ([]byte, error) {
	buf := make([]byte, q.blockSize)
	_, err := q.file.ReadAt(buf, slot*q.blockSize)
	if err != nil && !errors.Is(err, os.ErrDeadlineExceeded) {
		// A fresh, never-written slot reads back as all zeros on most
		// filesystems for a file truncated to size; an actual short/EOF
		// read at a slot within file bounds indicates a real problem.
		if err.Error() != "EOF" {
			return nil, fmt.Errorf("queue: read block: %w", err)
		}
	}
	return buf, nil
}

func (q *Queue) writeRaw(slot int64, buf []byte) error {
	if _, err := q.file.WriteAt(buf, slot*q.blockSize); err != nil {
		return fmt.Errorf("queue: write block: %w", err)
	}
	return nil
}

// Save reserves the next write index and stores payload there, returning
// the absolute offset (monotonic index, not the wrapped slot) it was
// written at.
func (q *Queue) Save(payload []byte) (uint64, error) {
	if len(payload) > int(q.blockSize)-envelopeSize {
		return 0, ErrMessageTooLarge
	}

	writeIndex := atomic.AddUint64(&q.writeIndex, 1) - 1
	slot := q.slot(writeIndex)

	if writeIndex >= uint64(q.numBlocks) {
		removed := atomic.LoadUint64(&q.removed)
		if writeIndex-removed >= uint64(q.numBlocks) {
			return 0, ErrFull
		}
	}

	buf, err := encodeBlock(int(q.blockSize), writeIndex, payload)
	if err != nil {
		return 0, err
	}

	q.locks[slot].Lock()
	err = q.writeRaw(slot, buf)
	q.locks[slot].Unlock()
	if err != nil {
		return 0, err
	}

	q.wake(writeIndex)
	return writeIndex, nil
}

// Load reads the block at the current read cursor and advances it. It
// returns ok=false with no error when the head block is empty (nothing
// pending).
func (q *Queue) Load() (Entry, bool, error) {
	readIndex := atomic.AddUint64(&q.readIndex, 1) - 1
	slot := q.slot(readIndex)

	q.locks[slot].RLock()
	buf, err := q.readRaw(slot)
	q.locks[slot].RUnlock()
	if err != nil {
		atomic.AddUint64(&q.readIndex, ^uint64(0))
		return Entry{}, false, err
	}

	payload, ok, err := decodeBlock(buf, int(q.blockSize))
	if err != nil {
		atomic.AddUint64(&q.readIndex, ^uint64(0))
		return Entry{}, false, err
	}
	if !ok {
		atomic.AddUint64(&q.readIndex, ^uint64(0))
		return Entry{}, false, nil
	}
	return Entry{Offset: readIndex, Payload: payload}, true, nil
}

// BatchLoad calls Load up to n times, stopping early once the head block
// is found empty.
func (q *Queue) BatchLoad(n int) ([]Entry, error) {
	out := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		entry, ok, err := q.Load()
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		out = append(out, entry)
	}
	return out, nil
}

// Remove zeros the block at offset, which must be the current read head
// (strict FIFO consumption) — spec.md §4.8.
func (q *Queue) Remove(offset uint64) error {
	head := atomic.LoadUint64(&q.readIndex)
	if offset+1 != head && offset != head {
		return ErrNotHead
	}

	slot := q.slot(offset)
	zero := make([]byte, q.blockSize)
	q.locks[slot].Lock()
	err := q.writeRaw(slot, zero)
	q.locks[slot].Unlock()
	if err != nil {
		return err
	}
	atomic.AddUint64(&q.removed, 1)
	return nil
}

// Notify registers a waker for index that fires the next time Save
// targets that same (wrapped) slot, per spec.md §4.8's waker contract for
// a consumer that found its head block empty.
func (q *Queue) Notify(index uint64) <-chan struct{} {
	ch := make(chan struct{})
	slot := uint64(q.slot(index))
	q.wakeMu.Lock()
	q.wakers[slot] = append(q.wakers[slot], ch)
	q.wakeMu.Unlock()
	return ch
}

func (q *Queue) wake(index uint64) {
	slot := uint64(q.slot(index))
	q.wakeMu.Lock()
	waiting := q.wakers[slot]
	delete(q.wakers, slot)
	q.wakeMu.Unlock()
	for _, ch := range waiting {
		close(ch)
	}
}
