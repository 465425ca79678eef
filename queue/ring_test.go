package queue

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ring.bin")
	q, err := Open(path, 16*1024, 1024)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := q.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func TestSaveLoadRoundTrip(t *testing.T) {
	q := newTestQueue(t)

	offset, err := q.Save([]byte("hello"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if offset != 0 {
		t.Fatalf("expected first offset 0, got %d", offset)
	}

	entry, ok, err := q.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatalf("expected a loaded entry")
	}
	if string(entry.Payload) != "hello" {
		t.Fatalf("expected payload %q, got %q", "hello", entry.Payload)
	}
}

func TestLoadOnEmptyQueueReturnsFalse(t *testing.T) {
	q := newTestQueue(t)
	_, ok, err := q.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatalf("expected no entry on empty queue")
	}
}

func TestSaveRejectsOversizedPayload(t *testing.T) {
	q := newTestQueue(t)
	big := make([]byte, 2048)
	if _, err := q.Save(big); !errors.Is(err, ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestBatchLoadStopsAtEmptyBlock(t *testing.T) {
	q := newTestQueue(t)
	q.Save([]byte("one"))
	q.Save([]byte("two"))

	entries, err := q.BatchLoad(5)
	if err != nil {
		t.Fatalf("BatchLoad: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
}

func TestRemoveRequiresHeadOffset(t *testing.T) {
	q := newTestQueue(t)
	q.Save([]byte("a"))
	q.Save([]byte("b"))

	entry, _, _ := q.Load()
	if err := q.Remove(entry.Offset); err != nil {
		t.Fatalf("Remove at head: %v", err)
	}
}

func TestNotifyWakesOnMatchingSave(t *testing.T) {
	q := newTestQueue(t)
	woken := q.Notify(0)

	select {
	case <-woken:
		t.Fatalf("waker fired before any save")
	default:
	}

	if _, err := q.Save([]byte("x")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	select {
	case <-woken:
	default:
		t.Fatalf("expected waker to fire after save to same slot")
	}
}

func TestInitRecoversWriteCursorAfterReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring.bin")
	q, err := Open(path, 16*1024, 1024)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := q.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	q.Save([]byte("persisted"))
	q.Close()

	q2, err := Open(path, 16*1024, 1024)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer q2.Close()
	if err := q2.Init(); err != nil {
		t.Fatalf("Init after reopen: %v", err)
	}

	entry, ok, err := q2.Load()
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if !ok || string(entry.Payload) != "persisted" {
		t.Fatalf("expected recovered entry, got %+v ok=%v", entry, ok)
	}
}
