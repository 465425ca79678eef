package session

import "testing"

func noopValidate(string) error { return nil }

func TestSubscribeAndUnsubscribe(t *testing.T) {
	s := New("c1", "127.0.0.1:1", true, 10, DropNew)

	granted, err := s.SubscribeTo("a/b", 1, noopValidate)
	if err != nil || granted != 1 {
		t.Fatalf("SubscribeTo: granted=%d err=%v", granted, err)
	}
	if len(s.Subscriptions()) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(s.Subscriptions()))
	}

	// Re-subscribing replaces max_qos.
	granted, err = s.SubscribeTo("a/b", 0, noopValidate)
	if err != nil || granted != 0 {
		t.Fatalf("resubscribe: granted=%d err=%v", granted, err)
	}
	if len(s.Subscriptions()) != 1 {
		t.Fatalf("expected resubscribe to replace, got %d entries", len(s.Subscriptions()))
	}

	s.Unsubscribe("a/b")
	if len(s.Subscriptions()) != 0 {
		t.Fatalf("expected 0 subscriptions after unsubscribe, got %d", len(s.Subscriptions()))
	}
}

func TestHandlePublishQoS0(t *testing.T) {
	s := New("c1", "", true, 10, DropNew)
	pub, id, needsPuback, needsPubrec, err := s.HandlePublish(Publication{Topic: "a", QoS: 0}, 0, false)
	if err != nil || pub == nil || needsPuback || needsPubrec || id != 0 {
		t.Fatalf("unexpected result: pub=%v id=%d puback=%v pubrec=%v err=%v", pub, id, needsPuback, needsPubrec, err)
	}
}

func TestHandlePublishQoS2DuplicateRules(t *testing.T) {
	s := New("c1", "", true, 10, DropNew)

	pub, id, _, needsPubrec, err := s.HandlePublish(Publication{Topic: "a", QoS: 2}, 5, false)
	if err != nil || pub != nil || !needsPubrec || id != 5 {
		t.Fatalf("first QoS2 publish: pub=%v id=%d pubrec=%v err=%v", pub, id, needsPubrec, err)
	}

	// Retransmit without DUP must fail the connection.
	if _, _, _, _, err := s.HandlePublish(Publication{Topic: "a", QoS: 2}, 5, false); err != ErrDuplicateQoS2NotMarkedDuplicate {
		t.Fatalf("expected ErrDuplicateQoS2NotMarkedDuplicate, got %v", err)
	}

	// Retransmit with DUP must be silently absorbed (still owes PUBREC).
	pub, _, _, needsPubrec, err = s.HandlePublish(Publication{Topic: "a", QoS: 2}, 5, true)
	if err != nil || pub != nil || !needsPubrec {
		t.Fatalf("dup retransmit: pub=%v pubrec=%v err=%v", pub, needsPubrec, err)
	}

	route, ok := s.HandlePubRel(5)
	if !ok || route == nil || route.Topic != "a" {
		t.Fatalf("HandlePubRel: route=%v ok=%v", route, ok)
	}

	if _, ok := s.HandlePubRel(5); ok {
		t.Fatal("second PUBREL for same id should find nothing buffered")
	}
}

func TestQoS2FullHandshake(t *testing.T) {
	s := New("c1", "", true, 10, DropNew)

	if err := s.PublishTo(Publication{Topic: "a", QoS: 2, Payload: []byte("x")}, 2); err != nil {
		t.Fatalf("PublishTo: %v", err)
	}
	entries := s.DequeueAll()
	if len(entries) != 1 || !entries[0].HasPacketID {
		t.Fatalf("expected one queued entry with packet id, got %+v", entries)
	}
	id := entries[0].PacketID

	if needsPubrel := s.HandlePubRec(id); !needsPubrel {
		t.Fatal("expected HandlePubRec to require PUBREL")
	}
	s.HandlePubComp(id)

	if s.ids.inUse(id) {
		t.Fatal("packet id should be released after PUBCOMP")
	}
}

func TestEffectiveQoSIsMinOfPublishAndSubscription(t *testing.T) {
	s := New("c1", "", true, 10, DropNew)
	if err := s.PublishTo(Publication{Topic: "a", QoS: 2}, 1); err != nil {
		t.Fatalf("PublishTo: %v", err)
	}
	entries := s.DequeueAll()
	if len(entries) != 1 || entries[0].Publication.QoS != 1 {
		t.Fatalf("expected effective QoS 1, got %+v", entries)
	}
}

func TestPacketIdentifiersExhausted(t *testing.T) {
	s := New("c1", "", true, 100000, DropNew)
	for i := 0; i < 65535; i++ {
		if err := s.PublishTo(Publication{Topic: "a", QoS: 1}, 1); err != nil {
			t.Fatalf("unexpected exhaustion at %d: %v", i, err)
		}
	}
	if err := s.PublishTo(Publication{Topic: "a", QoS: 1}, 1); err != ErrPacketIdentifiersExhausted {
		t.Fatalf("expected ErrPacketIdentifiersExhausted, got %v", err)
	}
}

func TestReplayOrderingAndSessionPresentFalseReset(t *testing.T) {
	s := New("c1", "", true, 10, DropNew)
	s.PublishTo(Publication{Topic: "a", QoS: 1}, 1) // id 1
	s.PublishTo(Publication{Topic: "b", QoS: 2}, 2) // id 2
	s.DequeueAll()

	// Move id 2 into waitingToBeCompleted via PUBREC.
	entries := []uint16{1, 2}
	_ = entries
	s.HandlePubRec(2)

	replay := s.PrepareReplay(true)
	if len(replay.Publishes) != 2 {
		t.Fatalf("expected 2 replayed publishes, got %d", len(replay.Publishes))
	}
	if replay.Publishes[0].PacketID != 1 || replay.Publishes[1].PacketID != 2 {
		t.Fatalf("expected ascending packet-id order, got %+v", replay.Publishes)
	}
	for _, p := range replay.Publishes {
		if !p.Dup {
			t.Fatalf("replayed publish %d must have DUP=1", p.PacketID)
		}
	}
}

func TestReplaySessionPresentFalseRestartsQoS2(t *testing.T) {
	s := New("c1", "", true, 10, DropNew)
	s.PublishTo(Publication{Topic: "b", QoS: 2}, 2)
	s.DequeueAll()
	id := uint16(1)
	for idd := range s.waitingToBeAcked {
		id = idd
	}
	s.HandlePubRec(id)

	replay := s.PrepareReplay(false)
	if len(replay.Publishes) != 1 {
		t.Fatalf("expected the QoS2 publish to be replayed from PUBLISH, got %d", len(replay.Publishes))
	}
	if _, ok := s.waitingToBeCompleted[id]; ok {
		t.Fatal("waitingToBeCompleted should be drained on session_present=false reset")
	}
}

func TestOutboundQueueDropNewRejectsOnFull(t *testing.T) {
	s := New("c1", "", true, 2, DropNew)
	s.PublishTo(Publication{Topic: "a", QoS: 0}, 0)
	s.PublishTo(Publication{Topic: "b", QoS: 0}, 0)
	if err := s.PublishTo(Publication{Topic: "c", QoS: 0}, 0); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestOutboundQueueDropOldEvictsQoS0First(t *testing.T) {
	s := New("c1", "", true, 2, DropOld)
	s.PublishTo(Publication{Topic: "qos1", QoS: 1}, 1)
	s.PublishTo(Publication{Topic: "qos0", QoS: 0}, 0)
	if err := s.PublishTo(Publication{Topic: "new", QoS: 0}, 0); err != nil {
		t.Fatalf("PublishTo: %v", err)
	}
	entries := s.DequeueAll()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after eviction, got %d", len(entries))
	}
	if entries[0].Publication.Topic != "qos1" || entries[1].Publication.Topic != "new" {
		t.Fatalf("expected qos0 entry evicted first, got %+v", entries)
	}
}
