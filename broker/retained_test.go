package broker

import (
	"testing"

	"github.com/gonzalop/edgemqtt/internal/topic"
	"github.com/gonzalop/edgemqtt/session"
)

func TestRetainedStoreUpdateAndRemove(t *testing.T) {
	r := newRetainedStore()
	r.update(session.Publication{Topic: "a/b", Payload: []byte("1"), Retain: true})

	matches := r.matching(topic.Match, "a/+")
	if len(matches) != 1 || string(matches[0].Payload) != "1" {
		t.Fatalf("expected one retained match, got %+v", matches)
	}

	r.update(session.Publication{Topic: "a/b", Payload: nil, Retain: true})
	matches = r.matching(topic.Match, "a/+")
	if len(matches) != 0 {
		t.Fatalf("expected retained entry removed by zero-length payload, got %+v", matches)
	}
}

func TestRetainedStoreMatchesWildcardFilters(t *testing.T) {
	r := newRetainedStore()
	r.update(session.Publication{Topic: "devices/1/temp", Payload: []byte("20"), Retain: true})
	r.update(session.Publication{Topic: "devices/2/temp", Payload: []byte("22"), Retain: true})
	r.update(session.Publication{Topic: "devices/1/humidity", Payload: []byte("40"), Retain: true})

	matches := r.matching(topic.Match, "devices/+/temp")
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches for devices/+/temp, got %d", len(matches))
	}

	matches = r.matching(topic.Match, "devices/#")
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches for devices/#, got %d", len(matches))
	}
}
