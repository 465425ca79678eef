package translation

import "testing"

func TestIncomingPublishMessageEvents(t *testing.T) {
	got, ok := IncomingPublish("device_1", "devices/device_1/messages/events")
	if !ok || got != "$edgehub/device_1/messages/events" {
		t.Fatalf("got (%q, %v)", got, ok)
	}
}

func TestIncomingPublishMessageEventsWithPath(t *testing.T) {
	got, ok := IncomingPublish("device_1", "devices/device_1/messages/events/route_1/input")
	if !ok || got != "$edgehub/device_1/messages/events/route_1/input" {
		t.Fatalf("got (%q, %v)", got, ok)
	}
}

func TestIncomingPublishUnrecognizedTopicPassesThrough(t *testing.T) {
	if _, ok := IncomingPublish("client_a", "blagh"); ok {
		t.Fatalf("expected no translation for unrecognized topic")
	}
	if _, ok := IncomingPublish("client_a", "$iothub/blagh"); ok {
		t.Fatalf("expected no translation for unmatched $iothub topic")
	}
}

func TestIncomingPublishTwinReportedUsesClientID(t *testing.T) {
	got, ok := IncomingPublish("client_a", "$iothub/twin/PATCH/properties/reported/?rid=1")
	if !ok || got != "$edgehub/client_a/twin/reported/?rid=1" {
		t.Fatalf("got (%q, %v)", got, ok)
	}
}

func TestSubscribeAndPublishRoundTripC2DMessage(t *testing.T) {
	newTopic, ok := IncomingSubscribe("device_1", "devices/device_1/messages/devicebound")
	if !ok || newTopic != "$edgehub/device_1/messages/c2d/post" {
		t.Fatalf("IncomingSubscribe got (%q, %v)", newTopic, ok)
	}

	oldTopic, ok := OutgoingPublish(newTopic)
	if !ok || oldTopic != "devices/device_1/messages/devicebound" {
		t.Fatalf("OutgoingPublish got (%q, %v)", oldTopic, ok)
	}
}

func TestSubscribeAndPublishRoundTripTwinDesired(t *testing.T) {
	newTopic, ok := IncomingSubscribe("client_a", "$iothub/twin/PATCH/properties/desired/?rid=1")
	if !ok || newTopic != "$edgehub/client_a/twin/desired/?rid=1" {
		t.Fatalf("IncomingSubscribe got (%q, %v)", newTopic, ok)
	}

	oldTopic, ok := OutgoingPublish(newTopic)
	if !ok || oldTopic != "$iothub/twin/PATCH/properties/desired/?rid=1" {
		t.Fatalf("OutgoingPublish got (%q, %v)", oldTopic, ok)
	}
}

func TestOutgoingPublishDirectMethodRequest(t *testing.T) {
	newTopic, ok := IncomingSubscribe("client_a", "$iothub/methods/POST/#")
	if !ok || newTopic != "$edgehub/client_a/methods/post/#" {
		t.Fatalf("IncomingSubscribe got (%q, %v)", newTopic, ok)
	}

	oldTopic, ok := OutgoingPublish("$edgehub/client_a/methods/post/my_method/?rid=5")
	if !ok || oldTopic != "$iothub/methods/POST/my_method/?rid=5" {
		t.Fatalf("OutgoingPublish got (%q, %v)", oldTopic, ok)
	}
}

func TestOutgoingPublishUnrecognizedPassesThrough(t *testing.T) {
	if _, ok := OutgoingPublish("$edgehub/client_a/custom/topic"); ok {
		t.Fatalf("expected no translation for unrecognized edge topic")
	}
	if _, ok := OutgoingPublish("not/edgehub/prefixed"); ok {
		t.Fatalf("expected no translation for non-edgehub topic")
	}
}
