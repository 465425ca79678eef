package broker

import "fmt"

// Kind classifies a broker-level error, mirroring spec.md §7's error kinds.
type Kind int

const (
	KindCodec Kind = iota
	KindProtocolViolation
	KindNotAuthorized
	KindSessionOffline
	KindPacketIdentifiersExhausted
	KindQueueFull
	KindBridgeUpstreamUnavailable
	KindAuthPortTransient
	KindAuthPortPermanent
)

func (k Kind) String() string {
	switch k {
	case KindCodec:
		return "Codec"
	case KindProtocolViolation:
		return "ProtocolViolation"
	case KindNotAuthorized:
		return "NotAuthorized"
	case KindSessionOffline:
		return "SessionOffline"
	case KindPacketIdentifiersExhausted:
		return "PacketIdentifiersExhausted"
	case KindQueueFull:
		return "QueueFull"
	case KindBridgeUpstreamUnavailable:
		return "BridgeUpstreamUnavailable"
	case KindAuthPortTransient:
		return "AuthPortTransient"
	case KindAuthPortPermanent:
		return "AuthPortPermanent"
	default:
		return "Unknown"
	}
}

// ProtocolError is a structured error carrying the MQTT return/reason code
// appropriate to its kind, mirroring the teacher's *MqttError shape
// (errors.go: ReasonCode + Message + Parent, with Unwrap/Is).
type ProtocolError struct {
	Kind       Kind
	ReturnCode uint8
	Message    string
	Parent     error
}

func (e *ProtocolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind.String()
}

func (e *ProtocolError) Unwrap() error { return e.Parent }

func (e *ProtocolError) Is(target error) bool {
	other, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	return e.Kind == other.Kind
}
