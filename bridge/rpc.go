package bridge

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
)

// rpcCommandTopic matches the reserved local control-channel topic space,
// exactly per spec.md §4.7.1.
var rpcCommandTopic = regexp.MustCompile(`\$upstream/rpc/([^/ ]+)`)

const (
	rpcAckTopicPrefix  = "$edgehub/rpc/ack/"
	rpcNackTopicPrefix = "$edgehub/rpc/nack/"
)

// rpcCommand is the tagged-union document a local publisher sends on
// `$upstream/rpc/{id}` to drive the bridge's upstream connection.
type rpcCommand struct {
	Version string `json:"version"`
	Cmd     string `json:"cmd"`
	Topic   string `json:"topic,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

type rpcNack struct {
	Reason string `json:"reason"`
}

// LocalPublisher delivers the bridge's ack/nack replies to the local
// (downstream) broker, e.g. the edge hub's own Hub.Submit-backed publish
// path.
type LocalPublisher interface {
	PublishLocal(topic string, payload []byte, qos uint8, retain bool)
}

// RPCHandler processes commands arriving on the reserved control topic
// space and replies with acks/nacks, grounded on the bridge's own
// publish/subscribe completion semantics (token.go, client.go).
type RPCHandler struct {
	client    *Client
	publisher LocalPublisher
	logger    *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewRPCHandler wires an RPCHandler to client's upstream connection and a
// publisher for downstream ack/nack delivery.
func NewRPCHandler(client *Client, publisher LocalPublisher, logger *slog.Logger) *RPCHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RPCHandler{
		client:    client,
		publisher: publisher,
		logger:    logger,
		inFlight:  make(map[string]struct{}),
	}
}

// HandleLocalPublish inspects topic for the RPC command prefix and, when
// matched, dispatches the embedded command asynchronously. It returns
// false when topic is not an RPC command, so callers can fall through to
// ordinary relay handling.
func (h *RPCHandler) HandleLocalPublish(topic string, payload []byte) bool {
	m := rpcCommandTopic.FindStringSubmatch(topic)
	if m == nil {
		return false
	}
	id := m[1]

	var cmd rpcCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		h.nack(id, fmt.Sprintf("malformed command: %v", err))
		return true
	}
	if cmd.Version != "v1" {
		h.nack(id, fmt.Sprintf("unsupported command version %q", cmd.Version))
		return true
	}

	h.mu.Lock()
	if _, dup := h.inFlight[id]; dup {
		h.logger.Warn("duplicate in-flight rpc command id", "id", id)
	}
	h.inFlight[id] = struct{}{}
	h.mu.Unlock()

	go h.dispatch(id, cmd)
	return true
}

func (h *RPCHandler) dispatch(id string, cmd rpcCommand) {
	defer func() {
		h.mu.Lock()
		delete(h.inFlight, id)
		h.mu.Unlock()
	}()

	var tok Token
	switch cmd.Cmd {
	case "sub":
		tok = h.client.Subscribe(cmd.Topic, 1, nil)
	case "unsub":
		tok = h.client.Unsubscribe(cmd.Topic)
	case "pub":
		tok = h.client.Publish(cmd.Topic, cmd.Payload, 1, false)
	default:
		h.nack(id, fmt.Sprintf("unknown command %q", cmd.Cmd))
		return
	}

	<-tok.Done()
	if err := tok.Error(); err != nil {
		h.nack(id, err.Error())
		return
	}
	h.ack(id)
}

func (h *RPCHandler) ack(id string) {
	h.publisher.PublishLocal(rpcAckTopicPrefix+id, nil, 0, false)
}

func (h *RPCHandler) nack(id, reason string) {
	body, _ := json.Marshal(rpcNack{Reason: reason})
	h.publisher.PublishLocal(rpcNackTopicPrefix+id, body, 0, false)
}
