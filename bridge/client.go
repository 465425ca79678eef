// Package bridge implements the long-lived upstream MQTT client described
// in spec.md §4.7: credential-driven reconnect with exponential backoff,
// subscription restoration on every new connection, and Token-returning
// publish/subscribe handles for higher layers (the broker hub's relay
// path). Grounded throughout on the teacher's own Client (client.go),
// turned from "the application's one connection to a broker" into "the
// hub's one connection to the upstream broker."
package bridge

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gonzalop/edgemqtt/internal/topic"
	"github.com/gonzalop/edgemqtt/internal/wire"
)

// ErrClientDoesNotExist is returned by Publish/Subscribe/Unsubscribe once
// the client has been shut down, per spec.md §4.7.
var ErrClientDoesNotExist = errors.New("bridge client does not exist")

// MessageHandler receives publications delivered from the upstream broker.
type MessageHandler func(topic string, payload []byte, qos uint8, retain bool)

// Options configures a Client.
type Options struct {
	Addr          string
	ClientID      string
	CleanSession  bool
	KeepAlive     time.Duration
	Credentials   CredentialProvider
	TrustBundle   TrustBundleSource
	Dialer        Dialer
	ConnectTimeout time.Duration

	// InitialBackoff and MaxBackoff bound the reconnect loop's exponential
	// backoff, mirroring the teacher's reconnectLoop (client.go:
	// backoff := time.Second; maxBackoff := 2*time.Minute).
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	MaxIncomingPacket int

	DefaultHandler MessageHandler
	Logger         *slog.Logger
}

type subscriptionEntry struct {
	qos     uint8
	handler MessageHandler
}

type pendingOp struct {
	packet    wire.Packet
	token     *token
	timestamp time.Time
}

// Client is the bridge's upstream connection: one TCP/TLS/WebSocket
// connection to the upstream broker, reconnected automatically.
type Client struct {
	opts Options

	mu            sync.Mutex
	framer        *wire.Framer
	connected     bool
	subscriptions map[string]subscriptionEntry
	pending       map[uint16]*pendingOp
	nextPacketID  uint16

	outgoing chan wire.Packet
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	reconnects int
}

// New constructs a bridge client. Call Start to begin connecting.
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 2 * time.Minute
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &Client{
		opts:          opts,
		subscriptions: make(map[string]subscriptionEntry),
		pending:       make(map[uint16]*pendingOp),
		outgoing:      make(chan wire.Packet, 256),
		stop:          make(chan struct{}),
	}
}

// Start dials the upstream broker and begins the reconnect loop. It makes
// one connection attempt and returns its error if that attempt fails; the
// reconnect loop is started only after it succeeds.
func (c *Client) Start(ctx context.Context) error {
	if err := c.connect(ctx); err != nil {
		return err
	}
	c.wg.Add(1)
	go c.reconnectLoop()
	return nil
}

// Stop tears the client down; every Token still outstanding completes
// with ErrClientDoesNotExist and subsequent calls fail the same way.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		for _, op := range c.pending {
			op.token.complete(ErrClientDoesNotExist)
		}
		c.pending = map[uint16]*pendingOp{}
		if c.framer != nil {
			c.framer.Close()
		}
		c.mu.Unlock()
	})
	c.wg.Wait()
}

func (c *Client) isStopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// connect performs one connection attempt: dial, obtain credentials,
// handshake, and spin up the read/write pumps.
func (c *Client) connect(ctx context.Context) error {
	var tlsConfig *tls.Config
	if c.opts.TrustBundle != nil {
		bundle, err := c.opts.TrustBundle.TrustBundle(ctx)
		if err != nil {
			return fmt.Errorf("fetch trust bundle: %w", err)
		}
		tlsConfig = bundle
	}

	creds := Credentials{}
	if c.opts.Credentials != nil {
		var err error
		creds, err = c.opts.Credentials.Credentials(ctx)
		if err != nil {
			return fmt.Errorf("obtain credentials: %w", err)
		}
		if creds.Certificate != nil {
			if tlsConfig == nil {
				tlsConfig = &tls.Config{}
			}
			tlsConfig.Certificates = []tls.Certificate{*creds.Certificate}
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	conn, err := dialUpstream(dialCtx, c.opts.Addr, tlsConfig, c.opts.Dialer)
	if err != nil {
		return fmt.Errorf("dial upstream: %w", err)
	}

	maxIncoming := c.opts.MaxIncomingPacket
	if maxIncoming <= 0 {
		maxIncoming = wire.MaxPacketSize
	}
	framer := wire.NewFramer(conn, maxIncoming)

	connect := &wire.ConnectPacket{
		ClientID:     c.opts.ClientID,
		CleanSession: c.opts.CleanSession,
		KeepAlive:    uint16(c.opts.KeepAlive / time.Second),
	}
	if creds.Username != "" {
		connect.UsernameFlag = true
		connect.Username = creds.Username
	}
	if len(creds.Password) > 0 {
		connect.PasswordFlag = true
		connect.Password = creds.Password
	}
	if err := framer.WritePacket(connect); err != nil {
		framer.Close()
		return fmt.Errorf("write CONNECT: %w", err)
	}

	pkt, err := framer.ReadPacket()
	if err != nil {
		framer.Close()
		return fmt.Errorf("read CONNACK: %w", err)
	}
	connack, ok := pkt.(*wire.ConnackPacket)
	if !ok {
		framer.Close()
		return fmt.Errorf("expected CONNACK, got %T", pkt)
	}
	if connack.ReturnCode != wire.ConnAccepted {
		framer.Close()
		return fmt.Errorf("upstream refused connection: return code %d", connack.ReturnCode)
	}

	framer.SetKeepAlive(c.opts.KeepAlive)

	c.mu.Lock()
	c.framer = framer
	c.connected = true
	c.mu.Unlock()

	c.wg.Add(2)
	go c.readPump()
	go c.writePump()
	if c.opts.KeepAlive > 0 {
		c.wg.Add(1)
		go c.pingLoop(framer)
	}

	c.opts.Logger.Debug("bridge connected", "addr", c.opts.Addr, "session_present", connack.SessionPresent)

	if !connack.SessionPresent {
		c.resubscribeAll()
	}
	return nil
}

// reconnectLoop is the teacher's reconnectLoop (client.go), retargeted to
// the bridge's credential-obtaining connect.
func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	backoff := c.opts.InitialBackoff
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		c.mu.Lock()
		stillConnected := c.connected
		c.mu.Unlock()
		if stillConnected {
			time.Sleep(backoff)
			continue
		}

		c.reconnects++
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
		err := c.connect(ctx)
		cancel()
		if err != nil {
			c.opts.Logger.Warn("bridge reconnect failed", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-c.stop:
				return
			}
			backoff = min(backoff*2, c.opts.MaxBackoff)
			continue
		}
		backoff = c.opts.InitialBackoff
	}
}

// resubscribeAll restores every known subscription on a fresh connection,
// grounded on the teacher's resubscribeAll (client.go).
func (c *Client) resubscribeAll() {
	c.mu.Lock()
	filters := make([]string, 0, len(c.subscriptions))
	qos := make([]uint8, 0, len(c.subscriptions))
	for filter, entry := range c.subscriptions {
		filters = append(filters, filter)
		qos = append(qos, entry.qos)
	}
	c.mu.Unlock()
	if len(filters) == 0 {
		return
	}

	id := c.allocatePacketID()
	pkt := &wire.SubscribePacket{PacketID: id, Topics: filters, QoS: qos}
	select {
	case c.outgoing <- pkt:
	case <-c.stop:
	}
}

func (c *Client) allocatePacketID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	for range 65535 {
		c.nextPacketID++
		if c.nextPacketID == 0 {
			c.nextPacketID = 1
		}
		if _, used := c.pending[c.nextPacketID]; !used {
			return c.nextPacketID
		}
	}
	return c.nextPacketID
}

func (c *Client) readPump() {
	defer c.wg.Done()
	c.mu.Lock()
	framer := c.framer
	c.mu.Unlock()

	for {
		pkt, err := framer.ReadPacket()
		if err != nil {
			c.handleDisconnect()
			return
		}
		c.handleIncoming(pkt)
	}
}

func (c *Client) writePump() {
	defer c.wg.Done()
	c.mu.Lock()
	framer := c.framer
	c.mu.Unlock()

	for {
		select {
		case pkt := <-c.outgoing:
			if err := framer.WritePacket(pkt); err != nil {
				c.handleDisconnect()
				return
			}
		case <-c.stop:
			return
		}
	}
}

// pingLoop sends PINGREQ at half the negotiated keep-alive interval,
// stopping once this connection's framer has been replaced or the client
// shut down. Grounded on the teacher's own keepalive ticker in client.go.
func (c *Client) pingLoop(framer *wire.Framer) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.KeepAlive / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			current := c.framer
			c.mu.Unlock()
			if current != framer {
				return
			}
			select {
			case c.outgoing <- &wire.PingreqPacket{}:
			case <-c.stop:
				return
			}
		case <-c.stop:
			return
		}
	}
}

func (c *Client) handleDisconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	if c.framer != nil {
		c.framer.Close()
	}
	c.mu.Unlock()
}

func (c *Client) handleIncoming(pkt wire.Packet) {
	switch p := pkt.(type) {
	case *wire.PublishPacket:
		c.handlePublish(p)
	case *wire.PubackPacket:
		c.completePending(p.PacketID, nil)
	case *wire.SubackPacket:
		c.completePending(p.PacketID, subackError(p))
	case *wire.UnsubackPacket:
		c.completePending(p.PacketID, nil)
	case *wire.PubrecPacket:
		select {
		case c.outgoing <- &wire.PubrelPacket{PacketID: p.PacketID}:
		case <-c.stop:
		}
	case *wire.PubcompPacket:
		c.completePending(p.PacketID, nil)
	case *wire.PingrespPacket:
	}
}

func subackError(p *wire.SubackPacket) error {
	for _, code := range p.ReturnCodes {
		if code >= 0x80 {
			return fmt.Errorf("subscription rejected")
		}
	}
	return nil
}

func (c *Client) completePending(id uint16, err error) {
	c.mu.Lock()
	op, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok {
		op.token.complete(err)
	}
}

func (c *Client) handlePublish(p *wire.PublishPacket) {
	c.mu.Lock()
	var handler MessageHandler
	for filter, entry := range c.subscriptions {
		if topic.Match(filter, p.Topic) && entry.handler != nil {
			handler = entry.handler
			break
		}
	}
	if handler == nil {
		handler = c.opts.DefaultHandler
	}
	c.mu.Unlock()

	if handler != nil {
		go handler(p.Topic, p.Payload, p.QoS, p.Retain)
	}

	switch p.QoS {
	case 1:
		select {
		case c.outgoing <- &wire.PubackPacket{PacketID: p.PacketID}:
		case <-c.stop:
		}
	case 2:
		select {
		case c.outgoing <- &wire.PubrecPacket{PacketID: p.PacketID}:
		case <-c.stop:
		}
	}
}

// Publish sends a message upstream, returning a Token completed once the
// ack for its QoS arrives (immediately for QoS 0).
func (c *Client) Publish(topic string, payload []byte, qos uint8, retain bool) Token {
	t := newToken()
	if c.isStopped() {
		t.complete(ErrClientDoesNotExist)
		return t
	}

	pkt := &wire.PublishPacket{Topic: topic, QoS: qos, Retain: retain, Payload: payload}
	if qos == 0 {
		select {
		case c.outgoing <- pkt:
			t.complete(nil)
		case <-c.stop:
			t.complete(ErrClientDoesNotExist)
		}
		return t
	}

	id := c.allocatePacketID()
	pkt.PacketID = id
	c.mu.Lock()
	c.pending[id] = &pendingOp{packet: pkt, token: t, timestamp: time.Now()}
	c.mu.Unlock()

	select {
	case c.outgoing <- pkt:
	case <-c.stop:
		t.complete(ErrClientDoesNotExist)
	}
	return t
}

// Subscribe registers handler for filter at qos, returning a Token
// completed once the upstream SUBACK arrives.
func (c *Client) Subscribe(filter string, qos uint8, handler MessageHandler) Token {
	t := newToken()
	if c.isStopped() {
		t.complete(ErrClientDoesNotExist)
		return t
	}

	id := c.allocatePacketID()
	c.mu.Lock()
	c.subscriptions[filter] = subscriptionEntry{qos: qos, handler: handler}
	c.pending[id] = &pendingOp{token: t, timestamp: time.Now()}
	c.mu.Unlock()

	pkt := &wire.SubscribePacket{PacketID: id, Topics: []string{filter}, QoS: []uint8{qos}}
	select {
	case c.outgoing <- pkt:
	case <-c.stop:
		t.complete(ErrClientDoesNotExist)
	}
	return t
}

// Unsubscribe removes filter, returning a Token completed once the
// upstream UNSUBACK arrives.
func (c *Client) Unsubscribe(filter string) Token {
	t := newToken()
	if c.isStopped() {
		t.complete(ErrClientDoesNotExist)
		return t
	}

	id := c.allocatePacketID()
	c.mu.Lock()
	delete(c.subscriptions, filter)
	c.pending[id] = &pendingOp{token: t, timestamp: time.Now()}
	c.mu.Unlock()

	pkt := &wire.UnsubscribePacket{PacketID: id, Topics: []string{filter}}
	select {
	case c.outgoing <- pkt:
	case <-c.stop:
		t.complete(ErrClientDoesNotExist)
	}
	return t
}
