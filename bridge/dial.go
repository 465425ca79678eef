package bridge

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"

	"nhooyr.io/websocket"
)

// Dialer opens the transport connection to the upstream broker, the same
// shape as the teacher's ContextDialer (options.go) — the library skips
// its own scheme handling when a caller-supplied dialer is present, so the
// bridge reuses that exact extension point for wss/ws upstream endpoints.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// DialContext calls f.
func (f DialFunc) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return f(ctx, network, addr)
}

// dialUpstream opens a connection to addr. A caller-supplied Dialer, when
// present, is used for every address as-is. Otherwise addr's scheme picks
// the transport: ws/wss dial a WebSocket, tls/ssl/mqtts dial TLS with
// tlsConfig, and any other scheme dials plain TCP.
func dialUpstream(ctx context.Context, addr string, tlsConfig *tls.Config, dialer Dialer) (net.Conn, error) {
	if dialer != nil {
		return dialer.DialContext(ctx, "tcp", addr)
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse upstream address: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		c, _, err := websocket.Dial(ctx, addr, &websocket.DialOptions{Subprotocols: []string{"mqtt"}})
		if err != nil {
			return nil, fmt.Errorf("dial websocket upstream: %w", err)
		}
		return websocket.NetConn(ctx, c, websocket.MessageBinary), nil
	case "tls", "ssl", "mqtts":
		d := tls.Dialer{Config: tlsConfig}
		return d.DialContext(ctx, "tcp", u.Host)
	default:
		var d net.Dialer
		return d.DialContext(ctx, "tcp", u.Host)
	}
}
