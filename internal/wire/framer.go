package wire

import (
	"bufio"
	"io"
	"net"
	"time"
)

// preConnectTimeout is the read deadline applied before a CONNECT packet has
// been accepted: a client that doesn't send one promptly is dropped.
const preConnectTimeout = 5 * time.Second

// keepAliveGrace is the multiplier applied to the negotiated keep-alive
// interval once a session is established, per MQTT 3.1.1 section 3.1.2.10.
const keepAliveGrace = 1.5

// Framer wraps a net.Conn with buffered packet framing and the read-deadline
// policy a broker connection enforces: five seconds to present a CONNECT,
// keepAlive*1.5 afterward, disabled entirely when keepAlive is zero.
type Framer struct {
	conn              net.Conn
	r                 *bufio.Reader
	w                 *bufio.Writer
	maxIncomingPacket int
	keepAlive         time.Duration
	negotiated        bool
}

// NewFramer wraps conn for packet-level reads and writes.
func NewFramer(conn net.Conn, maxIncomingPacket int) *Framer {
	f := &Framer{
		conn:              conn,
		r:                 bufio.NewReader(conn),
		w:                 bufio.NewWriter(conn),
		maxIncomingPacket: maxIncomingPacket,
	}
	f.resetDeadline()
	return f
}

// SetKeepAlive switches the read-deadline policy from the pre-CONNECT
// constant to the negotiated keep-alive interval. A zero interval disables
// read deadlines, per the protocol's "keep alive value of zero... disables
// this mechanism" rule.
func (f *Framer) SetKeepAlive(interval time.Duration) {
	f.keepAlive = interval
	f.negotiated = true
	f.resetDeadline()
}

func (f *Framer) resetDeadline() {
	if f.negotiated && f.keepAlive == 0 {
		f.conn.SetReadDeadline(time.Time{})
		return
	}
	timeout := preConnectTimeout
	if f.negotiated {
		timeout = time.Duration(float64(f.keepAlive) * keepAliveGrace)
	}
	f.conn.SetReadDeadline(time.Now().Add(timeout))
}

// ReadPacket reads the next packet, refreshing the read deadline on success.
func (f *Framer) ReadPacket() (Packet, error) {
	pkt, err := ReadPacket(f.r, f.maxIncomingPacket)
	if err != nil {
		return nil, err
	}
	f.resetDeadline()
	return pkt, nil
}

// WritePacket writes and flushes a single packet.
func (f *Framer) WritePacket(pkt Packet) error {
	if _, err := pkt.WriteTo(f.w); err != nil {
		return err
	}
	return f.w.Flush()
}

// WriteBatch writes several packets under one flush, mirroring the
// connection actor's batched-write behavior under load.
func (f *Framer) WriteBatch(pkts []Packet) error {
	for _, pkt := range pkts {
		if _, err := pkt.WriteTo(f.w); err != nil {
			return err
		}
	}
	return f.w.Flush()
}

// Close closes the underlying connection.
func (f *Framer) Close() error { return f.conn.Close() }

// RemoteAddr returns the underlying connection's remote address.
func (f *Framer) RemoteAddr() net.Addr { return f.conn.RemoteAddr() }

var _ io.Closer = (*Framer)(nil)
