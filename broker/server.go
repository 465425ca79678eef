package broker

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/gonzalop/edgemqtt/auth"
	"github.com/gonzalop/edgemqtt/internal/topic"
	"github.com/gonzalop/edgemqtt/internal/wire"
	"github.com/gonzalop/edgemqtt/session"
)

// Server accepts TCP connections, performs the CONNECT handshake, and hands
// each admitted client to a Hub. Grounded on the teacher's own dialServer/
// performHandshake split (client.go) turned around from dialing out to
// accepting in.
type Server struct {
	hub      *Hub
	cfg      Config
	listener net.Listener
}

// NewServer wraps an already-listening net.Listener to serve hub.
func NewServer(hub *Hub, cfg Config, listener net.Listener) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{hub: hub, cfg: cfg, listener: listener}
}

// Serve accepts connections until ctx is cancelled or the listener errors.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.serveConn(ctx, conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	maxIncoming := s.cfg.MaxIncomingPacket
	if maxIncoming <= 0 {
		maxIncoming = topic.MaxIncomingPacket
	}
	framer := wire.NewFramer(conn, maxIncoming)

	pkt, err := framer.ReadPacket()
	if err != nil {
		framer.Close()
		return
	}
	connect, ok := pkt.(*wire.ConnectPacket)
	if !ok {
		framer.Close()
		return
	}

	clientID := connect.ClientID
	maxClientIDLen := s.cfg.MaxClientIDLength
	if maxClientIDLen <= 0 {
		maxClientIDLen = topic.MaxClientIDLength
	}
	switch {
	case clientID == "" && !connect.CleanSession:
		s.rejectHandshake(framer, wire.ConnRefusedIdentifierRejected)
		return
	case clientID == "":
		clientID = uuid.NewString()
	case len(clientID) > maxClientIDLen:
		s.rejectHandshake(framer, wire.ConnRefusedIdentifierRejected)
		return
	}

	identity, accepted := s.authenticate(ctx, connect, conn)
	if !accepted {
		s.rejectHandshake(framer, wire.ConnRefusedNotAuthorized)
		return
	}

	framer.SetKeepAlive(time.Duration(connect.KeepAlive) * time.Second)

	actor := newConnActor(session.ClientId(clientID), framer, s.hub.events, s.cfg.Logger)

	req := session.ConnReq{
		ClientID:              session.ClientId(clientID),
		PeerAddr:              conn.RemoteAddr().String(),
		CleanSession:          connect.CleanSession,
		KeepAlive:             connect.KeepAlive,
		AuthenticatedIdentity: identity,
	}
	if connect.WillFlag {
		req.Will = &session.Publication{
			Topic:   connect.WillTopic,
			QoS:     connect.WillQoS,
			Retain:  connect.WillRetain,
			Payload: connect.WillMessage,
		}
	}

	result := s.hub.Submit(req, actor)
	if !result.accepted {
		framer.WritePacket(&wire.ConnackPacket{ReturnCode: result.returnCode})
		framer.Close()
		return
	}
	if err := framer.WritePacket(&wire.ConnackPacket{SessionPresent: result.sessionPresent, ReturnCode: wire.ConnAccepted}); err != nil {
		framer.Close()
		return
	}

	_ = actor.run(ctx)
}

// authenticate consults the configured Authenticator, if any. No
// authenticator configured means every connection is accepted anonymously.
func (s *Server) authenticate(ctx context.Context, connect *wire.ConnectPacket, conn net.Conn) (identity string, accepted bool) {
	if s.cfg.Authenticator == nil {
		return "", true
	}

	req := auth.Request{
		ClientID: connect.ClientID,
		PeerAddr: conn.RemoteAddr().String(),
	}
	if connect.UsernameFlag {
		req.Username = connect.Username
	}
	if connect.PasswordFlag {
		req.Password = connect.Password
	}

	result, err := s.cfg.Authenticator.Authenticate(ctx, req)
	if err != nil || result.Status == auth.Failure {
		return "", false
	}
	return result.AuthID, true
}

func (s *Server) rejectHandshake(framer *wire.Framer, code uint8) {
	framer.WritePacket(&wire.ConnackPacket{ReturnCode: code})
	framer.Close()
}
