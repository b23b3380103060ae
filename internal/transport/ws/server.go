package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"rollback.gg/internal/protocol"
	"rollback.gg/internal/sim/runtime"
	"rollback.gg/internal/sim/world"
)

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
	readTimeout      = 60 * time.Second
)

type Stats struct {
	Connections uint64 `json:"connections"`
	Rejected    uint64 `json:"rejected"`
	BadFrames   uint64 `json:"bad_frames"`
	RateLimited uint64 `json:"rate_limited"`
}

// Server bridges websocket peers to a runtime.Server. Reliable messages go
// out as JSON text frames; unreliable ones as msgpack binary frames.
type Server struct {
	srv *runtime.Server
	log *log.Logger

	upgrader websocket.Upgrader

	connections atomic.Uint64
	rejected    atomic.Uint64
	badFrames   atomic.Uint64
	rateLimited atomic.Uint64
}

func NewServer(srv *runtime.Server, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		srv: srv,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Stats() Stats {
	return Stats{
		Connections: s.connections.Load(),
		Rejected:    s.rejected.Load(),
		BadFrames:   s.badFrames.Load(),
		RateLimited: s.rateLimited.Load(),
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		player, out := s.handshake(r.Context(), conn)
		if out == nil {
			s.rejected.Add(1)
			return
		}
		s.connections.Add(1)
		defer out.Close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case <-out.Done():
					if out.Overflowed() {
						closeWith(conn, websocket.CloseTryAgainLater, "reliable queue overflow")
					}
					_ = conn.Close()
					return
				case b := <-out.Reliable():
					if err := writeFrame(conn, websocket.TextMessage, b); err != nil {
						return
					}
				case b := <-out.Unreliable():
					if err := writeFrame(conn, websocket.BinaryMessage, b); err != nil {
						return
					}
				}
			}
		}()

		tu := s.srv.Tuning()
		limit := rate.Inf
		if tu.RateLimits.InputPerSecond > 0 {
			limit = rate.Limit(tu.RateLimits.InputPerSecond)
		}
		limiter := rate.NewLimiter(limit, tu.RateLimits.InputBurst)
		// At most one E_RATE_LIMIT per second per peer.
		warn := rate.NewLimiter(rate.Every(time.Second), 1)

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			typ, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			if typ != websocket.BinaryMessage {
				s.badFrames.Add(1)
				continue
			}
			v, err := protocol.DecodeUnreliable(msg)
			if err != nil {
				s.badFrames.Add(1)
				continue
			}
			in, ok := v.(protocol.InputMsg)
			if !ok {
				s.badFrames.Add(1)
				continue
			}
			if !limiter.Allow() {
				s.rateLimited.Add(1)
				if warn.Allow() {
					sendError(out, protocol.ErrRateLimit, "input rate limit exceeded", in.Frame)
				}
				continue
			}
			select {
			case s.srv.Inbox() <- runtime.InputEnvelope{PlayerID: player, Msg: in}:
			case <-ctx.Done():
			}
		}

		s.leave(player)
	}
}

func (s *Server) leave(player world.PlayerID) {
	select {
	case s.srv.Leave() <- player:
	case <-time.After(time.Second):
		s.log.Printf("player %s: leave not delivered", player)
	}
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) (world.PlayerID, *runtime.Outbox) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	typ, msg, err := conn.ReadMessage()
	if err != nil {
		return 0, nil
	}
	if typ != websocket.TextMessage {
		rejectWith(conn, protocol.ErrProtoBadRequest, "expected LOGIN text frame")
		return 0, nil
	}
	v, err := protocol.DecodeReliable(msg)
	if err != nil {
		rejectWith(conn, protocol.ErrProtoBadRequest, err.Error())
		return 0, nil
	}
	login, ok := v.(protocol.LoginMsg)
	if !ok {
		rejectWith(conn, protocol.ErrNotLoggedIn, "expected LOGIN")
		return 0, nil
	}
	if login.ProtocolVersion != protocol.Version {
		rejectWith(conn, protocol.ErrProtoVersion, "bad protocol_version")
		return 0, nil
	}

	player := world.PlayerID(login.PlayerID)
	out := runtime.NewOutbox(s.srv.Tuning().MaxQueue)
	respCh := make(chan runtime.JoinResponse, 1)
	req := runtime.JoinRequest{PlayerID: player, Name: login.Name, Out: out, Resp: respCh}

	timer := time.NewTimer(handshakeTimeout)
	defer timer.Stop()
	select {
	case s.srv.Join() <- req:
	case <-ctx.Done():
		return 0, nil
	case <-timer.C:
		rejectWith(conn, protocol.ErrInternal, "server busy")
		return 0, nil
	}

	var resp runtime.JoinResponse
	select {
	case resp = <-respCh:
	case <-ctx.Done():
		return 0, nil
	case <-timer.C:
		// The join may still land; make sure the session is torn down.
		s.leave(player)
		rejectWith(conn, protocol.ErrInternal, "join timed out")
		return 0, nil
	}
	if resp.Err != nil {
		s.log.Printf("login %s refused: %s", player, resp.Err.Code)
		_ = writeJSON(conn, resp.Err)
		closeWith(conn, websocket.ClosePolicyViolation, resp.Err.Code)
		return 0, nil
	}
	if err := writeJSON(conn, resp.Sync); err != nil {
		s.leave(player)
		return 0, nil
	}
	s.log.Printf("login %s (%s) as %s", player, login.Name, resp.ObjectID)
	return player, out
}

func sendError(out *runtime.Outbox, code, message string, frame uint64) {
	b, err := protocol.EncodeReliable(protocol.NewErrorMsg(code, message, frame))
	if err != nil {
		return
	}
	out.SendReliable(b)
}

func rejectWith(conn *websocket.Conn, code, message string) {
	_ = writeJSON(conn, protocol.NewErrorMsg(code, message, 0))
	closeWith(conn, websocket.ClosePolicyViolation, code)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeFrame(conn *websocket.Conn, typ int, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(typ, b)
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := writeFrame(conn, websocket.TextMessage, b); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	}
	return nil
}
