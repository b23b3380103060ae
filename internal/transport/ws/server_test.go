package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"rollback.gg/internal/protocol"
	"rollback.gg/internal/sim/runtime"
	"rollback.gg/internal/sim/tuning"
	"rollback.gg/internal/sim/world"
)

func startServer(t *testing.T) (*runtime.Server, *Server, string) {
	t.Helper()
	tu := tuning.Defaults()
	tu.SyncEveryTicks = 10
	srv := runtime.NewServer(runtime.ServerConfig{Tuning: tu})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(ctx)
	}()

	ws := NewServer(srv, nil)
	hs := httptest.NewServer(ws.Handler())
	t.Cleanup(func() {
		hs.Close()
		cancel()
		<-done
	})
	return srv, ws, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func rawLogin(t *testing.T, url string, login protocol.LoginMsg) (*websocket.Conn, any) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	b, _ := json.Marshal(login)
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write login: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	typ, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if typ != websocket.TextMessage {
		t.Fatalf("reply frame type %d", typ)
	}
	v, err := protocol.DecodeReliable(msg)
	if err != nil {
		t.Fatalf("DecodeReliable(%s): %v", msg, err)
	}
	return conn, v
}

func login(id uint64) protocol.LoginMsg {
	return protocol.LoginMsg{Type: protocol.TypeLogin, ProtocolVersion: protocol.Version, PlayerID: id, Name: "t"}
}

func TestServer_LoginRepliesWithGameSync(t *testing.T) {
	srv, _, url := startServer(t)
	conn, v := rawLogin(t, url, login(1))
	defer conn.Close()

	sync, ok := v.(protocol.GameSyncMsg)
	if !ok || len(sync.Objects) != 1 || sync.Objects[0].Player == nil || sync.Objects[0].Player.ID != 1 {
		t.Fatalf("reply = %#v", v)
	}
	waitFor(t, "client count", func() bool { return srv.Stats().Clients == 1 })

	conn.Close()
	waitFor(t, "leave", func() bool { return srv.Stats().Clients == 0 })
}

func TestServer_RejectsDuplicateAndBadVersion(t *testing.T) {
	_, ws, url := startServer(t)
	first, _ := rawLogin(t, url, login(1))
	defer first.Close()

	dup, v := rawLogin(t, url, login(1))
	defer dup.Close()
	if e, ok := v.(protocol.ErrorMsg); !ok || e.Code != protocol.ErrDuplicatePlay {
		t.Fatalf("duplicate reply = %#v", v)
	}

	bad := login(2)
	bad.ProtocolVersion = "0.1"
	old, v := rawLogin(t, url, bad)
	defer old.Close()
	if e, ok := v.(protocol.ErrorMsg); !ok || e.Code != protocol.ErrProtoVersion {
		t.Fatalf("version reply = %#v", v)
	}
	waitFor(t, "rejections", func() bool { return ws.Stats().Rejected == 2 })
}

func TestServer_ForwardsInputToPeers(t *testing.T) {
	_, _, url := startServer(t)
	a, _ := rawLogin(t, url, login(1))
	defer a.Close()
	b, _ := rawLogin(t, url, login(2))
	defer b.Close()

	// a hears about b.
	_ = a.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		typ, msg, err := a.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if typ != websocket.TextMessage {
			continue
		}
		v, err := protocol.DecodeReliable(msg)
		if err != nil {
			t.Fatalf("DecodeReliable: %v", err)
		}
		if c, ok := v.(protocol.PlayerConnectedMsg); ok && c.PlayerID == 2 {
			break
		}
	}

	// Aim ahead of the server clock so the input is staged rather than late.
	sync := readUntil(t, a, func(v any) bool { _, ok := v.(protocol.GameSyncMsg); return ok })
	frame := sync.(protocol.GameSyncMsg).Frame + 60
	in, _ := protocol.EncodeUnreliable(protocol.InputMsg{Type: protocol.TypeInput, Frame: frame, X: 1})
	if err := a.WriteMessage(websocket.BinaryMessage, in); err != nil {
		t.Fatalf("write input: %v", err)
	}

	got := readUntil(t, b, func(v any) bool { _, ok := v.(protocol.PlayerInputMsg); return ok })
	if pi := got.(protocol.PlayerInputMsg); pi.PlayerID != 1 || pi.X != 1 || pi.Frame != frame {
		t.Fatalf("player input = %#v", pi)
	}
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(any) bool) any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var v any
		if typ == websocket.BinaryMessage {
			v, err = protocol.DecodeUnreliable(msg)
		} else {
			v, err = protocol.DecodeReliable(msg)
		}
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if match(v) {
			return v
		}
	}
}

func TestDial_ClientJoinsAndPredicts(t *testing.T) {
	srv, _, url := startServer(t)
	c := runtime.NewClient(runtime.ClientConfig{
		PlayerID: 5,
		Name:     "bot",
		Input:    runtime.InputFunc(func(uint64) world.RawInput { return world.RawInput{X: 1} }),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := Dial(ctx, url, c)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	go func() { _ = conn.Run(ctx) }()
	go func() { _ = c.Run(ctx) }()

	waitFor(t, "client join", c.Joined)
	waitFor(t, "server session", func() bool { return srv.Stats().Engine.PlainTicks > 0 && srv.Stats().Clients == 1 })
	waitFor(t, "local movement", func() bool {
		return c.Stats().Ticks > 5
	})
}
