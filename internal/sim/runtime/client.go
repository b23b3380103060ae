package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"rollback.gg/internal/protocol"
	"rollback.gg/internal/sim/frame"
	"rollback.gg/internal/sim/rollback"
	"rollback.gg/internal/sim/world"
)

type ClientConfig struct {
	PlayerID world.PlayerID
	Name     string
	Logger   *log.Logger
	Input    InputSource

	// Used until the first GAME_SYNC announces the server's values.
	TickRateHz int
	Window     int
	QueueSize  int

	Now func() time.Time
}

// ErrSessionRejected wraps a fatal ERROR from the server.
var ErrSessionRejected = errors.New("runtime: session rejected by server")

// Client predicts locally and reconciles against the server. Like Server,
// it owns its engine on the Run goroutine; the transport only touches the
// inbox and the outbox.
type Client struct {
	cfg ClientConfig
	log *log.Logger

	eng   *rollback.Engine
	inbox chan any
	out   *Outbox

	frame      atomic.Uint64
	joined     atomic.Bool
	unparsable atomic.Uint64
	staleSyncs atomic.Uint64
	stats      atomic.Pointer[rollback.StatsSnapshot]
	pos        atomic.Pointer[world.Transform]
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 60
	}
	if cfg.Window <= 0 {
		cfg.Window = rollback.DefaultWindow
	}
	if cfg.Input == nil {
		cfg.Input = InputFunc(func(uint64) world.RawInput { return world.RawInput{} })
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		cfg:   cfg,
		log:   cfg.Logger,
		inbox: make(chan any, 1024),
		out:   NewOutbox(cfg.QueueSize),
	}
}

// Inbox receives decoded protocol messages from the transport.
func (c *Client) Inbox() chan<- any { return c.inbox }
func (c *Client) Outbox() *Outbox   { return c.out }
func (c *Client) Joined() bool      { return c.joined.Load() }
func (c *Client) Frame() uint64     { return c.frame.Load() }

// Unparsable counts payloads the transport could not decode.
func (c *Client) Unparsable() *atomic.Uint64 { return &c.unparsable }

// Logger is the client's logger, for transports that report on its behalf.
func (c *Client) Logger() *log.Logger { return c.log }

func (c *Client) Stats() rollback.StatsSnapshot {
	if s := c.stats.Load(); s != nil {
		return *s
	}
	return rollback.StatsSnapshot{}
}

func (c *Client) LoginMsg() protocol.LoginMsg {
	return protocol.LoginMsg{
		Type:            protocol.TypeLogin,
		ProtocolVersion: protocol.Version,
		PlayerID:        uint64(c.cfg.PlayerID),
		Name:            c.cfg.Name,
	}
}

func (c *Client) Run(ctx context.Context) error {
	ticker := time.NewTicker(frame.TickDuration(c.cfg.TickRateHz))
	defer ticker.Stop()

	var pending []any
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.out.Done():
			return fmt.Errorf("runtime: outbox closed")
		case msg := <-c.inbox:
			pending = append(pending, msg)
		case <-ticker.C:
			if err := c.step(pending); err != nil {
				return err
			}
			pending = pending[:0]
		}
	}
}

// StepOnce handles msgs and, once joined, runs one tick. It must not be
// called while Run is active.
func (c *Client) StepOnce(msgs []any) error { return c.step(msgs) }

// Position returns the local player's current transform. It must not be
// called while Run is active.
func (c *Client) Position() (world.Transform, bool) {
	if c.eng == nil {
		return world.Transform{}, false
	}
	o, ok := c.eng.World().FindPlayer(c.cfg.PlayerID)
	if !ok {
		return world.Transform{}, false
	}
	return c.eng.World().Transform(o)
}

func (c *Client) step(msgs []any) error {
	for _, msg := range msgs {
		if err := c.handle(msg); err != nil {
			return err
		}
	}
	if c.eng == nil {
		return nil
	}

	in := c.eng.RecordLocalInput(c.cfg.PlayerID, c.cfg.Input.Input(c.eng.Frame()).Clamp())
	b, err := protocol.EncodeUnreliable(protocol.InputMsg{Type: protocol.TypeInput, Frame: in.Frame, X: in.Raw.X, Y: in.Raw.Y})
	if err == nil {
		c.out.SendUnreliable(b)
	}

	if _, err := c.eng.Tick(); err != nil {
		return fmt.Errorf("client tick: %w", err)
	}
	c.publish()
	return nil
}

func (c *Client) publish() {
	c.frame.Store(c.eng.Frame())
	s := c.eng.Stats()
	c.stats.Store(&s)
	if tr, ok := c.Position(); ok {
		c.pos.Store(&tr)
	}
}

// LastPosition is the local transform as of the last completed tick. Unlike
// Position it is safe to call while Run is active.
func (c *Client) LastPosition() (world.Transform, bool) {
	tr := c.pos.Load()
	if tr == nil {
		return world.Transform{}, false
	}
	return *tr, true
}

func (c *Client) handle(msg any) error {
	switch m := msg.(type) {
	case protocol.GameSyncMsg:
		snap, err := SnapshotFromSync(m)
		if err != nil {
			c.unparsable.Add(1)
			c.log.Printf("unparsable game sync: %v", err)
			return nil
		}
		if c.eng == nil {
			return c.join(m, snap)
		}
		if err := c.eng.RequestSync(snap); err != nil {
			c.staleSyncs.Add(1)
			c.log.Printf("ignoring game sync: %v", err)
		}
	case protocol.PlayerConnectedMsg:
		if c.eng == nil || world.PlayerID(m.PlayerID) == c.cfg.PlayerID {
			return nil
		}
		id, err := uuid.Parse(m.ObjectID)
		if err != nil {
			c.unparsable.Add(1)
			return nil
		}
		if _, ok := c.eng.Bridge().Lookup(id); ok {
			return nil
		}
		p := world.Player{ID: world.PlayerID(m.Player.ID), Speed: m.Player.Speed}
		if _, err := c.eng.SpawnPlayer(id, p, transformFromState(m.Transform)); err != nil {
			return fmt.Errorf("player connected: %w", err)
		}
		c.log.Printf("player %d connected", m.PlayerID)
	case protocol.PlayerDisconnectedMsg:
		if c.eng == nil {
			return nil
		}
		id, err := uuid.Parse(m.ObjectID)
		if err != nil {
			c.unparsable.Add(1)
			return nil
		}
		c.eng.Despawn(id)
		c.log.Printf("player %d disconnected", m.PlayerID)
	case protocol.PlayerInputMsg:
		if c.eng == nil || world.PlayerID(m.PlayerID) == c.cfg.PlayerID {
			return nil
		}
		c.eng.AcceptInput(rollback.IdentifiedInput{
			Player: world.PlayerID(m.PlayerID),
			Raw:    world.RawInput{X: m.X, Y: m.Y},
			Frame:  m.Frame,
		})
	case protocol.ErrorMsg:
		switch m.Code {
		case protocol.ErrDuplicatePlay, protocol.ErrServerFull, protocol.ErrProtoVersion, protocol.ErrProtoBadRequest:
			return fmt.Errorf("%w: %s: %s", ErrSessionRejected, m.Code, m.Message)
		}
		c.log.Printf("server error %s at frame %d: %s", m.Code, m.Frame, m.Message)
	default:
		c.unparsable.Add(1)
		c.log.Printf("unexpected message %T", msg)
	}
	return nil
}

func (c *Client) join(m protocol.GameSyncMsg, snap *rollback.Snapshot) error {
	rate := c.cfg.TickRateHz
	if m.TickRateHz > 0 {
		rate = m.TickRateHz
	}
	window := c.cfg.Window
	if m.Window > 0 {
		window = m.Window
	}
	w := world.New(world.WorldConfig{ID: "client", TickRateHz: rate})
	c.eng = rollback.NewEngine(w, rollback.Config{Window: window, Logger: c.log})

	target := frame.SeedFrame(snap.Frame(), snap.UnixMillis(), c.cfg.Now(), frame.TickDuration(rate))
	ticks, err := c.eng.Join(snap, target)
	if err != nil {
		return fmt.Errorf("join at frame %d: %w", snap.Frame(), err)
	}
	c.joined.Store(true)
	c.publish()
	c.log.Printf("joined at snapshot frame %d, caught up %d ticks to frame %d", snap.Frame(), ticks, c.eng.Frame())
	return nil
}
