package runtime

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"rollback.gg/internal/persistence/snapshot"
	"rollback.gg/internal/protocol"
	"rollback.gg/internal/sim/bridge"
	"rollback.gg/internal/sim/rollback"
	"rollback.gg/internal/sim/tuning"
	"rollback.gg/internal/sim/world"
)

// Input further ahead of the server clock than this is refused instead of
// staged.
const maxInputLead = 120

type ServerConfig struct {
	WorldID string
	Tuning  tuning.Tuning
	Logger  *log.Logger

	TickLogger   TickLogger
	SnapshotSink chan<- snapshot.SnapshotV1

	// Wall clock used for GAME_SYNC timestamps. Nil means time.Now.
	Now func() time.Time
}

type JoinRequest struct {
	PlayerID world.PlayerID
	Name     string
	Out      *Outbox
	// Must be buffered; the loop never blocks on a slow handshake.
	Resp chan JoinResponse
}

// JoinResponse carries either the initial reliable GAME_SYNC or the error
// to send before closing.
type JoinResponse struct {
	Sync     protocol.GameSyncMsg
	ObjectID bridge.StableID
	Err      *protocol.ErrorMsg
}

type InputEnvelope struct {
	PlayerID world.PlayerID
	Msg      protocol.InputMsg
}

type session struct {
	player   world.PlayerID
	objectID bridge.StableID
	name     string
	out      *Outbox
}

// Server runs the authoritative simulation. All engine access happens on
// the Run goroutine; transports talk to it through channels.
type Server struct {
	cfg ServerConfig
	log *log.Logger

	world *world.World
	eng   *rollback.Engine

	join  chan JoinRequest
	leave chan world.PlayerID
	inbox chan InputEnvelope
	stop  chan struct{}
	once  sync.Once

	sessions map[world.PlayerID]*session

	frame         atomic.Uint64
	clients       atomic.Int64
	refusedInputs atomic.Uint64
	syncsSent     atomic.Uint64
	snapshots     atomic.Uint64
}

func NewServer(cfg ServerConfig) *Server {
	cfg.Tuning.Normalize()
	if cfg.WorldID == "" {
		cfg.WorldID = "arena"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	w := world.New(world.WorldConfig{
		ID:          cfg.WorldID,
		TickRateHz:  cfg.Tuning.TickRateHz,
		PlayerSpeed: cfg.Tuning.PlayerSpeed,
	})
	s := &Server{
		cfg:   cfg,
		log:   cfg.Logger,
		world: w,
		eng: rollback.NewEngine(w, rollback.Config{
			Window: cfg.Tuning.RollbackWindow,
			Logger: cfg.Logger,
		}),
		join:     make(chan JoinRequest, 64),
		leave:    make(chan world.PlayerID, 64),
		inbox:    make(chan InputEnvelope, 4096),
		stop:     make(chan struct{}),
		sessions: map[world.PlayerID]*session{},
	}
	s.frame.Store(s.eng.Frame())
	return s
}

func (s *Server) Join() chan<- JoinRequest     { return s.join }
func (s *Server) Leave() chan<- world.PlayerID { return s.leave }
func (s *Server) Inbox() chan<- InputEnvelope  { return s.inbox }
func (s *Server) Tuning() tuning.Tuning        { return s.cfg.Tuning }
func (s *Server) WorldID() string              { return s.cfg.WorldID }

func (s *Server) Stop() { s.once.Do(func() { close(s.stop) }) }

type ServerStats struct {
	Frame         uint64                 `json:"frame"`
	Clients       int64                  `json:"clients"`
	RefusedInputs uint64                 `json:"refused_inputs"`
	SyncsSent     uint64                 `json:"syncs_sent"`
	Snapshots     uint64                 `json:"snapshots"`
	Engine        rollback.StatsSnapshot `json:"engine"`
}

// Stats is safe to call from any goroutine.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Frame:         s.frame.Load(),
		Clients:       s.clients.Load(),
		RefusedInputs: s.refusedInputs.Load(),
		SyncsSent:     s.syncsSent.Load(),
		Snapshots:     s.snapshots.Load(),
		Engine:        s.eng.Stats(),
	}
}

func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Tuning.TickDuration())
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []world.PlayerID
	var pendingInputs []InputEnvelope

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-s.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-s.inbox:
			pendingInputs = append(pendingInputs, env)
		case <-ticker.C:
			if _, err := s.step(pendingJoins, pendingLeaves, pendingInputs); err != nil {
				s.log.Printf("tick %d: %v", s.eng.Frame(), err)
				return err
			}
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingInputs = pendingInputs[:0]
		}
	}
}

// StepOnce advances the server by a single tick with the same ordering as
// Run. It must not be called while Run is active.
func (s *Server) StepOnce(joins []JoinRequest, leaves []world.PlayerID, inputs []InputEnvelope) (TickLogEntry, error) {
	return s.step(joins, leaves, inputs)
}

func (s *Server) step(joins []JoinRequest, leaves []world.PlayerID, inputs []InputEnvelope) (TickLogEntry, error) {
	entry := TickLogEntry{Frame: s.eng.Frame()}

	for _, id := range leaves {
		s.handleLeave(id, &entry)
	}
	for _, req := range joins {
		s.handleJoin(req, &entry)
	}
	for _, env := range inputs {
		s.handleInput(env, &entry)
	}

	rep, err := s.eng.Tick()
	if err != nil {
		return entry, err
	}
	entry.Kind = rep.Kind.String()
	entry.Steps = rep.Steps
	entry.Simulated = s.eng.SimulatedFrame()
	entry.Digest = s.eng.Snapshot(0).Digest()
	s.frame.Store(s.eng.Frame())

	if s.cfg.TickLogger != nil {
		if err := s.cfg.TickLogger.WriteTick(entry); err != nil {
			s.log.Printf("tick log: %v", err)
		}
	}
	if s.eng.Frame()%uint64(s.cfg.Tuning.SyncEveryTicks) == 0 {
		s.broadcastSync()
	}
	if every := s.cfg.Tuning.SnapshotEveryTicks; every > 0 && s.cfg.SnapshotSink != nil && entry.Simulated%uint64(every) == 0 {
		s.emitSnapshot(entry.Digest)
	}
	return entry, nil
}

func (s *Server) handleJoin(req JoinRequest, entry *TickLogEntry) {
	reply := func(resp JoinResponse) {
		if req.Resp == nil {
			return
		}
		select {
		case req.Resp <- resp:
		default:
			s.log.Printf("join %s: response channel full", req.PlayerID)
		}
	}
	frame := s.eng.Frame()
	if _, ok := s.sessions[req.PlayerID]; ok {
		e := protocol.NewErrorMsg(protocol.ErrDuplicatePlay, fmt.Sprintf("player %d already logged in", req.PlayerID), frame)
		reply(JoinResponse{Err: &e})
		return
	}
	if len(s.sessions) >= s.cfg.Tuning.MaxClients {
		e := protocol.NewErrorMsg(protocol.ErrServerFull, "server full", frame)
		reply(JoinResponse{Err: &e})
		return
	}

	id := bridge.NewStableID()
	tr := spawnPoint(len(s.sessions))
	p := world.NewPlayer(req.PlayerID, s.cfg.Tuning.PlayerSpeed)
	if _, err := s.eng.SpawnPlayer(id, p, tr); err != nil {
		s.log.Printf("join %s: %v", req.PlayerID, err)
		e := protocol.NewErrorMsg(protocol.ErrInternal, "spawn failed", frame)
		reply(JoinResponse{Err: &e})
		return
	}
	sess := &session{player: req.PlayerID, objectID: id, name: req.Name, out: req.Out}
	s.sessions[req.PlayerID] = sess
	s.clients.Store(int64(len(s.sessions)))
	entry.Joins = append(entry.Joins, RecordedJoin{
		PlayerID:    uint64(req.PlayerID),
		ObjectID:    id.String(),
		Speed:       p.Speed,
		Translation: [3]float64(tr.Translation),
	})

	snap := s.eng.Snapshot(s.cfg.Now().UnixMilli())
	reply(JoinResponse{Sync: SyncMsg(snap, s.cfg.Tuning.TickRateHz, s.cfg.Tuning.RollbackWindow), ObjectID: id})

	b, err := protocol.EncodeReliable(protocol.PlayerConnectedMsg{
		Type:            protocol.TypePlayerConnected,
		ProtocolVersion: protocol.Version,
		PlayerID:        uint64(req.PlayerID),
		ObjectID:        id.String(),
		Frame:           frame,
		Transform:       transformState(tr),
		Player:          protocol.PlayerState{ID: uint64(p.ID), Speed: p.Speed},
	})
	if err == nil {
		s.broadcastReliable(b, req.PlayerID)
	}
	s.log.Printf("player %s joined as %s at frame %d", req.PlayerID, id, frame)
}

func (s *Server) handleLeave(id world.PlayerID, entry *TickLogEntry) {
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	delete(s.sessions, id)
	s.clients.Store(int64(len(s.sessions)))
	s.eng.Despawn(sess.objectID)
	entry.Leaves = append(entry.Leaves, sess.objectID.String())

	b, err := protocol.EncodeReliable(protocol.PlayerDisconnectedMsg{
		Type:            protocol.TypePlayerDisconnected,
		ProtocolVersion: protocol.Version,
		PlayerID:        uint64(id),
		ObjectID:        sess.objectID.String(),
		Frame:           s.eng.Frame(),
	})
	if err == nil {
		s.broadcastReliable(b, id)
	}
	s.log.Printf("player %s left at frame %d", id, s.eng.Frame())
}

func (s *Server) handleInput(env InputEnvelope, entry *TickLogEntry) {
	if _, ok := s.sessions[env.PlayerID]; !ok {
		return
	}
	if env.Msg.Frame > s.eng.Frame()+maxInputLead {
		s.refusedInputs.Add(1)
		s.log.Printf("refusing input from %s for frame %d: too far ahead of %d", env.PlayerID, env.Msg.Frame, s.eng.Frame())
		return
	}
	in := rollback.IdentifiedInput{
		Player: env.PlayerID,
		Raw:    world.RawInput{X: env.Msg.X, Y: env.Msg.Y}.Clamp(),
		Frame:  env.Msg.Frame,
	}
	if s.eng.AcceptInput(in) == rollback.Dropped {
		return
	}
	entry.Inputs = append(entry.Inputs, RecordedInput{PlayerID: uint64(in.Player), Frame: in.Frame, X: in.Raw.X, Y: in.Raw.Y})

	b, err := protocol.EncodeUnreliable(protocol.PlayerInputMsg{
		Type:     protocol.TypePlayerInput,
		PlayerID: uint64(in.Player),
		Frame:    in.Frame,
		X:        in.Raw.X,
		Y:        in.Raw.Y,
	})
	if err != nil {
		return
	}
	for _, sess := range s.sortedSessions() {
		if sess.player == in.Player || sess.out == nil {
			continue
		}
		sess.out.SendUnreliable(b)
	}
}

func (s *Server) broadcastSync() {
	if len(s.sessions) == 0 {
		return
	}
	snap := s.eng.Snapshot(s.cfg.Now().UnixMilli())
	b, err := protocol.EncodeUnreliable(SyncMsg(snap, s.cfg.Tuning.TickRateHz, s.cfg.Tuning.RollbackWindow))
	if err != nil {
		s.log.Printf("encode game sync: %v", err)
		return
	}
	for _, sess := range s.sortedSessions() {
		if sess.out != nil {
			sess.out.SendUnreliable(b)
		}
	}
	s.syncsSent.Add(1)
}

func (s *Server) broadcastReliable(b []byte, except world.PlayerID) {
	for _, sess := range s.sortedSessions() {
		if sess.player == except || sess.out == nil {
			continue
		}
		if !sess.out.SendReliable(b) {
			s.log.Printf("player %s: reliable queue overflow, closing", sess.player)
		}
	}
}

func (s *Server) emitSnapshot(digest string) {
	cp, err := s.eng.Checkpoint(s.cfg.Now().UnixMilli())
	if err != nil {
		s.log.Printf("checkpoint: %v", err)
		return
	}
	snap := SnapshotV1FromCheckpoint(s.cfg.WorldID, s.world.Config(), s.eng.Window(), cp, digest)
	select {
	case s.cfg.SnapshotSink <- snap:
		s.snapshots.Add(1)
	default:
		s.log.Printf("snapshot sink full, skipping frame %d", cp.Frame)
	}
}

func (s *Server) sortedSessions() []*session {
	out := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].player < out[j].player })
	return out
}

// spawnPoint spreads players on a grid by join order.
func spawnPoint(n int) world.Transform {
	const spacing = 32.0
	return world.TransformAt(float64(n%8)*spacing, float64(n/8)*spacing, 0)
}
