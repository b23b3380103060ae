package runtime

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"rollback.gg/internal/persistence/snapshot"
	"rollback.gg/internal/protocol"
	"rollback.gg/internal/sim/bridge"
	"rollback.gg/internal/sim/rollback"
	"rollback.gg/internal/sim/world"
)

func transformState(tr world.Transform) protocol.TransformState {
	return protocol.TransformState{Translation: protocol.Vec3(tr.Translation)}
}

func transformFromState(s protocol.TransformState) world.Transform {
	return world.Transform{Translation: mgl64.Vec3(s.Translation)}
}

// SyncMsg renders a snapshot as a GAME_SYNC.
func SyncMsg(s *rollback.Snapshot, tickRateHz, window int) protocol.GameSyncMsg {
	transforms := s.Transforms()
	players := s.Players()
	msg := protocol.GameSyncMsg{
		Type:            protocol.TypeGameSync,
		ProtocolVersion: protocol.Version,
		Frame:           s.Frame(),
		UnixMillis:      s.UnixMillis(),
		TickRateHz:      tickRateHz,
		Window:          window,
		Objects:         []protocol.SyncObject{},
	}
	for _, id := range s.IDs() {
		obj := protocol.SyncObject{ObjectID: id.String()}
		if tr, ok := transforms[id]; ok {
			st := transformState(tr)
			obj.Transform = &st
		}
		if p, ok := players[id]; ok {
			obj.Player = &protocol.PlayerState{ID: uint64(p.ID), Speed: p.Speed}
		}
		msg.Objects = append(msg.Objects, obj)
	}
	return msg
}

// SnapshotFromSync parses a GAME_SYNC back into an engine snapshot.
func SnapshotFromSync(m protocol.GameSyncMsg) (*rollback.Snapshot, error) {
	transforms := map[bridge.StableID]world.Transform{}
	players := map[bridge.StableID]world.Player{}
	for _, obj := range m.Objects {
		id, err := uuid.Parse(obj.ObjectID)
		if err != nil {
			return nil, fmt.Errorf("game sync object %q: %w", obj.ObjectID, err)
		}
		if obj.Transform != nil {
			transforms[id] = transformFromState(*obj.Transform)
		}
		if obj.Player != nil {
			players[id] = world.Player{ID: world.PlayerID(obj.Player.ID), Speed: obj.Player.Speed}
		}
	}
	return rollback.NewSnapshot(m.Frame, m.UnixMillis, transforms, players), nil
}

// SnapshotV1FromCheckpoint converts an engine checkpoint into the on-disk
// format. digest is the live state digest at cp.Frame-1.
func SnapshotV1FromCheckpoint(worldID string, cfg world.WorldConfig, window int, cp rollback.Checkpoint, digest string) snapshot.SnapshotV1 {
	out := snapshot.SnapshotV1{
		Header:         snapshot.Header{Version: 1, WorldID: worldID, Frame: cp.Frame},
		TickRate:       cfg.TickRateHz,
		RollbackWindow: window,
		PlayerSpeed:    cfg.PlayerSpeed,
		BaseFrame:      cp.Base.Frame(),
		UnixMillis:     cp.Base.UnixMillis(),
		Digest:         digest,
	}
	transforms := cp.Base.Transforms()
	players := cp.Base.Players()
	for _, id := range cp.Base.IDs() {
		obj := snapshot.ObjectV1{ID: id.String()}
		if p, ok := players[id]; ok {
			obj.HasPlayer = true
			obj.PlayerID = uint64(p.ID)
			obj.Speed = p.Speed
		}
		if tr, ok := transforms[id]; ok {
			obj.HasPos = true
			obj.Translation = [3]float64(tr.Translation)
		}
		out.Objects = append(out.Objects, obj)
	}
	for _, in := range cp.Inputs {
		out.Inputs = append(out.Inputs, snapshot.InputV1{PlayerID: uint64(in.Player), Frame: in.Frame, X: in.Raw.X, Y: in.Raw.Y})
	}
	return out
}

func CheckpointFromSnapshotV1(s snapshot.SnapshotV1) (rollback.Checkpoint, error) {
	transforms := map[bridge.StableID]world.Transform{}
	players := map[bridge.StableID]world.Player{}
	for _, obj := range s.Objects {
		id, err := uuid.Parse(obj.ID)
		if err != nil {
			return rollback.Checkpoint{}, fmt.Errorf("snapshot object %q: %w", obj.ID, err)
		}
		if obj.HasPos {
			transforms[id] = world.Transform{Translation: mgl64.Vec3(obj.Translation)}
		}
		if obj.HasPlayer {
			players[id] = world.Player{ID: world.PlayerID(obj.PlayerID), Speed: obj.Speed}
		}
	}
	cp := rollback.Checkpoint{
		Frame: s.Header.Frame,
		Base:  rollback.NewSnapshot(s.BaseFrame, s.UnixMillis, transforms, players),
	}
	for _, in := range s.Inputs {
		cp.Inputs = append(cp.Inputs, rollback.IdentifiedInput{
			Player: world.PlayerID(in.PlayerID),
			Raw:    world.RawInput{X: in.X, Y: in.Y},
			Frame:  in.Frame,
		})
	}
	return cp, nil
}
