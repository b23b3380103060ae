package runtime

import (
	"fmt"
	"io"
	"log"

	"github.com/google/uuid"

	"rollback.gg/internal/persistence/snapshot"
	"rollback.gg/internal/sim/rollback"
	"rollback.gg/internal/sim/world"
)

// Replayer re-runs a server from an on-disk snapshot using its tick log.
type Replayer struct {
	eng *rollback.Engine
}

func NewReplayer(snap snapshot.SnapshotV1, logger *log.Logger) (*Replayer, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cp, err := CheckpointFromSnapshotV1(snap)
	if err != nil {
		return nil, err
	}
	w := world.New(world.WorldConfig{
		ID:          snap.Header.WorldID,
		TickRateHz:  snap.TickRate,
		PlayerSpeed: snap.PlayerSpeed,
	})
	eng, err := rollback.RestoreEngine(w, rollback.Config{Window: snap.RollbackWindow, Logger: logger}, cp)
	if err != nil {
		return nil, err
	}
	if snap.Digest != "" {
		if got := eng.Snapshot(0).Digest(); got != snap.Digest {
			return nil, fmt.Errorf("restored state digest %s does not match snapshot %s", got, snap.Digest)
		}
	}
	return &Replayer{eng: eng}, nil
}

// Frame is the clock frame the next entry must start on.
func (r *Replayer) Frame() uint64 { return r.eng.Frame() }

// Apply feeds one logged tick and returns the resulting digest.
func (r *Replayer) Apply(e TickLogEntry) (string, error) {
	if e.Frame != r.eng.Frame() {
		return "", fmt.Errorf("entry frame %d, replay at %d", e.Frame, r.eng.Frame())
	}
	for _, raw := range e.Leaves {
		id, err := uuid.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("leave %q: %w", raw, err)
		}
		r.eng.Despawn(id)
	}
	for _, j := range e.Joins {
		id, err := uuid.Parse(j.ObjectID)
		if err != nil {
			return "", fmt.Errorf("join %q: %w", j.ObjectID, err)
		}
		p := world.Player{ID: world.PlayerID(j.PlayerID), Speed: j.Speed}
		tr := world.TransformAt(j.Translation[0], j.Translation[1], j.Translation[2])
		if _, err := r.eng.SpawnPlayer(id, p, tr); err != nil {
			return "", err
		}
	}
	for _, in := range e.Inputs {
		r.eng.AcceptInput(rollback.IdentifiedInput{
			Player: world.PlayerID(in.PlayerID),
			Raw:    world.RawInput{X: in.X, Y: in.Y},
			Frame:  in.Frame,
		})
	}
	if _, err := r.eng.Tick(); err != nil {
		return "", err
	}
	return r.eng.Snapshot(0).Digest(), nil
}
