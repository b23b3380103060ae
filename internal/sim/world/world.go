package world

import (
	"fmt"
	"sort"
)

// World holds the live value of every simulated attribute. It only knows
// the current frame; history lives in the rollback trackers.
type World struct {
	cfg WorldConfig

	gens  []uint32
	alive []bool
	free  []uint32

	transforms map[Owner]Transform
	players    map[Owner]Player
}

func New(cfg WorldConfig) *World {
	cfg.applyDefaults()
	return &World{
		cfg:        cfg,
		transforms: map[Owner]Transform{},
		players:    map[Owner]Player{},
	}
}

func (w *World) Config() WorldConfig { return w.cfg }

func (w *World) DeltaSeconds() float64 { return w.cfg.DeltaSeconds() }

// Spawn allocates a fresh owner, reusing freed slots with a bumped generation.
func (w *World) Spawn() Owner {
	if n := len(w.free); n > 0 {
		idx := w.free[n-1]
		w.free = w.free[:n-1]
		w.gens[idx]++
		w.alive[idx] = true
		return Owner{Index: idx, Gen: w.gens[idx]}
	}
	idx := uint32(len(w.gens))
	w.gens = append(w.gens, 0)
	w.alive = append(w.alive, true)
	return Owner{Index: idx, Gen: 0}
}

// SpawnPlayer spawns an owner carrying a player and a transform.
func (w *World) SpawnPlayer(id PlayerID, tr Transform) Owner {
	o := w.Spawn()
	w.players[o] = NewPlayer(id, w.cfg.PlayerSpeed)
	w.transforms[o] = tr
	return o
}

func (w *World) Despawn(o Owner) bool {
	if !w.Exists(o) {
		return false
	}
	w.alive[o.Index] = false
	w.free = append(w.free, o.Index)
	delete(w.transforms, o)
	delete(w.players, o)
	return true
}

func (w *World) Exists(o Owner) bool {
	if int(o.Index) >= len(w.gens) {
		return false
	}
	return w.alive[o.Index] && w.gens[o.Index] == o.Gen
}

// Owners returns live owners in deterministic order.
func (w *World) Owners() []Owner {
	out := make([]Owner, 0, len(w.gens)-len(w.free))
	for i, ok := range w.alive {
		if ok {
			out = append(out, Owner{Index: uint32(i), Gen: w.gens[i]})
		}
	}
	return out
}

func (w *World) Transform(o Owner) (Transform, bool) {
	tr, ok := w.transforms[o]
	return tr, ok
}

func (w *World) SetTransform(o Owner, tr Transform) error {
	if !w.Exists(o) {
		return fmt.Errorf("set transform: owner %s does not exist", o)
	}
	w.transforms[o] = tr
	return nil
}

func (w *World) Player(o Owner) (Player, bool) {
	p, ok := w.players[o]
	return p, ok
}

func (w *World) SetPlayer(o Owner, p Player) error {
	if !w.Exists(o) {
		return fmt.Errorf("set player: owner %s does not exist", o)
	}
	w.players[o] = p
	return nil
}

// Transforms returns a copy of every live transform.
func (w *World) Transforms() map[Owner]Transform {
	out := make(map[Owner]Transform, len(w.transforms))
	for o, tr := range w.transforms {
		out[o] = tr
	}
	return out
}

func (w *World) Players() map[Owner]Player {
	out := make(map[Owner]Player, len(w.players))
	for o, p := range w.players {
		out[o] = p
	}
	return out
}

// FindPlayer returns the owner carrying the given player id.
func (w *World) FindPlayer(id PlayerID) (Owner, bool) {
	for _, o := range w.sortedPlayerOwners() {
		if w.players[o].ID == id {
			return o, true
		}
	}
	return Owner{}, false
}

func (w *World) sortedPlayerOwners() []Owner {
	out := make([]Owner, 0, len(w.players))
	for o := range w.players {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
