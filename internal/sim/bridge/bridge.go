// Package bridge maps network-stable object identifiers to local owners.
package bridge

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"rollback.gg/internal/sim/world"
)

// StableID names an object identically on every peer. The server mints
// them; clients only learn them from snapshots and connect events.
type StableID = uuid.UUID

func NewStableID() StableID { return uuid.New() }

var ErrDuplicateStableID = errors.New("bridge: stable id already mapped")

// Map is a bijection between stable ids and local owners.
type Map struct {
	byStable map[StableID]world.Owner
	byOwner  map[world.Owner]StableID
}

func New() *Map {
	return &Map{
		byStable: map[StableID]world.Owner{},
		byOwner:  map[world.Owner]StableID{},
	}
}

func (m *Map) Lookup(id StableID) (world.Owner, bool) {
	o, ok := m.byStable[id]
	return o, ok
}

func (m *Map) StableIDOf(o world.Owner) (StableID, bool) {
	id, ok := m.byOwner[o]
	return id, ok
}

func (m *Map) Insert(id StableID, o world.Owner) error {
	if prev, ok := m.byStable[id]; ok {
		return fmt.Errorf("%w: %s -> %s", ErrDuplicateStableID, id, prev)
	}
	if prev, ok := m.byOwner[o]; ok {
		return fmt.Errorf("%w: owner %s already bound to %s", ErrDuplicateStableID, o, prev)
	}
	m.byStable[id] = o
	m.byOwner[o] = id
	return nil
}

func (m *Map) Remove(id StableID) (world.Owner, bool) {
	o, ok := m.byStable[id]
	if !ok {
		return world.Owner{}, false
	}
	delete(m.byStable, id)
	delete(m.byOwner, o)
	return o, true
}

func (m *Map) Len() int { return len(m.byStable) }

// IDs returns all mapped stable ids in a stable order.
func (m *Map) IDs() []StableID {
	out := make([]StableID, 0, len(m.byStable))
	for id := range m.byStable {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Materialize returns the owner bound to id, spawning and binding a new one
// when the id is unknown locally.
func (m *Map) Materialize(w *world.World, id StableID) (world.Owner, bool, error) {
	if o, ok := m.byStable[id]; ok && w.Exists(o) {
		return o, false, nil
	} else if ok {
		// Owner died locally (despawned) while the server still tracks it.
		m.Remove(id)
	}
	o := w.Spawn()
	if err := m.Insert(id, o); err != nil {
		w.Despawn(o)
		return world.Owner{}, false, err
	}
	return o, true, nil
}
