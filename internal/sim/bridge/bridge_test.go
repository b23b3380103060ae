package bridge

import (
	"errors"
	"testing"

	"rollback.gg/internal/sim/world"
)

func TestMap_InsertLookupRemove(t *testing.T) {
	m := New()
	id := NewStableID()
	o := world.Owner{Index: 3, Gen: 1}

	if err := m.Insert(id, o); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got, ok := m.Lookup(id); !ok || got != o {
		t.Fatalf("Lookup = %v, %v", got, ok)
	}
	if got, ok := m.StableIDOf(o); !ok || got != id {
		t.Fatalf("StableIDOf = %v, %v", got, ok)
	}
	if _, ok := m.Remove(id); !ok {
		t.Fatalf("Remove reported missing id")
	}
	if _, ok := m.Lookup(id); ok {
		t.Fatalf("id still mapped after Remove")
	}
	if m.Len() != 0 {
		t.Fatalf("Len = %d", m.Len())
	}
}

func TestMap_DuplicateInsertFails(t *testing.T) {
	m := New()
	id := NewStableID()
	if err := m.Insert(id, world.Owner{Index: 1}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := m.Insert(id, world.Owner{Index: 2})
	if !errors.Is(err, ErrDuplicateStableID) {
		t.Fatalf("expected ErrDuplicateStableID, got %v", err)
	}
	err = m.Insert(NewStableID(), world.Owner{Index: 1})
	if !errors.Is(err, ErrDuplicateStableID) {
		t.Fatalf("expected owner reuse rejected, got %v", err)
	}
	if got, _ := m.Lookup(id); got.Index != 1 {
		t.Fatalf("failed insert mutated mapping: %v", got)
	}
}

func TestMap_Materialize(t *testing.T) {
	w := world.New(world.WorldConfig{})
	m := New()
	id := NewStableID()

	o, created, err := m.Materialize(w, id)
	if err != nil || !created {
		t.Fatalf("first Materialize: created=%v err=%v", created, err)
	}
	again, created, err := m.Materialize(w, id)
	if err != nil || created || again != o {
		t.Fatalf("second Materialize: %v created=%v err=%v", again, created, err)
	}

	w.Despawn(o)
	fresh, created, err := m.Materialize(w, id)
	if err != nil || !created || fresh == o {
		t.Fatalf("Materialize after despawn: %v created=%v err=%v", fresh, created, err)
	}
}
