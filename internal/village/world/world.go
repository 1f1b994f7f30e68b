// Package world stores the objects the player has paid for and placed.
package world

import (
	"fmt"

	"github.com/google/uuid"

	"villagecraft.ai/internal/village/geom"
)

type ObjectState int

const (
	Placed ObjectState = iota
	PendingDeletion
)

func (s ObjectState) String() string {
	if s == PendingDeletion {
		return "PENDING_DELETION"
	}
	return "PLACED"
}

type Object struct {
	InstanceID string
	CatalogID  string
	Position   geom.Vec3
	RotationZ  float64
	Scale      geom.Scale
	// OriginalCost is the price paid at purchase time; refunds are computed from it.
	OriginalCost int64
	State        ObjectState
}

func NewInstanceID() string { return uuid.NewString() }

// World keeps objects in insertion order. Readers get copies.
type World struct {
	order []string
	byID  map[string]*Object
}

func New() *World {
	return &World{byID: map[string]*Object{}}
}

func (w *World) Len() int { return len(w.order) }

func (w *World) Add(o Object) error {
	if o.InstanceID == "" {
		return fmt.Errorf("world: empty instance id")
	}
	if _, ok := w.byID[o.InstanceID]; ok {
		return fmt.Errorf("world: duplicate instance id %s", o.InstanceID)
	}
	cp := o
	w.byID[o.InstanceID] = &cp
	w.order = append(w.order, o.InstanceID)
	return nil
}

func (w *World) Get(id string) (Object, bool) {
	o, ok := w.byID[id]
	if !ok {
		return Object{}, false
	}
	return *o, true
}

func (w *World) SetState(id string, st ObjectState) error {
	o, ok := w.byID[id]
	if !ok {
		return fmt.Errorf("world: unknown instance %s", id)
	}
	o.State = st
	return nil
}

// Remove deletes id and reports its former index so a caller can Insert it back.
func (w *World) Remove(id string) (Object, int, bool) {
	o, ok := w.byID[id]
	if !ok {
		return Object{}, -1, false
	}
	idx := w.indexOf(id)
	delete(w.byID, id)
	w.order = append(w.order[:idx:idx], w.order[idx+1:]...)
	return *o, idx, true
}

// Insert places o at idx (clamped), restoring a previous Remove.
func (w *World) Insert(idx int, o Object) error {
	if err := w.Add(o); err != nil {
		return err
	}
	if idx < 0 || idx >= len(w.order)-1 {
		return nil
	}
	last := w.order[len(w.order)-1]
	copy(w.order[idx+1:], w.order[idx:len(w.order)-1])
	w.order[idx] = last
	return nil
}

func (w *World) Objects() []Object {
	out := make([]Object, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, *w.byID[id])
	}
	return out
}

// Replace swaps the whole contents, used when a save is loaded.
func (w *World) Replace(objs []Object) error {
	next := New()
	for _, o := range objs {
		if err := next.Add(o); err != nil {
			return err
		}
	}
	w.order, w.byID = next.order, next.byID
	return nil
}

func (w *World) Clear() {
	w.order = nil
	w.byID = map[string]*Object{}
}

func (w *World) indexOf(id string) int {
	for i, v := range w.order {
		if v == id {
			return i
		}
	}
	return -1
}
