// Package deletion sells placed objects back for a refund of what was paid.
package deletion

import (
	"errors"
	"fmt"

	"villagecraft.ai/internal/economy/ledger"
	"villagecraft.ai/internal/village/catalog"
	"villagecraft.ai/internal/village/world"
)

var ErrUnknownObject = errors.New("deletion: unknown object")

const saveTrigger = "deletion"

type Saver interface {
	Save(trigger string) error
}

type Candidate struct {
	Object world.Object
	Entry  catalog.Entry
	Refund int64
}

type Result struct {
	Object  world.Object
	Entry   catalog.Entry
	Refund  int64
	Balance int64
	// SaveErr is set when the object was sold but the save afterwards failed.
	SaveErr error
}

type Flow struct {
	ledger *ledger.Ledger
	world  *world.World
	cat    *catalog.Catalog
	saver  Saver

	selected *Candidate
}

func New(l *ledger.Ledger, w *world.World, cat *catalog.Catalog, saver Saver) *Flow {
	return &Flow{ledger: l, world: w, cat: cat, saver: saver}
}

// Select marks instanceID as the deletion candidate and computes its refund.
// Nothing is credited or removed until ConfirmDelete.
func (f *Flow) Select(instanceID string) (Candidate, error) {
	obj, ok := f.world.Get(instanceID)
	if !ok {
		return Candidate{}, fmt.Errorf("%s: %w", instanceID, ErrUnknownObject)
	}
	entry, err := f.cat.Get(obj.CatalogID)
	if err != nil {
		return Candidate{}, err
	}
	f.ClearSelection()
	if err := f.world.SetState(instanceID, world.PendingDeletion); err != nil {
		return Candidate{}, err
	}
	obj.State = world.PendingDeletion
	f.selected = &Candidate{Object: obj, Entry: entry, Refund: entry.Refund(obj.OriginalCost)}
	return *f.selected, nil
}

func (f *Flow) Selected() (Candidate, bool) {
	if f.selected == nil {
		return Candidate{}, false
	}
	return *f.selected, true
}

func (f *Flow) ClearSelection() {
	if f.selected == nil {
		return
	}
	// The object may already be gone if the world was reloaded underneath us.
	_ = f.world.SetState(f.selected.Object.InstanceID, world.Placed)
	f.selected = nil
}

// ConfirmDelete refunds and removes the selected object. With no selection it does
// nothing and reports ok=false. Refund and removal happen together or not at all.
func (f *Flow) ConfirmDelete() (Result, bool, error) {
	if f.selected == nil {
		return Result{}, false, nil
	}
	cand := *f.selected

	obj, idx, ok := f.world.Remove(cand.Object.InstanceID)
	if !ok {
		f.selected = nil
		return Result{}, false, fmt.Errorf("%s: %w", cand.Object.InstanceID, ErrUnknownObject)
	}
	if cand.Refund > 0 {
		if err := f.ledger.Credit(cand.Refund); err != nil {
			obj.State = world.Placed
			if rerr := f.world.Insert(idx, obj); rerr != nil {
				err = errors.Join(err, rerr)
			}
			f.selected = nil
			return Result{}, false, fmt.Errorf("refund %s: %w", obj.InstanceID, err)
		}
	}
	f.selected = nil

	res := Result{Object: obj, Entry: cand.Entry, Refund: cand.Refund, Balance: f.ledger.Balance()}
	if f.saver != nil {
		res.SaveErr = f.saver.Save(saveTrigger)
	}
	return res, true, nil
}

// Forget drops the selection without touching object state, used after a reload.
func (f *Flow) Forget() { f.selected = nil }
