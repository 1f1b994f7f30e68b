package world

import (
	"testing"

	"villagecraft.ai/internal/village/geom"
)

func obj(id string) Object {
	return Object{InstanceID: id, CatalogID: "house", OriginalCost: 10, Scale: geom.UnitScale}
}

func ids(w *World) string {
	s := ""
	for _, o := range w.Objects() {
		s += o.InstanceID
	}
	return s
}

func TestAddKeepsInsertionOrder(t *testing.T) {
	w := New()
	for _, id := range []string{"a", "b", "c"} {
		if err := w.Add(obj(id)); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	if got := ids(w); got != "abc" {
		t.Fatalf("order=%s", got)
	}
	if err := w.Add(obj("b")); err == nil {
		t.Fatalf("duplicate add should fail")
	}
	if err := w.Add(Object{}); err == nil {
		t.Fatalf("empty id should fail")
	}
}

func TestRemoveInsertRestoresPosition(t *testing.T) {
	w := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		_ = w.Add(obj(id))
	}
	o, idx, ok := w.Remove("b")
	if !ok || idx != 1 || o.InstanceID != "b" {
		t.Fatalf("remove b: ok=%v idx=%d o=%+v", ok, idx, o)
	}
	if got := ids(w); got != "acd" {
		t.Fatalf("after remove=%s", got)
	}
	if err := w.Insert(idx, o); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if got := ids(w); got != "abcd" {
		t.Fatalf("after insert=%s", got)
	}
	if _, _, ok := w.Remove("zz"); ok {
		t.Fatalf("remove unknown should report false")
	}
}

func TestObjectsAreCopies(t *testing.T) {
	w := New()
	_ = w.Add(obj("a"))
	objs := w.Objects()
	objs[0].OriginalCost = 999
	got, _ := w.Get("a")
	if got.OriginalCost != 10 {
		t.Fatalf("snapshot mutation leaked into world")
	}
}

func TestSetStateAndReplace(t *testing.T) {
	w := New()
	_ = w.Add(obj("a"))
	if err := w.SetState("a", PendingDeletion); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if o, _ := w.Get("a"); o.State != PendingDeletion {
		t.Fatalf("state=%s", o.State)
	}
	if err := w.SetState("nope", Placed); err == nil {
		t.Fatalf("unknown id should fail")
	}

	if err := w.Replace([]Object{obj("x"), obj("x")}); err == nil {
		t.Fatalf("replace with duplicates should fail")
	}
	if got := ids(w); got != "a" {
		t.Fatalf("failed replace must keep old contents, got %s", got)
	}
	if err := w.Replace([]Object{obj("x"), obj("y")}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got := ids(w); got != "xy" {
		t.Fatalf("after replace=%s", got)
	}
	w.Clear()
	if w.Len() != 0 {
		t.Fatalf("clear left %d objects", w.Len())
	}
	if NewInstanceID() == NewInstanceID() {
		t.Fatalf("instance ids should be unique")
	}
}
