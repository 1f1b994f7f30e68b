package savefile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEncodeUsesContractFieldNames(t *testing.T) {
	b, err := Encode(Record{
		Balance: 30,
		Objects: []Object{{CatalogID: "house", X: 1.5, Y: 2, Z: 0, RotationZ: 90, ScaleX: 1, ScaleY: 1, OriginalCost: 100}},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	s := string(b)
	for _, key := range []string{`"objects"`, `"balance"`, `"catalogId"`, `"x"`, `"y"`, `"z"`, `"rotationZ"`, `"scaleX"`, `"scaleY"`, `"originalCost"`} {
		if !strings.Contains(s, key) {
			t.Fatalf("encoded save missing %s:\n%s", key, s)
		}
	}
	if strings.Contains(s, "instanceId") {
		t.Fatalf("empty instanceId should be omitted")
	}

	empty, _ := Encode(Record{})
	if !strings.Contains(string(empty), `"objects": []`) {
		t.Fatalf("nil objects should encode as []: %s", empty)
	}
}

func TestDecodeAcceptsLegacyDocument(t *testing.T) {
	doc := `{"objects":[{"catalogId":"well","x":1,"y":2,"z":0,"rotationZ":0,"scaleX":1,"scaleY":1,"originalCost":40,"tint":"red"}],"balance":12}`
	rec, err := Decode([]byte(doc))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Balance != 12 || len(rec.Objects) != 1 || rec.Objects[0].OriginalCost != 40 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	cases := []string{
		``,
		`{"objects": [`,
		`not json`,
		`{"balance": 10}`,
		`{"objects": [], "balance": "ten"}`,
		`{"objects": [{"catalogId": "house"}], "balance": 1}`,
		`{"objects": [], "balance": 1.5}`,
		`[]`,
	}
	for _, c := range cases {
		if _, err := Decode([]byte(c)); !errors.Is(err, ErrCorrupt) {
			t.Fatalf("decode(%q): expected ErrCorrupt, got %v", c, err)
		}
	}
}

func TestReadMissingFile(t *testing.T) {
	_, exists, err := Read(filepath.Join(t.TempDir(), "nope.json"))
	if exists || err != nil {
		t.Fatalf("exists=%v err=%v", exists, err)
	}
}

func TestWriteAtomicReplaces(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "nested", "save.json")

	first, _ := Encode(Record{Balance: 1})
	if err := WriteAtomic(p, first); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	second, _ := Encode(Record{Balance: 2})
	if err := WriteAtomic(p, second); err != nil {
		t.Fatalf("write 2: %v", err)
	}
	rec, exists, err := Read(p)
	if err != nil || !exists || rec.Balance != 2 {
		t.Fatalf("read: rec=%+v exists=%v err=%v", rec, exists, err)
	}
	if _, err := os.Stat(p + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestWriteAtomicFailureKeepsOldFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "save.json")
	old, _ := Encode(Record{Balance: 7})
	if err := WriteAtomic(p, old); err != nil {
		t.Fatal(err)
	}
	// A directory squatting on the temp path makes the write fail.
	if err := os.Mkdir(p+".tmp", 0o755); err != nil {
		t.Fatal(err)
	}
	next, _ := Encode(Record{Balance: 99})
	if err := WriteAtomic(p, next); err == nil {
		t.Fatalf("expected write failure")
	}
	rec, _, err := Read(p)
	if err != nil || rec.Balance != 7 {
		t.Fatalf("old save damaged: rec=%+v err=%v", rec, err)
	}
}
