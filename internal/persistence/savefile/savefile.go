// Package savefile defines the on-disk save document. Field names are the
// compatibility contract across versions; new fields must be optional.
package savefile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var ErrCorrupt = errors.New("savefile: corrupt save data")

//go:embed save.schema.json
var schemaJSON string

var schema = jsonschema.MustCompileString("save.schema.json", schemaJSON)

type Record struct {
	Objects []Object `json:"objects"`
	Balance int64    `json:"balance"`
}

type Object struct {
	InstanceID   string  `json:"instanceId,omitempty"`
	CatalogID    string  `json:"catalogId"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Z            float64 `json:"z"`
	RotationZ    float64 `json:"rotationZ"`
	ScaleX       float64 `json:"scaleX"`
	ScaleY       float64 `json:"scaleY"`
	OriginalCost int64   `json:"originalCost"`
}

func Encode(rec Record) ([]byte, error) {
	if rec.Objects == nil {
		rec.Objects = []Object{}
	}
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Decode parses and schema-checks b. Any failure wraps ErrCorrupt.
func Decode(b []byte) (Record, error) {
	var rec Record
	if len(bytes.TrimSpace(b)) == 0 {
		return rec, fmt.Errorf("empty document: %w", ErrCorrupt)
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := schema.Validate(doc); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := json.Unmarshal(b, &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return rec, nil
}

// Read returns exists=false with a nil error when path is absent.
func Read(path string) (rec Record, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	rec, err = Decode(b)
	return rec, true, err
}

// WriteAtomic writes b next to path and renames it into place, so readers see either
// the old file or the new one.
func WriteAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
