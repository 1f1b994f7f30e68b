package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var ErrUnknownEntry = errors.New("catalog: unknown entry")

// Footprint is a sizing hint for placement previews. The core never interprets it.
type Footprint struct {
	Width float64 `yaml:"width" json:"width"`
	Depth float64 `yaml:"depth" json:"depth"`
}

type Entry struct {
	ID          string
	DisplayName string
	Cost        int64
	RefundRatio decimal.Decimal
	Footprint   Footprint
}

// Catalog is read-only once built and is shared by pointer across the process.
type Catalog struct {
	order  []string
	byID   map[string]Entry
	Digest string
}

type fileEntry struct {
	ID          string    `yaml:"id" validate:"required"`
	DisplayName string    `yaml:"display_name" validate:"required"`
	Cost        int64     `yaml:"cost" validate:"gt=0"`
	RefundRatio string    `yaml:"refund_ratio" validate:"required"`
	Footprint   Footprint `yaml:"footprint"`
}

type file struct {
	Entries []fileEntry `yaml:"entries" validate:"dive"`
}

var validate = validator.New()

var one = decimal.NewFromInt(1)

func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	if err := validate.Struct(f); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}

	entries := make([]Entry, 0, len(f.Entries))
	for _, fe := range f.Entries {
		ratio, err := decimal.NewFromString(fe.RefundRatio)
		if err != nil {
			return nil, fmt.Errorf("catalog %s: %s refund_ratio: %w", path, fe.ID, err)
		}
		entries = append(entries, Entry{
			ID:          fe.ID,
			DisplayName: fe.DisplayName,
			Cost:        fe.Cost,
			RefundRatio: ratio,
			Footprint:   fe.Footprint,
		})
	}
	c, err := New(entries)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	c.Digest = sha256Hex(raw)
	return c, nil
}

// New builds a catalog from entries supplied by an external loader. Entries keep
// their given order; duplicate ids are rejected.
func New(entries []Entry) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		if err := checkEntry(e); err != nil {
			return nil, err
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("duplicate id %q", e.ID)
		}
		c.byID[e.ID] = e
		c.order = append(c.order, e.ID)
	}
	if c.Digest == "" {
		ids := append([]string(nil), c.order...)
		sort.Strings(ids)
		var b []byte
		for _, id := range ids {
			e := c.byID[id]
			b = fmt.Appendf(b, "%s|%d|%s\n", e.ID, e.Cost, e.RefundRatio.String())
		}
		c.Digest = sha256Hex(b)
	}
	return c, nil
}

func checkEntry(e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("empty id")
	}
	if e.Cost <= 0 {
		return fmt.Errorf("%s: cost must be > 0, got %d", e.ID, e.Cost)
	}
	if !e.RefundRatio.IsPositive() || e.RefundRatio.GreaterThan(one) {
		return fmt.Errorf("%s: refund_ratio must be in (0,1], got %s", e.ID, e.RefundRatio)
	}
	return nil
}

func (c *Catalog) Lookup(id string) (Entry, bool) {
	e, ok := c.byID[id]
	return e, ok
}

func (c *Catalog) Get(id string) (Entry, error) {
	e, ok := c.byID[id]
	if !ok {
		return Entry{}, fmt.Errorf("%q: %w", id, ErrUnknownEntry)
	}
	return e, nil
}

func (c *Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

func (c *Catalog) Len() int { return len(c.order) }

// Refund is floor(originalCost * RefundRatio). It uses the caller's cost, not e.Cost,
// so objects bought before a price change are refunded on what was paid.
func (e Entry) Refund(originalCost int64) int64 {
	if originalCost <= 0 {
		return 0
	}
	return decimal.NewFromInt(originalCost).Mul(e.RefundRatio).Floor().IntPart()
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
