// Package saves persists the ledger balance and placed objects, and rebuilds them
// on startup.
package saves

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"villagecraft.ai/internal/economy/ledger"
	"villagecraft.ai/internal/persistence/backup"
	"villagecraft.ai/internal/persistence/savefile"
	"villagecraft.ai/internal/village/catalog"
	"villagecraft.ai/internal/village/geom"
	"villagecraft.ai/internal/village/world"
)

const (
	TriggerTimer     = "timer"
	TriggerPlacement = "placement"
	TriggerDeletion  = "deletion"
	TriggerExit      = "exit"
	TriggerSuspend   = "suspend"
	TriggerManual    = "manual"
	TriggerReset     = "reset"
)

var ErrWriteFailed = errors.New("saves: write failed")

type Options struct {
	Path    string
	Backups *backup.Store
	Log     zerolog.Logger
	// OnSave is called after every Save attempt.
	OnSave func(trigger string, took time.Duration, err error)
}

type Manager struct {
	path    string
	backups *backup.Store
	log     zerolog.Logger
	onSave  func(string, time.Duration, error)

	ledger *ledger.Ledger
	world  *world.World
	cat    *catalog.Catalog
}

func New(opts Options, l *ledger.Ledger, w *world.World, cat *catalog.Catalog) *Manager {
	return &Manager{
		path:    opts.Path,
		backups: opts.Backups,
		log:     opts.Log.With().Str("component", "saves").Logger(),
		onSave:  opts.OnSave,
		ledger:  l,
		world:   w,
		cat:     cat,
	}
}

func (m *Manager) Path() string { return m.path }

// Snapshot builds the save document from current in-memory state.
func (m *Manager) Snapshot() savefile.Record {
	objs := m.world.Objects()
	rec := savefile.Record{Balance: m.ledger.Balance(), Objects: make([]savefile.Object, 0, len(objs))}
	for _, o := range objs {
		rec.Objects = append(rec.Objects, savefile.Object{
			InstanceID:   o.InstanceID,
			CatalogID:    o.CatalogID,
			X:            o.Position.X,
			Y:            o.Position.Y,
			Z:            o.Position.Z,
			RotationZ:    o.RotationZ,
			ScaleX:       o.Scale.X,
			ScaleY:       o.Scale.Y,
			OriginalCost: o.OriginalCost,
		})
	}
	return rec
}

// Save writes the current state. On failure the previous file is left intact and
// in-memory state is untouched; the error wraps ErrWriteFailed.
func (m *Manager) Save(trigger string) error {
	start := time.Now()
	err := m.save()
	took := time.Since(start)
	if m.onSave != nil {
		m.onSave(trigger, took, err)
	}
	if err != nil {
		m.log.Error().Err(err).Str("trigger", trigger).Msg("save failed")
		return err
	}
	m.log.Debug().Str("trigger", trigger).Dur("took", took).Int("objects", m.world.Len()).Msg("saved")
	return nil
}

func (m *Manager) save() error {
	b, err := savefile.Encode(m.Snapshot())
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrWriteFailed, err)
	}
	if m.backups != nil {
		if _, _, err := m.backups.Backup(m.path); err != nil {
			m.log.Warn().Err(err).Msg("backup previous save")
		}
	}
	if err := savefile.WriteAtomic(m.path, b); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

type Skipped struct {
	Index     int
	CatalogID string
	Reason    string
}

type LoadReport struct {
	// Fresh means no save existed and nothing changed.
	Fresh bool
	// Corrupt means the save was unreadable and state was reset to defaults.
	Corrupt    bool
	CorruptErr error
	Loaded     int
	Skipped    []Skipped
	Balance    int64
}

// Load restores state from disk. A missing file is a no-op. A corrupt file resets
// the ledger and world to defaults and is reported in the LoadReport rather than
// as an error. The returned error is only for I/O faults, in which case state is
// untouched.
func (m *Manager) Load() (LoadReport, error) {
	rec, exists, err := savefile.Read(m.path)
	switch {
	case !exists && err == nil:
		m.log.Info().Str("path", m.path).Msg("no save found, starting fresh")
		return LoadReport{Fresh: true, Balance: m.ledger.Balance()}, nil
	case errors.Is(err, savefile.ErrCorrupt):
		return m.fallback(err), nil
	case err != nil:
		return LoadReport{}, fmt.Errorf("read save %s: %w", m.path, err)
	}

	rep := LoadReport{}
	objs := make([]world.Object, 0, len(rec.Objects))
	seen := make(map[string]struct{}, len(rec.Objects))
	for i, so := range rec.Objects {
		if _, ok := m.cat.Lookup(so.CatalogID); !ok {
			rep.Skipped = append(rep.Skipped, Skipped{Index: i, CatalogID: so.CatalogID, Reason: "unknown catalog entry"})
			m.log.Warn().Int("index", i).Str("catalog_id", so.CatalogID).Msg("skipping saved object with unknown catalog entry")
			continue
		}
		id := so.InstanceID
		if _, dup := seen[id]; id == "" || dup {
			id = world.NewInstanceID()
		}
		seen[id] = struct{}{}
		objs = append(objs, world.Object{
			InstanceID:   id,
			CatalogID:    so.CatalogID,
			Position:     geom.Vec3{X: so.X, Y: so.Y, Z: so.Z},
			RotationZ:    so.RotationZ,
			Scale:        geom.Scale{X: so.ScaleX, Y: so.ScaleY},
			OriginalCost: so.OriginalCost,
			State:        world.Placed,
		})
	}
	if err := m.world.Replace(objs); err != nil {
		return m.fallback(fmt.Errorf("%w: %v", savefile.ErrCorrupt, err)), nil
	}
	m.ledger.Set(rec.Balance)

	rep.Loaded = len(objs)
	rep.Balance = m.ledger.Balance()
	m.log.Info().Int("objects", rep.Loaded).Int("skipped", len(rep.Skipped)).Int64("balance", rep.Balance).Msg("save loaded")
	return rep, nil
}

func (m *Manager) fallback(cause error) LoadReport {
	m.log.Warn().Err(cause).Str("path", m.path).Msg("save is corrupt, starting from defaults")
	if m.backups != nil {
		if dst, err := m.backups.Quarantine(m.path); err != nil {
			m.log.Warn().Err(err).Msg("quarantine corrupt save")
		} else {
			m.log.Info().Str("copy", dst).Msg("corrupt save quarantined")
		}
	}
	m.world.Clear()
	m.ledger.Reset()
	return LoadReport{Corrupt: true, CorruptErr: cause, Balance: m.ledger.Balance()}
}
