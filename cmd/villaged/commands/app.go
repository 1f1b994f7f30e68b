package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"villagecraft.ai/internal/config"
	"villagecraft.ai/internal/economy/ledger"
	"villagecraft.ai/internal/eventloop"
	"villagecraft.ai/internal/metrics"
	"villagecraft.ai/internal/persistence/backup"
	"villagecraft.ai/internal/persistence/history"
	"villagecraft.ai/internal/persistence/journal"
	"villagecraft.ai/internal/persistence/saves"
	"villagecraft.ai/internal/transport/hud"
	"villagecraft.ai/internal/village"
	"villagecraft.ai/internal/village/catalog"
	"villagecraft.ai/internal/village/feedback"
	"villagecraft.ai/internal/village/placement"
	"villagecraft.ai/internal/village/world"
)

// app owns every long-lived component. Everything except the loop itself must be
// touched only from loop goroutine once Run has started.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	registry *prometheus.Registry

	loop    *eventloop.Loop
	village *village.Orchestrator
	saves   *saves.Manager
	hud     *hud.Server
	history *history.SQLiteIndex
	journal *journal.MessageJournal

	teardown []func()
}

func buildApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	a := &app{cfg: cfg, log: log, registry: prometheus.NewRegistry(), loop: eventloop.New(256)}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewVillageMetrics(a.registry)

	l := ledger.New(cfg.StartingBalance)
	w := world.New()

	var backups *backup.Store
	if cfg.Backup.Dir != "" {
		backups = backup.New(cfg.Backup.Dir, cfg.Backup.Keep)
	}
	a.saves = saves.New(saves.Options{
		Path:    cfg.SavePath,
		Backups: backups,
		Log:     log,
		OnSave:  m.ObserveSave,
	}, l, w, cat)

	opts := village.Options{
		Ledger:    l,
		Catalog:   cat,
		World:     w,
		Placement: placement.NewController(cfg.GridSize),
		Board:     feedback.NewBoard(a.loop, cfg.MessageDuration),
		Saver:     a.saves,
		Metrics:   m,
		Log:       log,
	}

	if cfg.HistoryDB != "" {
		a.history, err = history.OpenSQLite(cfg.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		if err := a.history.RecordCatalog(ctx, cat.Digest, cat.Len()); err != nil {
			log.Warn().Err(err).Msg("record catalog digest")
		}
		obs := l.Register(a.history.ObserveLedger)
		a.teardown = append(a.teardown, func() { l.Unregister(obs) })
		opts.Trades = a.history
	}
	if cfg.JournalDir != "" {
		a.journal = journal.NewMessageJournal(cfg.JournalDir, log)
		a.teardown = append(a.teardown, opts.Board.Subscribe(a.journal.Listen))
	}

	a.village = village.New(opts)
	a.teardown = append(a.teardown, a.village.Close)

	a.hud = hud.NewServer(hud.Options{
		Village:  a.village,
		Loop:     a.loop,
		Log:      log,
		Gatherer: a.registry,
	})
	a.hud.Attach()
	a.teardown = append(a.teardown, a.hud.Detach)

	log.Info().Str("catalog_digest", cat.Digest).Int("catalog_entries", cat.Len()).Float64("grid_size", cfg.GridSize).Msg("village assembled")
	return a, nil
}

// restore loads the save. Call before the loop starts.
func (a *app) restore() error {
	rep, err := a.village.Restore(a.saves)
	if err != nil {
		return err
	}
	ev := a.log.Info()
	if rep.Corrupt {
		ev = a.log.Warn().AnErr("cause", rep.CorruptErr)
	}
	ev.Bool("fresh", rep.Fresh).Bool("corrupt", rep.Corrupt).Int("loaded", rep.Loaded).Int("skipped", len(rep.Skipped)).
		Int64("balance", rep.Balance).Msg("village restored")
	return nil
}

// shutdown saves on exit and releases every observer. Call on the loop.
func (a *app) shutdown() error {
	err := a.village.OnExit()
	for i := len(a.teardown) - 1; i >= 0; i-- {
		a.teardown[i]()
	}
	a.teardown = nil
	return err
}

// close releases files after the loop has stopped.
func (a *app) close() error {
	var errs []error
	if a.journal != nil {
		if n := a.journal.Failures(); n > 0 {
			a.log.Warn().Uint64("failures", n).Msg("feedback messages missing from journal")
		}
		errs = append(errs, a.journal.Close())
	}
	if a.history != nil {
		if n := a.history.Dropped(); n > 0 {
			a.log.Warn().Uint64("dropped", n).Msg("history records dropped under load")
		}
		errs = append(errs, a.history.Close())
	}
	return errors.Join(errs...)
}
