package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"villagecraft.ai/internal/autosave"
	"villagecraft.ai/internal/persistence/saves"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the village and serve the HUD",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			log.Error().Err(err).Msg("close")
		}
	}()
	if err := a.restore(); err != nil {
		return err
	}

	suspend := make(chan os.Signal, 1)
	if sigs := suspendSignals(); len(sigs) > 0 {
		signal.Notify(suspend, sigs...)
		defer signal.Stop(suspend)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.hud.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_ = a.loop.Run(loopCtx)
		return nil
	})

	saver, err := autosave.Start(cfg.AutosaveInterval, a.loop, func() { _ = a.village.Save(saves.TriggerTimer) }, log)
	if err != nil {
		stopLoop()
		_ = g.Wait()
		return err
	}

	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Dur("autosave", saver.Every()).Msg("hud listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-suspend:
				log.Info().Str("signal", sig.String()).Msg("suspend requested, saving")
				_ = a.loop.Do(gctx, func() { _ = a.village.OnSuspend() })
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		saver.Stop()

		var exitErr error
		if err := a.loop.Do(shutdownCtx, func() { exitErr = a.shutdown() }); err != nil {
			exitErr = err
		}
		stopLoop()
		if exitErr != nil {
			log.Error().Err(exitErr).Msg("exit save failed")
		}
		return nil
	})
	return g.Wait()
}
