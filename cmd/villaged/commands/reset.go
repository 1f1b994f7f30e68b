package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"villagecraft.ai/internal/economy/ledger"
	"villagecraft.ai/internal/persistence/backup"
	"villagecraft.ai/internal/persistence/saves"
	"villagecraft.ai/internal/village/catalog"
	"villagecraft.ai/internal/village/world"
)

func resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Back up the save and start a fresh village",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to reset without --yes")
			}
			if err := reset(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "village reset; balance %d\n", cfg.StartingBalance)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

// reset must not run while serve is running against the same save.
func reset() error {
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	var backups *backup.Store
	if cfg.Backup.Dir != "" {
		backups = backup.New(cfg.Backup.Dir, cfg.Backup.Keep)
	}
	mgr := saves.New(saves.Options{Path: cfg.SavePath, Backups: backups, Log: log}, ledger.New(cfg.StartingBalance), world.New(), cat)
	return mgr.Save(saves.TriggerReset)
}
