package commands

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"villagecraft.ai/internal/config"
	"villagecraft.ai/internal/logging"
)

var (
	configPath string
	envFile    string

	cfg config.Config
	log zerolog.Logger
)

func Execute() error {
	root := &cobra.Command{
		Use:           "villaged",
		Short:         "Village economy and placement daemon",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			log = logging.New(logging.Options{Service: "villaged", Level: cfg.Log.Level, Format: cfg.Log.Format})
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/village.yaml", "village config file")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")

	root.AddCommand(serveCmd(), inspectCmd(), resetCmd())
	return root.Execute()
}
