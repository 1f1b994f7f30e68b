// Package config loads village settings from YAML with an environment overlay.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"villagecraft.ai/internal/village/geom"
)

// EnvPrefix namespaces environment overrides, e.g. VILLAGE_STARTING_BALANCE.
const EnvPrefix = "VILLAGE"

type Config struct {
	StartingBalance  int64         `yaml:"starting_balance" envconfig:"STARTING_BALANCE" validate:"gte=0"`
	GridSize         float64       `yaml:"grid_size" envconfig:"GRID_SIZE"`
	AutosaveInterval time.Duration `yaml:"autosave_interval" envconfig:"AUTOSAVE_INTERVAL" validate:"gte=1s"`
	MessageDuration  time.Duration `yaml:"message_duration" envconfig:"MESSAGE_DURATION" validate:"gt=0"`

	SavePath    string `yaml:"save_path" envconfig:"SAVE_PATH" validate:"required"`
	CatalogPath string `yaml:"catalog_path" envconfig:"CATALOG_PATH" validate:"required"`

	Backup     BackupConfig `yaml:"backup" envconfig:"BACKUP"`
	HistoryDB  string       `yaml:"history_db" envconfig:"HISTORY_DB"`
	JournalDir string       `yaml:"journal_dir" envconfig:"JOURNAL_DIR"`
	ListenAddr string       `yaml:"listen_addr" envconfig:"LISTEN_ADDR"`

	Log LogConfig `yaml:"log" envconfig:"LOG"`
}

type BackupConfig struct {
	// Empty Dir disables backups and quarantine copies.
	Dir  string `yaml:"dir" envconfig:"DIR"`
	Keep int    `yaml:"keep" envconfig:"KEEP" validate:"gte=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT" validate:"omitempty,oneof=json console"`
}

func Defaults() Config {
	return Config{
		StartingBalance:  100,
		GridSize:         0.5,
		AutosaveInterval: 20 * time.Second,
		MessageDuration:  3 * time.Second,
		SavePath:         "./data/save.json",
		CatalogPath:      "./configs/catalog.yaml",
		Backup:           BackupConfig{Dir: "./data/backups", Keep: 5},
		HistoryDB:        "./data/history.sqlite",
		JournalDir:       "./data/journal",
		ListenAddr:       "127.0.0.1:8080",
		Log:              LogConfig{Level: "info", Format: "json"},
	}
}

var validate = validator.New()

// Load reads path over Defaults and then applies VILLAGE_* environment
// variables. A missing file is not an error; an empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("%s: %w", path, err)
			}
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing environment: %w", err)
	}
	cfg.GridSize = geom.ClampGrid(cfg.GridSize)
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
