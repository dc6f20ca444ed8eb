package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	Server     ServerConfig
	Databricks DatabricksConfig
	Genie      GenieConfig
	Ollama     OllamaConfig
	Warehouse  WarehouseConfig
	Storage    StorageConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port int
	// Token, when set, enables bearer auth on the management API.
	Token string
}

type DatabricksConfig struct {
	Host        string
	Token       string
	WarehouseID string
}

type GenieConfig struct {
	SpaceID string
}

// OllamaConfig drives the local assistant used in local warehouse mode.
type OllamaConfig struct {
	BaseURL string
	Model   string
}

// WarehouseConfig selects where SQL runs. Mode "databricks" uses the
// remote SQL warehouse; "local" uses the embedded SQLite database seeded
// with synthetic invoices.
type WarehouseConfig struct {
	Mode   string
	Schema string
}

type StorageConfig struct {
	DataDir      string
	FeedbackPath string
}

type LogConfig struct {
	Level string
}

const (
	ModeDatabricks = "databricks"
	ModeLocal      = "local"
)

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4400,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3.2",
		},
		Warehouse: WarehouseConfig{
			Mode:   ModeLocal,
			Schema: "hackathon.hackathon_build_hold_busters",
		},
		Storage: StorageConfig{
			DataDir:      dataDir,
			FeedbackPath: filepath.Join(dataDir, "feedback_memory.json"),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "holdbusters-data"
		}
	}
	return filepath.Join(dir, "holdbusters")
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/holdbusters/config.json, then applies HB_* environment
// overrides. The Databricks token is env-only and also honors the stock
// DATABRICKS_HOST / DATABRICKS_TOKEN variables as a fallback.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Databricks CLI-style variables as a fallback, matching how the
	// hosted deployment is usually configured.
	if cfg.Databricks.Host == "" {
		cfg.Databricks.Host = os.Getenv("DATABRICKS_HOST")
	}
	if cfg.Databricks.Token == "" {
		cfg.Databricks.Token = os.Getenv("DATABRICKS_TOKEN")
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Warehouse.Mode {
	case ModeLocal:
		return nil
	case ModeDatabricks:
		var missing []string
		if cfg.Databricks.Host == "" {
			missing = append(missing, "databricks host (HB_DATABRICKS_HOST or DATABRICKS_HOST)")
		}
		if cfg.Databricks.Token == "" {
			missing = append(missing, "databricks token (HB_DATABRICKS_TOKEN or DATABRICKS_TOKEN)")
		}
		if cfg.Databricks.WarehouseID == "" {
			missing = append(missing, "SQL warehouse id (HB_DATABRICKS_WAREHOUSE_ID)")
		}
		if cfg.Genie.SpaceID == "" {
			missing = append(missing, "Genie space id (HB_GENIE_SPACE_ID; find it in the space URL: /genie/spaces/<SPACE_ID>)")
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required config for databricks mode: %v", missing)
		}
		return nil
	default:
		return fmt.Errorf("unknown warehouse mode %q (want %q or %q)", cfg.Warehouse.Mode, ModeDatabricks, ModeLocal)
	}
}
