package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "HB_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "HB_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "databricks.host", typ: kString, env: "HB_DATABRICKS_HOST",
		apply:   func(cfg *Config, v any) { cfg.Databricks.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Databricks.Host },
	},
	{
		key: "databricks.token", typ: kString, env: "HB_DATABRICKS_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Databricks.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Databricks.Token },
	},
	{
		key: "databricks.warehouse_id", typ: kString, env: "HB_DATABRICKS_WAREHOUSE_ID",
		apply:   func(cfg *Config, v any) { cfg.Databricks.WarehouseID = v.(string) },
		extract: func(cfg Config) any { return cfg.Databricks.WarehouseID },
	},
	{
		key: "genie.space_id", typ: kString, env: "HB_GENIE_SPACE_ID",
		apply:   func(cfg *Config, v any) { cfg.Genie.SpaceID = v.(string) },
		extract: func(cfg Config) any { return cfg.Genie.SpaceID },
	},
	{
		key: "ollama.base_url", typ: kString, env: "HB_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "HB_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "warehouse.mode", typ: kString, env: "HB_WAREHOUSE_MODE",
		apply:   func(cfg *Config, v any) { cfg.Warehouse.Mode = v.(string) },
		extract: func(cfg Config) any { return cfg.Warehouse.Mode },
	},
	{
		key: "warehouse.schema", typ: kString, env: "HB_WAREHOUSE_SCHEMA",
		apply:   func(cfg *Config, v any) { cfg.Warehouse.Schema = v.(string) },
		extract: func(cfg Config) any { return cfg.Warehouse.Schema },
	},
	{
		key: "storage.data_dir", typ: kString, env: "HB_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.feedback_path", typ: kString, env: "HB_STORAGE_FEEDBACK_PATH",
		apply:   func(cfg *Config, v any) { cfg.Storage.FeedbackPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.FeedbackPath },
	},
	{
		key: "log.level", typ: kString, env: "HB_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
