package config

import (
	"path/filepath"
	"strings"
	"testing"
)

// memBackend is an in-memory ConfigBackend for tests.
type memBackend struct {
	strings map[string]string
	ints    map[string]int
}

func newMemBackend() *memBackend {
	return &memBackend{strings: make(map[string]string), ints: make(map[string]int)}
}

func (b *memBackend) GetString(key string) (string, bool, error) {
	v, ok := b.strings[key]
	return v, ok, nil
}

func (b *memBackend) GetInt(key string) (int, bool, error) {
	v, ok := b.ints[key]
	return v, ok, nil
}

func (b *memBackend) SetString(key, val string) error {
	b.strings[key] = val
	return nil
}

func (b *memBackend) SetInt(key string, val int) error {
	b.ints[key] = val
	return nil
}

func (b *memBackend) Delete(key string) error {
	delete(b.strings, key)
	delete(b.ints, key)
	return nil
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadWith(newMemBackend())
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 4400 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Warehouse.Mode != ModeLocal {
		t.Errorf("mode = %q, want local default", cfg.Warehouse.Mode)
	}
	if cfg.Warehouse.Schema != "hackathon.hackathon_build_hold_busters" {
		t.Errorf("schema = %q", cfg.Warehouse.Schema)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" || cfg.Ollama.Model != "llama3.2" {
		t.Errorf("ollama = %+v", cfg.Ollama)
	}
	if filepath.Base(cfg.Storage.FeedbackPath) != "feedback_memory.json" {
		t.Errorf("feedback path = %q", cfg.Storage.FeedbackPath)
	}
}

func TestLoad_BackendOverridesDefaults(t *testing.T) {
	b := newMemBackend()
	b.ints["server.port"] = 9000
	b.strings["ollama.model"] = "mistral-nemo"

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Ollama.Model != "mistral-nemo" {
		t.Errorf("model = %q", cfg.Ollama.Model)
	}
}

func TestLoad_EnvOverridesBackend(t *testing.T) {
	b := newMemBackend()
	b.strings["ollama.model"] = "from-file"
	t.Setenv("HB_OLLAMA_MODEL", "from-env")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Ollama.Model != "from-env" {
		t.Errorf("model = %q, want env to win", cfg.Ollama.Model)
	}
}

func TestLoad_SecretsComeFromEnvOnly(t *testing.T) {
	b := newMemBackend()
	// A token in the file must be ignored; it only lives in the env.
	b.strings["databricks.token"] = "file-token"
	t.Setenv("HB_DATABRICKS_TOKEN", "")
	t.Setenv("DATABRICKS_TOKEN", "")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Databricks.Token != "" {
		t.Errorf("token = %q, want empty", cfg.Databricks.Token)
	}
}

func TestLoad_DatabricksCLIFallback(t *testing.T) {
	b := newMemBackend()
	b.strings["warehouse.mode"] = ModeDatabricks
	b.strings["databricks.warehouse_id"] = "wh-1"
	b.strings["genie.space_id"] = "space-1"
	t.Setenv("HB_DATABRICKS_HOST", "")
	t.Setenv("HB_DATABRICKS_TOKEN", "")
	t.Setenv("DATABRICKS_HOST", "https://acme.cloud.databricks.com")
	t.Setenv("DATABRICKS_TOKEN", "dapi-123")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Databricks.Host != "https://acme.cloud.databricks.com" {
		t.Errorf("host = %q", cfg.Databricks.Host)
	}
	if cfg.Databricks.Token != "dapi-123" {
		t.Errorf("token = %q", cfg.Databricks.Token)
	}
}

func TestLoad_DatabricksModeRequiresCredentials(t *testing.T) {
	b := newMemBackend()
	b.strings["warehouse.mode"] = ModeDatabricks
	for _, env := range []string{"HB_DATABRICKS_HOST", "HB_DATABRICKS_TOKEN", "DATABRICKS_HOST", "DATABRICKS_TOKEN", "HB_DATABRICKS_WAREHOUSE_ID", "HB_GENIE_SPACE_ID"} {
		t.Setenv(env, "")
	}

	_, err := loadWith(b)
	if err == nil {
		t.Fatal("expected error for databricks mode without credentials")
	}
	// The error points at every variable the operator needs to set.
	for _, want := range []string{"DATABRICKS_HOST", "DATABRICKS_TOKEN", "HB_DATABRICKS_WAREHOUSE_ID", "HB_GENIE_SPACE_ID"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %s: %v", want, err)
		}
	}
}

func TestLoad_LocalModeNeedsNoCredentials(t *testing.T) {
	b := newMemBackend()
	b.strings["warehouse.mode"] = ModeLocal

	if _, err := loadWith(b); err != nil {
		t.Errorf("local mode should load without credentials: %v", err)
	}
}

func TestLoad_UnknownMode(t *testing.T) {
	b := newMemBackend()
	b.strings["warehouse.mode"] = "cloudy"
	t.Setenv("HB_WAREHOUSE_MODE", "")

	_, err := loadWith(b)
	if err == nil || !strings.Contains(err.Error(), "cloudy") {
		t.Errorf("err = %v", err)
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Databricks.Token = "dapi-secret"
	cfg.Server.Token = "api-secret"

	for _, k := range ShowAll(cfg) {
		if strings.Contains(k.Value, "secret") {
			t.Errorf("secret leaked through ShowAll: %s = %s", k.Key, k.Value)
		}
		if k.Key == "databricks.token" || k.Key == "server.token" {
			t.Errorf("secret key %s listed", k.Key)
		}
	}
}

func TestValidKeys_ExcludesSecrets(t *testing.T) {
	for _, k := range ValidKeys() {
		if k == "databricks.token" || k == "server.token" {
			t.Errorf("secret key %s listed as settable", k)
		}
	}
}
