package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setEnv(t *testing.T, dir string) {
	t.Helper()
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("LOG_DIR", filepath.Join(dir, "logs"))
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("READY_DEADLINE_SECONDS", "3")
	t.Setenv("POLL_INTERVAL_MS", "50")
	t.Setenv("HISTORY_BACKEND", "file")
}

func TestLoadFromEnv(t *testing.T) {
	dir := t.TempDir()
	setEnv(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ReadyDeadline != 3*time.Second {
		t.Fatalf("ReadyDeadline = %v", cfg.ReadyDeadline)
	}
	if cfg.PollInterval != 50*time.Millisecond {
		t.Fatalf("PollInterval = %v", cfg.PollInterval)
	}
	if _, err := os.Stat(cfg.DataDir); err != nil {
		t.Fatalf("data dir should be created: %v", err)
	}

	t.Setenv("HISTORY_BACKEND", "sqlite")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported history backend")
	}
}

func TestInitConfigMergesSavedModelsAndHidesKey(t *testing.T) {
	dir := t.TempDir()
	setEnv(t, dir)
	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatal(err)
	}

	saved := AppConfig{
		Port:      "9999",
		Models:    ModelConfig{Voice: "Puck"},
		LLMConfig: map[string]string{"api_key": "stale", "base_url": "http://localhost:1"},
	}
	data, _ := json.Marshal(saved)
	if err := os.WriteFile(filepath.Join(dataDir, "config.json"), data, 0644); err != nil {
		t.Fatal(err)
	}

	if err := InitConfig(dataDir); err != nil {
		t.Fatalf("InitConfig: %v", err)
	}

	cfg := GetCurrentConfig()
	if cfg.Port != "8080" {
		t.Fatalf("port should come from env defaults, got %q", cfg.Port)
	}
	if cfg.Models.Voice != "Puck" || cfg.Models.Script != DefaultScriptModel {
		t.Fatalf("unexpected models %+v", cfg.Models)
	}
	if cfg.LLMConfig["api_key"] != "test-key" {
		t.Fatalf("env api key should win, got %q", cfg.LLMConfig["api_key"])
	}
	if cfg.LLMConfig["base_url"] != "http://localhost:1" {
		t.Fatalf("base_url not merged: %+v", cfg.LLMConfig)
	}

	written, err := os.ReadFile(filepath.Join(dataDir, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(written), "test-key") {
		t.Fatal("api key must not be persisted")
	}

	if err := UpdateModels(ModelConfig{Speech: "custom-tts"}); err != nil {
		t.Fatalf("UpdateModels: %v", err)
	}
	if GetCurrentConfig().Models.Speech != "custom-tts" {
		t.Fatal("speech model not updated")
	}
}
