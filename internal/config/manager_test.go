package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "cfg.json", `{
  "logging": {"level": "debug", "console": true},
  "storage": {"driver": "file", "path": "./routines.json"},
  "scheduler": {"sweep_interval": "5m"},
  "runner": {"default_action_delay": "10s"},
  "telegram": {"token": "t", "owner_user_ids": [42], "notify_dispatch": true}
}`)

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging: %+v", cfg.Logging)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.Path != "./routines.json" {
		t.Fatalf("storage: %+v", cfg.Storage)
	}
	if cfg.Scheduler.SweepInterval != "5m" {
		t.Fatalf("scheduler: %+v", cfg.Scheduler)
	}
	if cfg.Telegram == nil || cfg.Telegram.Token != "t" || len(cfg.Telegram.OwnerUserIDs) != 1 {
		t.Fatalf("telegram: %+v", cfg.Telegram)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get() does not return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "cfg.yaml", `
logging:
  level: info
  console: true
storage:
  driver: sqlite
  path: ./routines.db
  busy_timeout: 3s
scheduler:
  sweep_interval: 2m
`)

	cfg, err := NewConfigManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeout != "3s" {
		t.Fatalf("storage: %+v", cfg.Storage)
	}
	if cfg.Scheduler.SweepInterval != "2m" {
		t.Fatalf("scheduler: %+v", cfg.Scheduler)
	}
	if cfg.Telegram != nil {
		t.Fatalf("telegram should be absent, got %+v", cfg.Telegram)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "cfg.json", `{"logging": {"level": "info"}, "storge": {}}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("expected error for misspelled section")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "cfg.json", `{"logging": {"level": "info"}}{"extra": 1}`)
	if _, err := NewConfigManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("scheduler.sweep_interval", "90s")
	if err != nil || d != 90*time.Second {
		t.Fatalf("ParseDurationField = %v, %v", d, err)
	}
	if d, err := ParseDurationField("scheduler.sweep_interval", ""); err != nil || d != 0 {
		t.Fatalf("empty string should parse as zero, got %v, %v", d, err)
	}
	if _, err := ParseDurationField("scheduler.sweep_interval", "soon"); err == nil {
		t.Fatal("expected error for non-duration string")
	}
	if _, err := ParseDurationField("scheduler.sweep_interval", "-5s"); err == nil {
		t.Fatal("expected error for negative duration")
	}

	if got, err := ParseDurationOrDefault("runner.default_action_delay", "", time.Minute); err != nil || got != time.Minute {
		t.Fatalf("empty string should fall back to default, got %v, %v", got, err)
	}
	if got, err := ParseDurationOrDefault("runner.default_action_delay", "2m", time.Minute); err != nil || got != 2*time.Minute {
		t.Fatalf("valid string ignored, got %v, %v", got, err)
	}
}

func TestSubscribePublish(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "cfg.json", `{"logging": {"level": "info"}, "storage": {"driver": "file", "path": "x"}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	next := &Config{Logging: LoggingConfig{Level: "debug"}}
	m.Commit(next)
	m.publish(next)

	select {
	case got := <-ch:
		if got.Logging.Level != "debug" {
			t.Fatalf("unexpected published config: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber received nothing")
	}
}

func TestReloadOnFileChange(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "cfg.json", `{"logging": {"level": "info"}, "storage": {"driver": "file", "path": "x"}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"logging": {"level": "warn"}, "storage": {"driver": "file", "path": "x"}}`), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)
	m.reload(context.Background())

	select {
	case got := <-ch:
		if got.Logging.Level != "warn" {
			t.Fatalf("unexpected reloaded config: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("reload did not publish the new config")
	}
	if m.Get().Logging.Level != "warn" {
		t.Fatal("reload did not commit the new config")
	}
}

func TestReloadSkipsUnchangedContent(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "cfg.json", `{"logging": {"level": "info"}, "storage": {"driver": "file", "path": "x"}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)
	m.reload(context.Background())

	select {
	case <-ch:
		t.Fatal("reload published despite unchanged content")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReloadRespectsValidator(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "cfg.json", `{"logging": {"level": "info"}, "storage": {"driver": "file", "path": "x"}}`)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return errors.New("rejected") })

	if err := os.WriteFile(path, []byte(`{"logging": {"level": "error"}, "storage": {"driver": "file", "path": "x"}}`), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}
	m.reload(context.Background())

	if m.Get().Logging.Level != "info" {
		t.Fatal("rejected config was committed")
	}
}
