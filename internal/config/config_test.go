package config

import (
	"os"
	"path/filepath"
	"strings"
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

func TestParseJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"discord": {"token": "tok", "log_channel": "ops"},
		"logging": {"level": "debug", "console": true, "file": {"enabled": false, "path": ""}, "relay": {"enabled": false, "min_level": "", "rate_per_sec": 0}},
		"storage": {"driver": "file", "path": "./state.json"}
	}`)
	m := NewManager(path)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Discord.Token != "tok" || cfg.Logging.Level != "debug" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Storage.Driver != "file" || cfg.Storage.Path != "./state.json" {
		t.Fatalf("storage not parsed: %+v", cfg.Storage)
	}
}

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", strings.Join([]string{
		"discord:",
		"  token: tok",
		"logging:",
		"  level: info",
		"  console: true",
		"  file: {enabled: false, path: \"\"}",
		"  relay: {enabled: false, min_level: \"\", rate_per_sec: 0}",
		"storage:",
		"  driver: sqlite",
		"  path: ./state.db",
		"lottery:",
		"  min_interval: 1h",
		"  max_interval: 48h",
	}, "\n"))
	m := NewManager(path)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Lottery.MaxInterval != "48h" {
		t.Fatalf("yaml config not coerced: %+v", cfg)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.json", `{"discord": {"token": "tok"}, "telegram": {}}`)
	m := NewManager(path)
	if _, err := m.Parse(); err == nil {
		t.Fatalf("expected unknown-field error")
	}
}

func TestParseRejectsTrailingData(t *testing.T) {
	path := writeConfig(t, "config.json", `{"discord": {"token": "tok"}}{"extra": 1}`)
	m := NewManager(path)
	if _, err := m.Parse(); err == nil {
		t.Fatalf("expected trailing-data error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvToken, "env-token")
	t.Setenv(EnvStatePath, "/var/lib/guildbot/state.json")

	path := writeConfig(t, "config.json", `{"discord": {"token": "file-token"}, "storage": {"driver": "file", "path": "./state.json"}}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Discord.Token != "env-token" {
		t.Fatalf("token override ignored: %q", cfg.Discord.Token)
	}
	if cfg.Storage.Path != "/var/lib/guildbot/state.json" {
		t.Fatalf("state path override ignored: %q", cfg.Storage.Path)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{Discord: DiscordConfig{Token: "tok"}}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("minimal config must validate: %v", err)
	}

	c := base()
	c.Discord.Token = "  "
	if err := c.Validate(); err == nil {
		t.Fatalf("blank token must fail")
	}

	c = base()
	c.Storage.Driver = "redis"
	if err := c.Validate(); err == nil {
		t.Fatalf("unknown driver must fail")
	}

	c = base()
	c.Lottery.MinInterval = "2h"
	c.Lottery.MaxInterval = "1h"
	if err := c.Validate(); err == nil {
		t.Fatalf("max < min must fail")
	}

	c = base()
	c.Lottery.MinInterval = "soon"
	if err := c.Validate(); err == nil {
		t.Fatalf("unparseable duration must fail")
	}

	c = base()
	c.Logging.Relay.Enabled = true
	if err := c.Validate(); err == nil {
		t.Fatalf("relay without log channel must fail")
	}
	c.Discord.LogChannel = "ops"
	if err := c.Validate(); err != nil {
		t.Fatalf("relay with log channel: %v", err)
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = (%v, %v), want (0, nil)", d, err)
	}
	if d, err := ParseDurationField("x", " 90m "); err != nil || d != 90*time.Minute {
		t.Fatalf("90m = (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "-1h"); err == nil {
		t.Fatalf("negative duration must fail")
	}
	if _, err := ParseDurationField("x", "later"); err == nil {
		t.Fatalf("junk duration must fail")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	if d, err := ParseDurationOrDefault("x", "", time.Hour); err != nil || d != time.Hour {
		t.Fatalf("default = (%v, %v), want (1h, nil)", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "30m", time.Hour); err != nil || d != 30*time.Minute {
		t.Fatalf("explicit = (%v, %v)", d, err)
	}
}

func TestSubscribePublishAndUnsubscribe(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)

	cfg := &Config{Discord: DiscordConfig{Token: "tok"}}
	m.publish(cfg)
	select {
	case got := <-ch:
		if got != cfg {
			t.Fatalf("wrong config delivered")
		}
	default:
		t.Fatalf("expected a published config")
	}

	m.Unsubscribe(ch)
	if _, open := <-ch; open {
		t.Fatalf("expected channel closed after Unsubscribe")
	}
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)

	first := &Config{Discord: DiscordConfig{Token: "one"}}
	second := &Config{Discord: DiscordConfig{Token: "two"}}
	m.publish(first)
	m.publish(second)

	got := <-ch
	if got.Discord.Token != "two" {
		t.Fatalf("expected newest config, got %q", got.Discord.Token)
	}
}
