package config

import (
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

const sampleYAML = `
telegram:
  token: "123:abc"
  poll_timeout: "15s"
logging:
  level: "debug"
  console: true
  file:
    enabled: false
    path: ""
provider:
  api_key: "key"
  timeout: "30s"
  rate_per_sec: 2
scan:
  interval: "45m"
  workers: 8
  notify_timeout: "5s"
storage:
  driver: "file"
  path: "./data/watch"
`

func TestManagerParseYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", sampleYAML)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging section wrong: %+v", cfg.Logging)
	}
	if cfg.Scan.Workers != 8 {
		t.Fatalf("workers = %d", cfg.Scan.Workers)
	}
	if d, err := cfg.Scan.IntervalDuration(); err != nil || d != 45*time.Minute {
		t.Fatalf("interval = %v, %v", d, err)
	}
	if d, err := cfg.Provider.TimeoutDuration(); err != nil || d != 30*time.Second {
		t.Fatalf("provider timeout = %v, %v", d, err)
	}
	if m.Get() != cfg {
		t.Fatalf("Get must return the committed config")
	}
}

func TestManagerParseJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"telegram": {"token": "123:abc"},
		"logging": {"level": "info", "console": true, "file": {"enabled": false, "path": ""}},
		"provider": {"api_key": "key"},
		"scan": {},
		"storage": {"driver": "sqlite", "path": "./watch.db"}
	}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("driver = %q", cfg.Storage.Driver)
	}
	// Omitted durations fall back to documented defaults.
	if d, _ := cfg.Scan.IntervalDuration(); d != 60*time.Minute {
		t.Fatalf("default interval = %v", d)
	}
	if d, _ := cfg.Scan.NotifyTimeoutDuration(); d != 10*time.Second {
		t.Fatalf("default notify timeout = %v", d)
	}
}

func TestManagerRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
telegram:
  token: "123:abc"
  totally_unknown: true
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatalf("expected unknown-field error")
	}
}

func TestManagerRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"telegram":{"token":"a"}}{"extra":1}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatalf("expected trailing-data error")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"  ", 0, false},
		{"10s", 10 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"-5s", 0, true},
		{"banana", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseDurationField("test.field", tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%q: expected error", tc.raw)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("%q: got %v, %v; want %v", tc.raw, got, err, tc.want)
		}
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("f", "", time.Minute); err != nil || d != time.Minute {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("f", "3s", time.Minute); err != nil || d != 3*time.Second {
		t.Fatalf("set: got %v, %v", d, err)
	}
	if _, err := ParseDurationOrDefault("f", "nope", time.Minute); err == nil {
		t.Fatalf("invalid: expected error")
	}
}
