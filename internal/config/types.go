package config

import "time"

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Provider ProviderConfig `json:"provider"`
	Scan     ScanConfig     `json:"scan"`
	Storage  StorageConfig  `json:"storage"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ProviderConfig configures the upstream match-data API.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type ProviderConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key"`
	// Timeout bounds a single API call. Default "20s".
	Timeout string `json:"timeout,omitempty"`
	// RatePerSec caps outgoing API calls. Default 5.
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// ScanConfig controls the periodic roster scan.
//
// Defaults (when fields are omitted/zero):
//   - interval: "60m"
//   - workers: 4 (subscribers scanned in parallel)
//   - notify_timeout: "10s"
type ScanConfig struct {
	Interval      string `json:"interval,omitempty"`
	Workers       int    `json:"workers,omitempty"`
	NotifyTimeout string `json:"notify_timeout,omitempty"`
}

func (s ScanConfig) IntervalDuration() (time.Duration, error) {
	return ParseDurationOrDefault("scan.interval", s.Interval, 60*time.Minute)
}

func (s ScanConfig) NotifyTimeoutDuration() (time.Duration, error) {
	return ParseDurationOrDefault("scan.notify_timeout", s.NotifyTimeout, 10*time.Second)
}

func (t TelegramConfig) PollTimeoutDuration() (time.Duration, error) {
	return ParseDurationOrDefault("telegram.poll_timeout", t.PollTimeout, 10*time.Second)
}

func (p ProviderConfig) TimeoutDuration() (time.Duration, error) {
	return ParseDurationOrDefault("provider.timeout", p.Timeout, 20*time.Second)
}

func (s StorageConfig) BusyTimeoutDuration() (time.Duration, error) {
	return ParseDurationField("storage.busy_timeout", s.BusyTimeout)
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./matchwatch.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
