package config

// Config is the whole on-disk configuration tree.
//
// The file may be JSON or YAML (by extension); both are decoded strictly so
// typos in keys are caught on load/reload rather than silently ignored.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Platform PlatformConfig `json:"platform"`
	Sweep    SweepConfig    `json:"sweep"`
	API      *APIConfig     `json:"api,omitempty"`
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

// StorageConfig controls the schedule store volume and its at-rest sealing.
//
// SealKey may be any non-empty string; it is stretched to a 256-bit key.
// The AGENTSCHED_SEAL_KEY environment variable overrides it, and
// AGENTSCHED_DEV_MODE=true stores plaintext JSON (never use in deployment).
type StorageConfig struct {
	Root    string `json:"root"`
	SealKey string `json:"seal_key,omitempty"`
}

// PlatformConfig controls the agent-platform client (the only network egress).
//
// Timeout and durations elsewhere are Go duration strings (e.g. "30s", "1m").
type PlatformConfig struct {
	BaseURL string `json:"base_url"`
	Timeout string `json:"timeout,omitempty"`

	// SendRatePerSec caps outbound message sends across all dispatches.
	// 0 disables the limiter.
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
}

// SweepConfig controls the periodic due-check pass and its dispatch pool.
//
// Defaults (when fields are omitted/zero):
//   - interval: "60s"
//   - workers: 4
//   - queue_size: 256
type SweepConfig struct {
	Enabled   bool   `json:"enabled"`
	Interval  string `json:"interval,omitempty"`
	Workers   int    `json:"workers,omitempty"`
	QueueSize int    `json:"queue_size,omitempty"`
}

// APIConfig controls the optional tenant-facing HTTP API.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8080"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
