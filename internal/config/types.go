package config

// Config is the daemon configuration file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Remote   RemoteConfig   `json:"remote"`
	Scan     ScanConfig     `json:"scan"`
	Progress ProgressConfig `json:"progress"`
	Debug    DebugConfig    `json:"debug"`
}

type LoggingConfig struct {
	Level   string      `json:"level" validate:"omitempty,oneof=trace debug info warn warning error"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the result sink.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/regionscan.db" }
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none memory file sqlite sqlite3"`
	Path        string `json:"path" validate:"required_if=Driver file,required_if=Driver sqlite,required_if=Driver sqlite3"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// RemoteConfig configures the inventory API client.
//
// Only the "simulated" driver exists today; it models a per-target
// request rate so pacing and throttling behave like the real thing.
type RemoteConfig struct {
	Driver             string  `json:"driver" validate:"omitempty,oneof=simulated"`
	RatePerSec         float64 `json:"rate_per_sec" validate:"gte=0"`
	Burst              int     `json:"burst" validate:"gte=0"`
	ResourcesPerTarget int     `json:"resources_per_target" validate:"gte=0"`
	Latency            string  `json:"latency,omitempty"`
}

// ScanConfig describes what to scan and how fast.
//
// Defaults (when fields are omitted/zero):
//   - delay: "250ms" per worker
//   - refresh: "" (scan once)
//   - page_size: 50
//   - retry: max 3, base "500ms", max_delay "15s"
type ScanConfig struct {
	Delay    string `json:"delay,omitempty"`
	Refresh  string `json:"refresh,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	PageSize int    `json:"page_size,omitempty" validate:"gte=0,lte=1000"`
	// Metrics are looked up for every listed resource.
	Metrics []string `json:"metrics,omitempty" validate:"dive,required"`
	// Replace drops a target's stored resources before it is scanned again.
	Replace bool           `json:"replace,omitempty"`
	Retry   RetryConfig    `json:"retry"`
	Targets []TargetConfig `json:"targets" validate:"required,min=1,dive"`
}

type RetryConfig struct {
	Max      *int   `json:"max,omitempty" validate:"omitempty,gte=0,lte=20"`
	Base     string `json:"base,omitempty"`
	MaxDelay string `json:"max_delay,omitempty"`
}

// TargetConfig expands to one target per (region, service) pair.
type TargetConfig struct {
	Account  string   `json:"account" validate:"required"`
	Regions  []string `json:"regions" validate:"required,min=1,dive,required"`
	Services []string `json:"services" validate:"required,min=1,dive,required"`
	// Delay overrides scan.delay for these targets.
	Delay string `json:"delay,omitempty"`
}

type ProgressConfig struct {
	// Interval between progress reports. "0s" disables them.
	Interval string `json:"interval,omitempty"`
}

// DebugConfig enables the diagnostics HTTP server (worker snapshots, progress,
// manual rescan, pprof). A non-loopback addr needs a token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
