package config

// Config is the daemon's configuration file.
//
// The file may be JSON or YAML (YAML is coerced to JSON so both share the
// same strict decoder). All durations are Go duration strings ("30s", "5m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	Runner    RunnerConfig    `json:"runner,omitempty"`
	Telegram  *TelegramConfig `json:"telegram,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig selects the durable routine store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./routines.json" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the trigger engine.
//
// SweepInterval is the eligibility re-scan cadence; the default (5m) is a
// deliberate coarseness, tolerant of restarts and clock changes. Do not tune
// it below a minute expecting precision the engine does not promise.
type SchedulerConfig struct {
	SweepInterval string `json:"sweep_interval,omitempty"`
}

// RunnerConfig controls action execution.
//
// DefaultActionDelay applies when a routine is created without an explicit
// inter-action delay.
type RunnerConfig struct {
	DefaultActionDelay string `json:"default_action_delay,omitempty"`
}

// TelegramConfig enables the optional Telegram control transport. With no
// token the daemon runs headless and is driven through the store/API only.
type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`

	// NotifyDispatch forwards every dispatched action to the first owner as a
	// Telegram message (rate-limited).
	NotifyDispatch bool `json:"notify_dispatch,omitempty"`
	NotifyRate     int  `json:"notify_rate_per_sec,omitempty"`
}
