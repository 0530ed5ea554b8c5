package config

import (
	"strings"

	logx "portalshot/pkg/logx"
)

// Config mirrors config.yml. Keys use snake_case; unknown keys are rejected.
//
// retries, schedule.time, login and screenshot.directory are required and
// have no defaults. Everything else is optional.
type Config struct {
	Retries    RetriesConfig    `json:"retries"`
	Schedule   ScheduleConfig   `json:"schedule"`
	Login      LoginConfig      `json:"login"`
	Screenshot ScreenshotConfig `json:"screenshot"`

	Browser     BrowserConfig     `json:"browser,omitempty"`
	Logging     LoggingConfig     `json:"logging,omitempty"`
	Notify      NotifyConfig      `json:"notify,omitempty"`
	Storage     StorageConfig     `json:"storage,omitempty"`
	Diagnostics DiagnosticsConfig `json:"diagnostics,omitempty"`
	Systemd     SystemdConfig     `json:"systemd,omitempty"`
}

// RetriesConfig uses pointers so an omitted key can be told apart from zero.
type RetriesConfig struct {
	MaxRetries *int `json:"max_retries"`
	// Delay is in seconds; fractions are allowed.
	Delay *float64 `json:"delay"`
}

type ScheduleConfig struct {
	// Time is "HH:MM" on a 24h clock.
	Time string `json:"time"`
	// Timezone is an IANA name; empty means the host's local zone.
	Timezone string `json:"timezone,omitempty"`
	// PollInterval is a Go duration string. Default "1s".
	PollInterval string `json:"poll_interval,omitempty"`
}

type LoginConfig struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`

	// Form element names and the submit button XPath. Defaults match the
	// portal the tool was written for.
	UsernameField  string `json:"username_field,omitempty"`
	PasswordField  string `json:"password_field,omitempty"`
	SubmitSelector string `json:"submit_selector,omitempty"`

	// Settle is how long to wait after submitting. Default "5s".
	Settle string `json:"settle,omitempty"`
}

type ScreenshotConfig struct {
	Directory string `json:"directory"`
}

// BrowserConfig controls the Chrome instance started for every attempt.
//
// Flags are passed verbatim as command-line switches (without the leading
// dashes); a value of true enables a bare switch.
//
//	"flags": { "no-sandbox": true, "disable-dev-shm-usage": true }
type BrowserConfig struct {
	Headless     *bool          `json:"headless,omitempty"`
	WindowWidth  int            `json:"window_width,omitempty"`
	WindowHeight int            `json:"window_height,omitempty"`
	ExecPath     string         `json:"exec_path,omitempty"`
	Timeout      string         `json:"timeout,omitempty"`
	Flags        map[string]any `json:"flags,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console,omitempty"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

func (l LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   strings.TrimSpace(l.Level),
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: strings.TrimSpace(l.File.Path)},
	}
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

// TelegramConfig enables alerts to a chat. The token is never logged.
type TelegramConfig struct {
	Enabled        bool   `json:"enabled"`
	Token          string `json:"token,omitempty"`
	ChatID         int64  `json:"chat_id,omitempty"`
	ThreadID       int    `json:"thread_id,omitempty"`
	RatePerSec     int    `json:"rate_per_sec,omitempty"`
	SendScreenshot bool   `json:"send_screenshot,omitempty"`
}

// StorageConfig controls the optional run history.
//
// Example:
//
//	storage: { driver: sqlite, path: ./data/portalshot.db }
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type DiagnosticsConfig struct {
	Enabled bool `json:"enabled"`
	DumpEnv bool `json:"dump_env,omitempty"`
}

type SystemdConfig struct {
	Notify   *bool `json:"notify,omitempty"`
	Watchdog *bool `json:"watchdog,omitempty"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
