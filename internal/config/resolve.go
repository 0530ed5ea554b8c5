package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"portalshot/internal/schedule"
	logx "portalshot/pkg/logx"
)

// ErrInvalid marks every configuration failure: missing file, unparsable
// content, missing required keys or out-of-range values.
var ErrInvalid = errors.New("invalid configuration")

// Error is a configuration failure for a given file.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("config %s: %v", e.Path, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrInvalid) hold for any *Error.
func (e *Error) Is(target error) bool { return target == ErrInvalid }

const (
	DefaultPollInterval   = time.Second
	DefaultSettle         = 5 * time.Second
	DefaultBrowserTimeout = 2 * time.Minute
	DefaultWindowWidth    = 1920
	DefaultWindowHeight   = 1080
	DefaultUsernameField  = "userLoginName"
	DefaultPasswordField  = "userLoginPass"
	DefaultSubmitSelector = "//input[@type='submit' and @value='Prijava']"
	DefaultBusyTimeout    = 5 * time.Second
	DefaultStoragePath    = "./data/portalshot"
)

// Resolved holds parsed, defaulted values derived from a valid Config.
type Resolved struct {
	MaxAttempts  int
	RetryDelay   time.Duration
	At           schedule.TimeOfDay
	Location     *time.Location
	PollInterval time.Duration

	Settle         time.Duration
	BrowserTimeout time.Duration
	Headless       bool
	WindowWidth    int
	WindowHeight   int
	UsernameField  string
	PasswordField  string
	SubmitSelector string

	StorageDriver      string
	StoragePath        string
	StorageBusyTimeout time.Duration

	SystemdNotify   bool
	SystemdWatchdog bool
}

// Resolve validates cfg and returns its parsed form. All problems are
// reported together.
func Resolve(cfg *Config) (*Resolved, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var problems []string
	add := func(format string, args ...any) { problems = append(problems, fmt.Sprintf(format, args...)) }
	addErr := func(err error) {
		if err != nil {
			problems = append(problems, err.Error())
		}
	}

	r := &Resolved{}

	// retries
	switch {
	case cfg.Retries.MaxRetries == nil:
		add("retries.max_retries is required")
	case *cfg.Retries.MaxRetries < 1:
		add("retries.max_retries must be >= 1")
	default:
		r.MaxAttempts = *cfg.Retries.MaxRetries
	}
	switch {
	case cfg.Retries.Delay == nil:
		add("retries.delay is required")
	case *cfg.Retries.Delay < 0:
		add("retries.delay must be >= 0")
	default:
		r.RetryDelay = secondsToDuration(*cfg.Retries.Delay)
	}

	// schedule
	if strings.TrimSpace(cfg.Schedule.Time) == "" {
		add("schedule.time is required")
	} else if at, err := schedule.ParseTimeOfDay(cfg.Schedule.Time); err != nil {
		add("schedule.time: %v", err)
	} else {
		r.At = at
	}
	r.Location = time.Local
	if tz := strings.TrimSpace(cfg.Schedule.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			add("schedule.timezone: unknown zone %q", tz)
		} else {
			r.Location = loc
		}
	}
	var err error
	r.PollInterval, err = ParseDurationOrDefault("schedule.poll_interval", cfg.Schedule.PollInterval, DefaultPollInterval)
	addErr(err)

	// login
	if u := strings.TrimSpace(cfg.Login.URL); u == "" {
		add("login.url is required")
	} else if pu, err := url.Parse(u); err != nil || pu.Scheme == "" || pu.Host == "" {
		add("login.url: %q is not an absolute URL", u)
	}
	if cfg.Login.Username == "" {
		add("login.username is required")
	}
	if cfg.Login.Password == "" {
		add("login.password is required")
	}
	r.UsernameField = orDefault(cfg.Login.UsernameField, DefaultUsernameField)
	r.PasswordField = orDefault(cfg.Login.PasswordField, DefaultPasswordField)
	r.SubmitSelector = orDefault(cfg.Login.SubmitSelector, DefaultSubmitSelector)
	r.Settle, err = ParseDurationOrDefault("login.settle", cfg.Login.Settle, DefaultSettle)
	addErr(err)

	// screenshot
	if strings.TrimSpace(cfg.Screenshot.Directory) == "" {
		add("screenshot.directory is required")
	}

	// browser
	r.Headless = boolOr(cfg.Browser.Headless, true)
	r.WindowWidth, r.WindowHeight = DefaultWindowWidth, DefaultWindowHeight
	if cfg.Browser.WindowWidth < 0 || cfg.Browser.WindowHeight < 0 {
		add("browser.window_width/window_height must be >= 0")
	}
	if cfg.Browser.WindowWidth > 0 {
		r.WindowWidth = cfg.Browser.WindowWidth
	}
	if cfg.Browser.WindowHeight > 0 {
		r.WindowHeight = cfg.Browser.WindowHeight
	}
	r.BrowserTimeout, err = ParseDurationOrDefault("browser.timeout", cfg.Browser.Timeout, DefaultBrowserTimeout)
	addErr(err)
	for name, v := range cfg.Browser.Flags {
		if strings.HasPrefix(name, "-") || strings.TrimSpace(name) == "" {
			add("browser.flags: %q must be a bare switch name without dashes", name)
		}
		switch v.(type) {
		case bool, string, float64:
		default:
			add("browser.flags.%s: value must be a bool, string or number", name)
		}
	}

	// logging
	if !logx.ValidLevel(cfg.Logging.Level) {
		add("logging.level: unknown level %q", cfg.Logging.Level)
	}

	// notify
	if tg := cfg.Notify.Telegram; tg.Enabled {
		if strings.TrimSpace(tg.Token) == "" {
			add("notify.telegram.token is required when enabled")
		}
		if tg.ChatID == 0 {
			add("notify.telegram.chat_id is required when enabled")
		}
		if tg.RatePerSec < 0 {
			add("notify.telegram.rate_per_sec must be >= 0")
		}
	}

	// storage
	r.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	switch r.StorageDriver {
	case "", "none", "file", "sqlite", "sqlite3":
	default:
		add("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	r.StoragePath = orDefault(cfg.Storage.Path, DefaultStoragePath)
	r.StorageBusyTimeout, err = ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, DefaultBusyTimeout)
	addErr(err)

	r.SystemdNotify = boolOr(cfg.Systemd.Notify, true)
	r.SystemdWatchdog = boolOr(cfg.Systemd.Watchdog, true)

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return r, nil
}

// Validate reports whether cfg would resolve.
func Validate(cfg *Config) error {
	_, err := Resolve(cfg)
	return err
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return strings.TrimSpace(s)
}
