package config

import (
	"reflect"
	"strings"

	logx "portalshot/pkg/logx"
)

// Change describes the difference between two configs.
type Change struct {
	// Sections lists every top-level section that changed.
	Sections []string
	// RestartRequired lists changed sections that only take effect on restart.
	RestartRequired []string
	// Fields are safe log attributes; secrets never appear here.
	Fields []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Has reports whether section changed.
func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeConfigChange compares two configs section by section.
//
// retries and schedule are fixed for the life of the process, so a change there
// is flagged as restart-required instead of applied.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	mark := func(section string, restart bool, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if restart {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
		ch.Fields = append(ch.Fields, fields...)
	}

	if !reflect.DeepEqual(oldCfg.Retries, newCfg.Retries) {
		mark("retries", true)
	}
	if !reflect.DeepEqual(oldCfg.Schedule, newCfg.Schedule) {
		mark("schedule", true, logx.String("schedule.time", strings.TrimSpace(newCfg.Schedule.Time)))
	}
	// Never log the password.
	if !reflect.DeepEqual(oldCfg.Login, newCfg.Login) {
		mark("login", false,
			logx.String("login.url", newCfg.Login.URL),
			logx.Bool("login.username_changed", oldCfg.Login.Username != newCfg.Login.Username),
			logx.Bool("login.password_changed", oldCfg.Login.Password != newCfg.Login.Password),
		)
	}
	if oldCfg.Screenshot != newCfg.Screenshot {
		mark("screenshot", false, logx.String("screenshot.directory", newCfg.Screenshot.Directory))
	}
	if !reflect.DeepEqual(oldCfg.Browser, newCfg.Browser) {
		mark("browser", false)
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging", false, logx.String("logging.level", newCfg.Logging.Level))
	}
	// Token stays out of the log.
	if oldCfg.Notify != newCfg.Notify {
		mark("notify", true, logx.Bool("notify.telegram.enabled", newCfg.Notify.Telegram.Enabled))
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage", true)
	}
	if oldCfg.Diagnostics != newCfg.Diagnostics {
		mark("diagnostics", false)
	}
	if !reflect.DeepEqual(oldCfg.Systemd, newCfg.Systemd) {
		mark("systemd", true)
	}

	if len(ch.Sections) > 0 {
		ch.Fields = append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	}
	return ch
}
