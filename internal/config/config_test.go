package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
retries:
  max_retries: 3
  delay: 2.5
schedule:
  time: "09:30"
  timezone: UTC
login:
  url: https://portal.example.com/login
  username: alice
  password: s3cret
screenshot:
  directory: ./shots
browser:
  flags:
    no-sandbox: true
    disable-dev-shm-usage: true
storage:
  driver: file
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	m := NewManager(writeFile(t, "config.yml", validYAML))
	cfg, r, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Login.Username != "alice" {
		t.Fatalf("username = %q", cfg.Login.Username)
	}
	if r.MaxAttempts != 3 {
		t.Fatalf("MaxAttempts = %d", r.MaxAttempts)
	}
	if r.RetryDelay != 2500*time.Millisecond {
		t.Fatalf("RetryDelay = %s", r.RetryDelay)
	}
	if r.At.Hour != 9 || r.At.Minute != 30 {
		t.Fatalf("At = %+v", r.At)
	}
	if r.Location.String() != "UTC" {
		t.Fatalf("Location = %s", r.Location)
	}
	if r.PollInterval != DefaultPollInterval || r.Settle != DefaultSettle {
		t.Fatalf("defaults not applied: poll=%s settle=%s", r.PollInterval, r.Settle)
	}
	if !r.Headless || r.WindowWidth != 1920 || r.WindowHeight != 1080 {
		t.Fatalf("browser defaults: %+v", r)
	}
	if r.UsernameField != DefaultUsernameField || r.SubmitSelector != DefaultSubmitSelector {
		t.Fatalf("selector defaults: %q %q", r.UsernameField, r.SubmitSelector)
	}
	if r.StorageDriver != "file" || r.StoragePath != DefaultStoragePath {
		t.Fatalf("storage = %q %q", r.StorageDriver, r.StoragePath)
	}
	if got, _ := m.Get(); got != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	body := `{"retries":{"max_retries":1,"delay":0},"schedule":{"time":"7:05"},
	"login":{"url":"http://10.0.0.1/","username":"u","password":"p"},"screenshot":{"directory":"/tmp/x"}}`
	_, r, err := NewManager(writeFile(t, "config.json", body)).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if r.MaxAttempts != 1 || r.RetryDelay != 0 {
		t.Fatalf("retries = %d %s", r.MaxAttempts, r.RetryDelay)
	}
}

func TestLoadErrorsAreConfigurationErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		file string
		body string
		want string
	}{
		{name: "missing max_retries", file: "c.yml", body: strings.Replace(validYAML, "  max_retries: 3\n", "", 1), want: "retries.max_retries is required"},
		{name: "missing delay", file: "c.yml", body: strings.Replace(validYAML, "  delay: 2.5\n", "", 1), want: "retries.delay is required"},
		{name: "zero retries", file: "c.yml", body: strings.Replace(validYAML, "max_retries: 3", "max_retries: 0", 1), want: "retries.max_retries must be >= 1"},
		{name: "negative delay", file: "c.yml", body: strings.Replace(validYAML, "delay: 2.5", "delay: -1", 1), want: "retries.delay must be >= 0"},
		{name: "bad time", file: "c.yml", body: strings.Replace(validYAML, `"09:30"`, `"25:00"`, 1), want: "schedule.time"},
		{name: "bad zone", file: "c.yml", body: strings.Replace(validYAML, "timezone: UTC", "timezone: Mars/Base", 1), want: "schedule.timezone"},
		{name: "unknown key", file: "c.yml", body: validYAML + "extra: 1\n", want: "unknown field"},
		{name: "not yaml", file: "c.yml", body: "retries: [", want: "yaml unmarshal"},
		{name: "empty", file: "c.yml", body: "", want: "empty config"},
		{name: "trailing json", file: "c.json", body: `{} {}`, want: "trailing data"},
		{name: "missing login", file: "c.json", body: `{"retries":{"max_retries":1,"delay":1},"schedule":{"time":"01:00"},"screenshot":{"directory":"x"}}`, want: "login.url is required"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := NewManager(writeFile(t, tt.file, tt.body)).Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("errors.Is(err, ErrInvalid) = false for %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestMissingFile(t *testing.T) {
	t.Parallel()
	_, _, err := NewManager(filepath.Join(t.TempDir(), "nope.yml")).Load()
	if !errors.Is(err, ErrInvalid) || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("err = %v, want ErrInvalid wrapping ErrNotExist", err)
	}
}

func TestResolveTelegramRequiresTarget(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("c.yml", []byte(validYAML+"notify:\n  telegram:\n    enabled: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	err = Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "notify.telegram.token") || !strings.Contains(err.Error(), "notify.telegram.chat_id") {
		t.Fatalf("err = %v", err)
	}
}

func TestReloadPublishesOnlyChanges(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.yml", validYAML)
	m := NewManager(path)
	if _, _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	changed, err := m.Reload()
	if err != nil || changed {
		t.Fatalf("Reload unchanged = %v, %v", changed, err)
	}

	if err := os.WriteFile(path, []byte(strings.Replace(validYAML, "alice", "bob", 1)), 0o600); err != nil {
		t.Fatal(err)
	}
	changed, err = m.Reload()
	if err != nil || !changed {
		t.Fatalf("Reload changed = %v, %v", changed, err)
	}
	select {
	case cfg := <-ch:
		if cfg.Login.Username != "bob" {
			t.Fatalf("published username = %q", cfg.Login.Username)
		}
	default:
		t.Fatal("expected a published config")
	}

	if err := os.WriteFile(path, []byte("retries: {}\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Reload(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("invalid reload err = %v", err)
	}
	if cfg, _ := m.Get(); cfg.Login.Username != "bob" {
		t.Fatal("invalid reload must keep the previous config")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg, err := Decode("c.yml", []byte(validYAML))
	if err != nil {
		t.Fatal(err)
	}
	newCfg, _ := Decode("c.yml", []byte(validYAML))
	if ch := SummarizeConfigChange(oldCfg, newCfg); !ch.Empty() {
		t.Fatalf("identical configs reported %v", ch.Sections)
	}

	newCfg.Login.Password = "rotated"
	newCfg.Schedule.Time = "10:00"
	newCfg.Logging.Level = "debug"
	ch := SummarizeConfigChange(oldCfg, newCfg)
	for _, s := range []string{"login", "schedule", "logging"} {
		if !ch.Has(s) {
			t.Fatalf("missing section %s in %v", s, ch.Sections)
		}
	}
	if len(ch.RestartRequired) != 1 || ch.RestartRequired[0] != "schedule" {
		t.Fatalf("RestartRequired = %v", ch.RestartRequired)
	}
}

func TestParseDurationFieldKeepsCause(t *testing.T) {
	t.Parallel()
	_, err := ParseDurationField("logging.flush", "10 parsecs")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Unwrap(err) == nil {
		t.Fatalf("err = %v, want the parse error wrapped", err)
	}
	_, cause := time.ParseDuration("10 parsecs")
	if !strings.Contains(err.Error(), cause.Error()) || !strings.HasPrefix(err.Error(), "logging.flush:") {
		t.Fatalf("err = %q, want path and cause %q", err, cause)
	}

	if d, err := ParseDurationOrDefault("x", "", 5*time.Second); err != nil || d != 5*time.Second {
		t.Fatalf("default = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative durations must be rejected")
	}
}
