// Package capture logs into the portal with a headless Chrome and saves a
// full-page screenshot.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"portalshot/internal/retry"
	logx "portalshot/pkg/logx"
)

// Settings is everything one capture needs. It is swapped as a whole on
// config reload.
type Settings struct {
	URL      string
	Username string
	Password string

	UsernameField  string // input name attribute
	PasswordField  string // input name attribute
	SubmitSelector string // XPath of the submit button
	Settle         time.Duration

	Directory string

	Headless     bool
	WindowWidth  int
	WindowHeight int
	ExecPath     string
	Timeout      time.Duration
	Flags        map[string]any
}

// Shooter drives a browser and returns PNG bytes. The browser must be gone
// when it returns.
type Shooter func(ctx context.Context, s Settings) ([]byte, error)

type Option func(*Capturer)

// WithShooter replaces the chromedp implementation, mostly for tests.
func WithShooter(fn Shooter) Option {
	return func(c *Capturer) {
		if fn != nil {
			c.shoot = fn
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Capturer) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(c *Capturer) { c.log = log }
}

// Capturer performs the capture action. Each call owns its browser end to end;
// nothing is shared between calls except the settings pointer.
type Capturer struct {
	settings atomic.Pointer[Settings]
	last     atomic.Pointer[string]
	shoot    Shooter
	now      func() time.Time
	log      logx.Logger
}

func New(s Settings, opts ...Option) *Capturer {
	c := &Capturer{shoot: chromeShoot, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	c.Apply(s)
	return c
}

// Apply replaces the settings used by subsequent captures. A capture already
// running keeps the settings it started with.
func (c *Capturer) Apply(s Settings) {
	cp := s
	c.settings.Store(&cp)
}

func (c *Capturer) Settings() Settings { return *c.settings.Load() }

// Capture runs one login-and-screenshot and returns the written file path.
func (c *Capturer) Capture(ctx context.Context) (string, error) {
	s := c.Settings()
	start := c.now()

	// Fail before starting a browser if the output cannot be written; another
	// attempt would not fix it.
	if err := os.MkdirAll(s.Directory, 0o755); err != nil {
		return "", fmt.Errorf("take screenshot: %w", retry.Permanent(fmt.Errorf("create directory: %w", err)))
	}

	buf, err := c.shoot(ctx, s)
	if err != nil {
		return "", fmt.Errorf("take screenshot: %w", err)
	}
	if len(buf) == 0 {
		return "", errors.New("take screenshot: browser returned an empty image")
	}

	path := filepath.Join(s.Directory, FileName(start))
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("take screenshot: write %s: %w", path, err)
	}
	c.last.Store(&path)
	c.log.Info("screenshot saved", logx.String("path", path), logx.Int("bytes", len(buf)), logx.Duration("took", c.now().Sub(start)))
	return path, nil
}

// Action adapts Capture to the retry loop. The written path is available
// from LastFile once the action succeeds.
func (c *Capturer) Action() retry.Action {
	return func(ctx context.Context) error {
		_, err := c.Capture(ctx)
		return err
	}
}

// LastFile is the path of the most recent successful capture, or "".
func (c *Capturer) LastFile() string {
	if p := c.last.Load(); p != nil {
		return *p
	}
	return ""
}

// FileName is screenshot_<year>-<day>-<month>_<hh>-<mm>-<ss>.png. The
// day-before-month order is kept so new files sort with existing archives.
func FileName(t time.Time) string {
	return "screenshot_" + t.Format("2006-02-01_15-04-05") + ".png"
}
