package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"portalshot/internal/capture"
	"portalshot/internal/config"
	"portalshot/internal/eventbus"
	"portalshot/internal/notifier"
	"portalshot/internal/retry"
	"portalshot/internal/storage"
	logx "portalshot/pkg/logx"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type env struct {
	dir   string
	shots string
	cfg   string
}

func newEnv(t *testing.T, maxRetries int, delay float64, extra string) env {
	t.Helper()
	dir := t.TempDir()
	e := env{dir: dir, shots: filepath.Join(dir, "shots"), cfg: filepath.Join(dir, "config.yml")}
	body := fmt.Sprintf(`
retries:
  max_retries: %d
  delay: %g
schedule:
  time: "09:30"
  timezone: UTC
login:
  url: https://portal.example.com/
  username: alice
  password: s3cret
screenshot:
  directory: %s
storage:
  driver: file
  path: %s
systemd:
  notify: false
%s`, maxRetries, delay, e.shots, filepath.Join(dir, "data", "hist"), extra)
	if err := os.WriteFile(e.cfg, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return e
}

// scriptedShooter fails the first failures calls, then returns an image.
type scriptedShooter struct {
	mu       sync.Mutex
	calls    int
	failures int
	onCall   func(n int)
}

func (s *scriptedShooter) shoot(_ context.Context, _ capture.Settings) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	fail := n <= s.failures
	s.mu.Unlock()
	if s.onCall != nil {
		s.onCall(n)
	}
	if fail {
		return nil, fmt.Errorf("login form not found (call %d)", n)
	}
	return []byte("\x89PNG"), nil
}

func (s *scriptedShooter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func collect(ch <-chan eventbus.Event) map[string]int {
	out := map[string]int{}
	for {
		select {
		case e := <-ch:
			out[e.Type]++
		default:
			return out
		}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	e := newEnv(t, 0, 1, "")
	_, err := New(e.cfg, WithLogger(logx.Nop()))
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
	if _, err := New(filepath.Join(e.dir, "missing.yml"), WithLogger(logx.Nop())); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("missing file err = %v", err)
	}
}

func TestRunOnceRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	e := newEnv(t, 3, 2, "")
	clk := &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	sh := &scriptedShooter{failures: 2}
	a, err := New(e.cfg, WithLogger(logx.Nop()), WithClock(clk), WithShooter(sh.shoot))
	if err != nil {
		t.Fatal(err)
	}
	defer a.closeStore()
	events, unsub := a.Bus().Subscribe(16)
	defer unsub()

	if err := a.runOnce(context.Background(), TriggerStartup); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	if sh.count() != 3 {
		t.Fatalf("shooter calls = %d, want 3", sh.count())
	}
	if got := clk.slept(); len(got) != 2 || got[0] != 2*time.Second || got[1] != 2*time.Second {
		t.Fatalf("sleeps = %v, want two 2s delays", got)
	}

	counts := collect(events)
	if counts[eventbus.RunStarted] != 1 || counts[eventbus.RunAttemptFailed] != 2 || counts[eventbus.RunSucceeded] != 1 || counts[eventbus.RunExhausted] != 0 {
		t.Fatalf("events = %v", counts)
	}

	runs, err := a.Store().RecentRuns(context.Background(), 5)
	if err != nil || len(runs) != 1 {
		t.Fatalf("RecentRuns = %+v, %v", runs, err)
	}
	r := runs[0]
	if !r.OK || r.Attempts != 3 || r.Trigger != TriggerStartup || r.ID == "" {
		t.Fatalf("record = %+v", r)
	}
	if filepath.Dir(r.File) != e.shots {
		t.Fatalf("file = %q, want it under %q", r.File, e.shots)
	}
	if r.DurationMS != 4000 {
		t.Fatalf("duration = %dms, want 4000", r.DurationMS)
	}
	if _, err := os.Stat(r.File); err != nil {
		t.Fatalf("screenshot missing: %v", err)
	}
}

func TestRunOnceExhausted(t *testing.T) {
	t.Parallel()
	e := newEnv(t, 1, 5, "")
	clk := &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	sh := &scriptedShooter{failures: 100}
	a, err := New(e.cfg, WithLogger(logx.Nop()), WithClock(clk), WithShooter(sh.shoot))
	if err != nil {
		t.Fatal(err)
	}
	defer a.closeStore()
	events, unsub := a.Bus().Subscribe(16)
	defer unsub()

	err = a.runOnce(context.Background(), TriggerSched)
	var ex *retry.ExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 1 {
		t.Fatalf("err = %v, want exhausted after 1 attempt", err)
	}
	if len(clk.slept()) != 0 {
		t.Fatalf("single attempt must not sleep: %v", clk.slept())
	}
	if counts := collect(events); counts[eventbus.RunExhausted] != 1 || counts[eventbus.RunAttemptFailed] != 1 {
		t.Fatalf("events = %v", counts)
	}

	runs, _ := a.Store().RecentRuns(context.Background(), 1)
	if len(runs) != 1 || runs[0].OK || !strings.HasPrefix(runs[0].Error, "take screenshot: login form not found") {
		t.Fatalf("record = %+v", runs)
	}
}

func TestRunStartupThenScheduledFiring(t *testing.T) {
	t.Parallel()
	e := newEnv(t, 2, 0, "")
	clk := &fakeClock{now: time.Date(2024, 5, 1, 9, 29, 59, 500_000_000, time.UTC)}
	sh := &scriptedShooter{}
	var a *App
	sh.onCall = func(n int) {
		if n == 2 {
			a.Stop()
		}
	}
	var err error
	a, err = New(e.cfg, WithLogger(logx.Nop()), WithClock(clk), WithShooter(sh.shoot))
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	if sh.count() != 2 {
		t.Fatalf("shooter calls = %d, want startup + one firing", sh.count())
	}
	if a.Store() != nil {
		t.Fatal("Run should close the store on exit")
	}

	st, err := reopen(e)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	runs, err := st.RecentRuns(context.Background(), 5)
	if err != nil || len(runs) != 2 {
		t.Fatalf("RecentRuns = %+v, %v", runs, err)
	}
	if runs[0].Trigger != TriggerSched || runs[1].Trigger != TriggerStartup {
		t.Fatalf("triggers = %s, %s", runs[0].Trigger, runs[1].Trigger)
	}
}

func TestStopBeforeRunExitsAfterFirstTick(t *testing.T) {
	t.Parallel()
	e := newEnv(t, 1, 0, "")
	clk := &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	sh := &scriptedShooter{failures: 1}
	a, err := New(e.cfg, WithLogger(logx.Nop()), WithClock(clk), WithShooter(sh.shoot))
	if err != nil {
		t.Fatal(err)
	}
	a.Stop()
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sh.count() != 1 {
		t.Fatalf("startup failure must not stop the loop from starting; calls = %d", sh.count())
	}
	if got := clk.slept(); len(got) != 1 || got[0] != config.DefaultPollInterval {
		t.Fatalf("sleeps = %v, want one poll", got)
	}
}

func TestCanceledContextStopsLoop(t *testing.T) {
	t.Parallel()
	e := newEnv(t, 1, 0, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sh := &scriptedShooter{}
	// The real clock keeps the stop goroutine and the loop racing fairly.
	a, err := New(e.cfg, WithLogger(logx.Nop()), WithShooter(sh.shoot))
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run ignored the canceled context")
	}
	if sh.count() != 1 {
		t.Fatalf("a canceled context must still allow the startup run; calls = %d", sh.count())
	}
}

func TestApplyConfigUpdatesCapture(t *testing.T) {
	t.Parallel()
	e := newEnv(t, 1, 0, "")
	a, err := New(e.cfg, WithLogger(logx.Nop()), WithShooter((&scriptedShooter{}).shoot))
	if err != nil {
		t.Fatal(err)
	}
	defer a.closeStore()

	oldCfg, _ := a.cfgm.Get()
	clone := *oldCfg
	newCfg := &clone
	newCfg.Login.Username = "bob"
	newCfg.Login.Settle = "1s"
	newCfg.Retries.MaxRetries = intPtr(9)

	if got := a.applyConfig(oldCfg, newCfg); got != newCfg {
		t.Fatal("applyConfig should return the new config")
	}
	s := a.capt.Settings()
	if s.Username != "bob" || s.Settle != time.Second {
		t.Fatalf("settings = %+v", s)
	}
	if a.policy.MaxAttempts != 1 {
		t.Fatal("retry policy must keep its startup value")
	}
}

func TestNotifierWiring(t *testing.T) {
	t.Parallel()
	e := newEnv(t, 1, 0, "notify:\n  telegram:\n    enabled: true\n    token: \"123:abc\"\n    chat_id: -100\n")
	a, err := New(e.cfg, WithLogger(logx.Nop()), WithNotifySender(nopSender{}))
	if err != nil {
		t.Fatal(err)
	}
	defer a.closeStore()
	if a.notif == nil {
		t.Fatal("notifier should be enabled")
	}

	e = newEnv(t, 1, 0, "")
	b, err := New(e.cfg, WithLogger(logx.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	defer b.closeStore()
	if b.notif != nil {
		t.Fatal("notifier should be disabled by default")
	}
}

func TestLastError(t *testing.T) {
	t.Parallel()
	cause := errors.New("boom")
	if got := lastError(&retry.ExhaustedError{Attempts: 2, Err: cause}); got != cause {
		t.Fatalf("lastError = %v", got)
	}
	if got := lastError(cause); got != cause {
		t.Fatalf("lastError passthrough = %v", got)
	}
}

func reopen(e env) (storage.Store, error) {
	return storage.Open(storage.Config{Driver: "file", Path: filepath.Join(e.dir, "data", "hist")}, logx.Nop())
}

type nopSender struct{}

func (nopSender) SendText(context.Context, notifier.Target, string) error { return nil }
func (nopSender) SendPhoto(context.Context, notifier.Target, string, string) error {
	return nil
}

func intPtr(v int) *int { return &v }
