// Package retry runs a fallible action a bounded number of times with a fixed
// pause between failed attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "portalshot/pkg/logx"
)

// Action is one unit of fallible work. It must release anything it acquires
// before returning, on every exit path.
type Action func(ctx context.Context) error

// Policy is immutable once built. MaxAttempts counts the first try.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

func NewPolicy(maxAttempts int, delay time.Duration) (Policy, error) {
	if maxAttempts < 1 {
		return Policy{}, fmt.Errorf("%w: max attempts must be >= 1, got %d", ErrInvalidPolicy, maxAttempts)
	}
	if delay < 0 {
		return Policy{}, fmt.Errorf("%w: delay must be >= 0, got %s", ErrInvalidPolicy, delay)
	}
	return Policy{MaxAttempts: maxAttempts, Delay: delay}, nil
}

// Outcome describes a single attempt. A nil Err means success.
type Outcome struct {
	Attempt int
	Err     error
}

func (o Outcome) OK() bool { return o.Err == nil }

// Sleeper pauses the calling goroutine. It is not interruptible.
type Sleeper func(d time.Duration)

// Observer is called once per attempt, after the action returns.
type Observer func(ctx context.Context, o Outcome)

type Option func(*Executor)

// WithSleeper replaces time.Sleep, mostly for tests.
func WithSleeper(s Sleeper) Option {
	return func(e *Executor) {
		if s != nil {
			e.sleep = s
		}
	}
}

// WithObserver registers a per-attempt hook (metrics, events).
func WithObserver(o Observer) Option {
	return func(e *Executor) { e.observe = o }
}

func WithLogger(log logx.Logger) Option {
	return func(e *Executor) { e.log = log }
}

// Executor applies a Policy to actions. It holds no state between calls.
type Executor struct {
	policy  Policy
	sleep   Sleeper
	observe Observer
	log     logx.Logger
}

func New(p Policy, opts ...Option) *Executor {
	e := &Executor{policy: p, sleep: time.Sleep}
	for _, o := range opts {
		o(e)
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	if e.policy.MaxAttempts < 1 {
		e.policy.MaxAttempts = 1
	}
	if e.policy.Delay < 0 {
		e.policy.Delay = 0
	}
	return e
}

// Do runs action until it succeeds or the policy is used up.
//
// It returns nil on the first success and an *ExhaustedError wrapping the last
// failure otherwise. The pause between attempts is always policy.Delay.
func (e *Executor) Do(ctx context.Context, action Action) error {
	var err error
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		err = e.invoke(ctx, action)
		if e.observe != nil {
			e.observe(ctx, Outcome{Attempt: attempt, Err: err})
		}
		if err == nil {
			e.log.Info("attempt succeeded", logx.Int("attempt", attempt), logx.Int("max_attempts", e.policy.MaxAttempts))
			return nil
		}
		e.log.Warn("attempt failed", logx.Int("attempt", attempt), logx.Int("max_attempts", e.policy.MaxAttempts), logx.Err(err))

		if IsPermanent(err) {
			return &ExhaustedError{Attempts: attempt, Err: err, Permanent: true}
		}
		if attempt == e.policy.MaxAttempts {
			break
		}
		e.log.Info("retrying", logx.Int("next_attempt", attempt+1), logx.Duration("delay", e.policy.Delay))
		e.sleep(e.policy.Delay)
	}
	e.log.Error("max retries reached", logx.Int("attempts", e.policy.MaxAttempts), logx.Err(err))
	return &ExhaustedError{Attempts: e.policy.MaxAttempts, Err: err}
}

// invoke converts a panicking action into an attempt error.
func (e *Executor) invoke(ctx context.Context, action Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("action panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if action == nil {
		return errors.New("nil action")
	}
	return action(ctx)
}
