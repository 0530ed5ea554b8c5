package notifier

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"portalshot/internal/eventbus"
	logx "portalshot/pkg/logx"
)

const sendTimeout = 30 * time.Second

type Option func(*Service)

// WithSender replaces the telebot sender, mostly for tests.
func WithSender(s Sender) Option {
	return func(svc *Service) {
		if s != nil {
			svc.sender = s
		}
	}
}

// Service consumes run events and forwards the interesting ones.
type Service struct {
	cfg     Config
	log     logx.Logger
	sender  Sender
	limiter *rate.Limiter
}

// New returns ErrDisabled when cfg is not enabled so callers can skip wiring.
func New(cfg Config, log logx.Logger, opts ...Option) (*Service, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	s := &Service{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "notifier")),
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	for _, o := range opts {
		o(s)
	}
	if s.sender == nil {
		ts, err := newTelegramSender(cfg.Token)
		if err != nil {
			return nil, err
		}
		s.sender = ts
	}
	return s, nil
}

// Run handles events until ctx is done or the channel is closed.
func (s *Service) Run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s.Handle(ctx, e)
		}
	}
}

// Handle processes one event. Send failures are logged and swallowed.
func (s *Service) Handle(ctx context.Context, e eventbus.Event) {
	re, ok := e.Data.(eventbus.RunEvent)
	if !ok {
		return
	}
	to := Target{ChatID: s.cfg.ChatID, ThreadID: s.cfg.ThreadID}

	switch e.Type {
	case eventbus.RunExhausted:
		if !s.allow(e.Type) {
			return
		}
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		if err := s.sender.SendText(sctx, to, exhaustedText(re)); err != nil {
			s.log.Warn("alert send failed", logx.String("run_id", re.RunID), logx.Err(err))
			return
		}
		s.log.Debug("alert sent", logx.String("run_id", re.RunID))

	case eventbus.RunSucceeded:
		if !s.cfg.SendScreenshot || re.File == "" {
			return
		}
		if !s.allow(e.Type) {
			return
		}
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()
		if err := s.sender.SendPhoto(sctx, to, re.File, successCaption(re)); err != nil {
			s.log.Warn("screenshot upload failed", logx.String("run_id", re.RunID), logx.String("file", re.File), logx.Err(err))
			return
		}
		s.log.Debug("screenshot uploaded", logx.String("run_id", re.RunID))
	}
}

func (s *Service) allow(kind string) bool {
	if s.limiter.Allow() {
		return true
	}
	s.log.Debug("notification dropped by rate limit", logx.String("event", kind))
	return false
}

func exhaustedText(re eventbus.RunEvent) string {
	// A permanent error stops the loop before MaxAttempts.
	made := re.Attempt
	if made <= 0 {
		made = re.MaxAttempts
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Screenshot run failed after %d of %d attempt(s)", made, re.MaxAttempts)
	if re.Trigger != "" {
		fmt.Fprintf(&b, " (%s)", re.Trigger)
	}
	b.WriteString("\n")
	if re.Error != "" {
		fmt.Fprintf(&b, "Last error: %s\n", re.Error)
	}
	fmt.Fprintf(&b, "Run: %s", re.RunID)
	return b.String()
}

func successCaption(re eventbus.RunEvent) string {
	return fmt.Sprintf("%s (%s, attempt %d/%d)", filepath.Base(re.File), re.Trigger, re.Attempt, re.MaxAttempts)
}
