package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"portalshot/internal/eventbus"
	"portalshot/internal/retry"
	"portalshot/internal/storage"
	logx "portalshot/pkg/logx"
)

const historyTimeout = 10 * time.Second

// runOnce is one Run: the capture action under the retry policy, reported on
// the bus and recorded in the history. Exhaustion is returned for the caller
// to log; it is never fatal.
func (a *App) runOnce(ctx context.Context, trigger string) error {
	id := uuid.NewString()
	log := a.log.With(logx.String("run_id", id), logx.String("trigger", trigger))
	started := a.clock.Now()
	maxAttempts := a.policy.MaxAttempts

	base := eventbus.RunEvent{RunID: id, Trigger: trigger, MaxAttempts: maxAttempts, Started: started}
	a.publish(eventbus.RunStarted, base)
	if trigger == TriggerSched {
		a.logDiagnostics("run diagnostics")
	}

	var last retry.Outcome
	ex := retry.New(a.policy,
		retry.WithSleeper(a.clock.Sleep),
		retry.WithLogger(log),
		retry.WithObserver(func(_ context.Context, o retry.Outcome) {
			last = o
			if o.OK() {
				return
			}
			ev := base
			ev.Attempt = o.Attempt
			ev.Error = o.Err.Error()
			a.publish(eventbus.RunAttemptFailed, ev)
		}),
	)

	err := ex.Do(ctx, a.capt.Action())
	took := a.clock.Now().Sub(started)

	rec := storage.RunRecord{
		ID:         id,
		Trigger:    trigger,
		Started:    started,
		DurationMS: took.Milliseconds(),
		Attempts:   last.Attempt,
		OK:         err == nil,
	}
	ev := base
	ev.Attempt = last.Attempt
	ev.Duration = took

	if err == nil {
		rec.File = a.capt.LastFile()
		ev.File = rec.File
		a.publish(eventbus.RunSucceeded, ev)
		log.Info("run succeeded", logx.Int("attempt", last.Attempt), logx.String("file", rec.File), logx.Duration("took", took))
	} else {
		rec.Error = lastError(err).Error()
		ev.Error = rec.Error
		a.publish(eventbus.RunExhausted, ev)
		log.Error("retries exhausted", logx.Int("attempts", last.Attempt), logx.Err(err))
	}

	a.record(rec, log)
	return err
}

func (a *App) publish(typ string, ev eventbus.RunEvent) {
	a.bus.Publish(eventbus.Event{Type: typ, Time: a.clock.Now(), Data: ev})
}

func (a *App) record(rec storage.RunRecord, log logx.Logger) {
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := a.store.AppendRun(ctx, rec); err != nil {
		log.Warn("run history append failed", logx.Err(err))
	}
}

// lastError strips the exhaustion wrapper so history and alerts show the
// action's own message.
func lastError(err error) error {
	var ex *retry.ExhaustedError
	if errors.As(err, &ex) && ex.Err != nil {
		return ex.Err
	}
	return err
}
