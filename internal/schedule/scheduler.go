package schedule

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "portalshot/pkg/logx"
)

// Job is invoked synchronously by the poll loop.
type Job func(ctx context.Context) error

// JobHandle identifies a registered job.
type JobHandle struct {
	ID   int
	Name string
}

// JobInfo is a point-in-time view of a job, for logs and diagnostics.
type JobInfo struct {
	ID      int
	Name    string
	At      TimeOfDay
	Next    time.Time
	Prev    time.Time
	Fired   int
	LastErr string
}

// ErrorHook receives errors that reached the job boundary.
type ErrorHook func(job JobInfo, err error)

type Option func(*Scheduler)

func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLocation sets the zone in which times of day are interpreted.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

func WithErrorHook(h ErrorHook) Option {
	return func(s *Scheduler) { s.onErr = h }
}

type scheduledJob struct {
	id      int
	name    string
	at      TimeOfDay
	sched   cron.Schedule
	job     Job
	next    time.Time
	prev    time.Time
	fired   int
	lastErr error
}

func (j *scheduledJob) info() JobInfo {
	it := JobInfo{ID: j.id, Name: j.name, At: j.at, Next: j.next, Prev: j.prev, Fired: j.fired}
	if j.lastErr != nil {
		it.LastErr = j.lastErr.Error()
	}
	return it
}

// Scheduler fires daily jobs from a cooperative poll loop.
//
// It is not safe for concurrent use: registration, RunPending and RunForever
// are expected to run on one goroutine.
type Scheduler struct {
	clock Clock
	loc   *time.Location
	log   logx.Logger
	onErr ErrorHook

	jobs []*scheduledJob
	seq  int
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{clock: RealClock, loc: time.Local}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Scheduler) Location() *time.Location { return s.loc }

// ScheduleDaily registers job to fire every day at the given time of day.
// The first firing is the next matching instant after now; a time that has
// already passed today first fires tomorrow.
func (s *Scheduler) ScheduleDaily(name string, at TimeOfDay, job Job) (JobHandle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return JobHandle{}, errors.New("name required")
	}
	if job == nil {
		return JobHandle{}, errors.New("job required")
	}
	sched, err := at.schedule()
	if err != nil {
		return JobHandle{}, err
	}
	s.seq++
	j := &scheduledJob{
		id:    s.seq,
		name:  name,
		at:    at,
		sched: sched,
		job:   job,
	}
	j.next = at.next(sched, s.clock.Now(), s.loc)
	s.jobs = append(s.jobs, j)

	s.log.Info("job scheduled",
		logx.String("job", name),
		logx.String("at", at.String()),
		logx.String("tz", s.loc.String()),
		logx.Time("next", j.next),
	)
	return JobHandle{ID: j.id, Name: name}, nil
}

// RunPending fires every job whose next time has been reached, in
// registration order, and reports how many fired.
func (s *Scheduler) RunPending(ctx context.Context) int {
	fired := 0
	for _, j := range s.jobs {
		if j.next.After(s.clock.Now()) {
			continue
		}
		s.fire(ctx, j)
		fired++
	}
	return fired
}

func (s *Scheduler) fire(ctx context.Context, j *scheduledJob) {
	due := j.next
	start := s.clock.Now()
	s.log.Info("job firing", logx.String("job", j.name), logx.Time("due", due), logx.Duration("late", start.Sub(due)))

	err := s.invoke(ctx, j)

	end := s.clock.Now()
	j.prev = due
	j.fired++
	j.lastErr = err
	// Search from the later of the finish time and the end of the due day.
	// A run that ends past midnight still gets the new day's occurrence, and
	// a fall-back hour that repeats the wall-clock time cannot fire it twice.
	from := end
	if eod := endOfDay(due, s.loc); from.Before(eod) {
		from = eod
	}
	j.next = j.at.next(j.sched, from, s.loc)

	if err != nil {
		s.log.Error("job failed", logx.String("job", j.name), logx.Err(err), logx.Duration("took", end.Sub(start)), logx.Time("next", j.next))
		if s.onErr != nil {
			s.onErr(j.info(), err)
		}
		return
	}
	s.log.Info("job finished", logx.String("job", j.name), logx.Duration("took", end.Sub(start)), logx.Time("next", j.next))
}

// invoke is the isolation boundary: neither an error nor a panic from the job
// leaves it.
func (s *Scheduler) invoke(ctx context.Context, j *scheduledJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", logx.String("job", j.name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.job(ctx)
}

// RunForever ticks until shouldStop reports true. Each iteration runs the
// due jobs, sleeps for poll, then consults shouldStop, so a running job or
// sleep always completes before the loop exits.
func (s *Scheduler) RunForever(ctx context.Context, poll time.Duration, shouldStop func() bool) {
	if poll <= 0 {
		poll = time.Second
	}
	if shouldStop == nil {
		shouldStop = func() bool { return false }
	}
	s.log.Info("scheduler running", logx.Duration("poll", poll), logx.Int("jobs", len(s.jobs)), logx.String("tz", s.Location().String()))
	for {
		s.RunPending(ctx)
		s.clock.Sleep(poll)
		if shouldStop() {
			s.log.Info("scheduler stopped")
			return
		}
	}
}

// Snapshot returns the registered jobs in registration order.
func (s *Scheduler) Snapshot() []JobInfo {
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.info())
	}
	return out
}
