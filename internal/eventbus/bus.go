package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published for every run of the capture action.
const (
	RunStarted       = "run.started"
	RunAttemptFailed = "run.attempt_failed"
	RunSucceeded     = "run.succeeded"
	RunExhausted     = "run.exhausted"
)

// Event is an in-memory signal between the orchestration loop and observers.
//
// Publish never blocks, subscribers get buffered channels, and a slow
// subscriber loses events instead of stalling the loop.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// RunEvent is the Data of every run.* event.
type RunEvent struct {
	RunID       string        `json:"run_id"`
	Trigger     string        `json:"trigger"`
	Attempt     int           `json:"attempt,omitempty"`
	MaxAttempts int           `json:"max_attempts"`
	Started     time.Time     `json:"started"`
	Duration    time.Duration `json:"duration,omitempty"`
	File        string        `json:"file,omitempty"`
	Error       string        `json:"error,omitempty"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Hold the read lock while sending: unsubscribe takes the write lock
	// before closing, so no send can hit a closed channel.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
