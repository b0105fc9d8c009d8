// Package scheduler arms one shot callbacks at an offset from a baseline that
// is taken before the offset is known.
package scheduler

import (
	"errors"
	"runtime"
	"sync"
	"time"
)

var (
	ErrNotStarted = errors.New("scheduler not started")
	ErrStarted    = errors.New("scheduler already started")
	ErrFired      = errors.New("scheduler already fired")
)

type State int

const (
	Idle State = iota
	Armed
	Fired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Fired:
		return "fired"
	}
	return "unknown"
}

// spinSlice is the sleep granularity used while spinning towards the deadline.
const spinSlice = time.Millisecond

// Timer fires its callback once, at baseline+offset. The baseline is taken by
// Start, the offset is given (and may be replaced) by Submit.
//
// The callback runs on the timer goroutine and must not block. Waiters use Done.
type Timer struct {
	// Lead makes the underlying timer wake this much before the deadline; the
	// rest is spent spinning, which is far more precise than a runtime timer.
	Lead time.Duration

	fn func()

	mu         sync.Mutex
	state      State
	baseline   time.Time
	offset     time.Duration
	submitted  bool
	generation uint64
	timer      *time.Timer
	done       chan struct{}
	firedAt    time.Time
}

// New returns an idle timer. fn may be nil when only Done is of interest.
func New(fn func()) *Timer {
	return &Timer{fn: fn, done: make(chan struct{})}
}

// Start records the baseline and arms the timer.
func (t *Timer) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != Idle {
		return ErrStarted
	}
	t.state = Armed
	t.baseline = time.Now()
	t.submitted = false
	return nil
}

// Submit sets or replaces the fire offset, measured from the baseline. An
// offset already in the past fires immediately.
func (t *Timer) Submit(offset time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case Idle:
		return ErrNotStarted
	case Fired:
		return ErrFired
	}

	t.stopLocked()
	t.offset = offset
	t.submitted = true

	generation := t.generation
	wait := time.Until(t.baseline.Add(offset)) - t.Lead
	if wait < 0 {
		wait = 0
	}
	t.timer = time.AfterFunc(wait, func() {
		t.fire(generation)
	})
	return nil
}

// Reset cancels any pending fire and returns to Idle. It is safe in any state.
func (t *Timer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	if t.state != Idle {
		t.done = make(chan struct{})
	}
	t.state = Idle
	t.baseline = time.Time{}
	t.offset = 0
	t.submitted = false
	t.firedAt = time.Time{}
}

func (t *Timer) stopLocked() {
	t.generation++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Timer) fire(generation uint64) {
	t.mu.Lock()
	if generation != t.generation || t.state != Armed {
		t.mu.Unlock()
		return
	}
	deadline := t.baseline.Add(t.offset)
	t.mu.Unlock()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		if remaining > 2*spinSlice {
			time.Sleep(remaining - spinSlice)
		} else {
			runtime.Gosched()
		}
	}

	t.mu.Lock()
	// Resubmitted or reset while spinning.
	if generation != t.generation || t.state != Armed {
		t.mu.Unlock()
		return
	}
	t.state = Fired
	t.firedAt = time.Now()
	t.timer = nil
	done, fn := t.done, t.fn
	t.mu.Unlock()

	if fn != nil {
		fn()
	}
	close(done)
}

// Done is closed once the current arm cycle has fired.
func (t *Timer) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

func (t *Timer) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Submitted reports whether an offset is pending or has fired in this cycle.
func (t *Timer) Submitted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.submitted
}

func (t *Timer) Baseline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baseline
}

// Elapsed is the time since the baseline, zero when idle.
func (t *Timer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Idle {
		return 0
	}
	return time.Since(t.baseline)
}

// FiredAt is the instant the callback was released, zero until then.
func (t *Timer) FiredAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.firedAt
}
