// Package input describes console button sequences and the sequencers that
// press them.
package input

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Key is one console button.
type Key string

const (
	A      Key = "A"
	B      Key = "B"
	X      Key = "X"
	Y      Key = "Y"
	L      Key = "L"
	R      Key = "R"
	Start  Key = "START"
	Select Key = "SELECT"
	Up     Key = "UP"
	Down   Key = "DOWN"
	Left   Key = "LEFT"
	Right  Key = "RIGHT"
	Home   Key = "HOME"
)

// Operation presses Keys together for Hold, releases them, then waits Gap.
// An operation without keys is a plain wait.
type Operation struct {
	Keys []Key         `yaml:"keys"`
	Hold time.Duration `yaml:"hold"`
	Gap  time.Duration `yaml:"gap"`
}

func (o Operation) Duration() time.Duration {
	return o.Hold + o.Gap
}

func (o Operation) String() string {
	keys := make([]string, len(o.Keys))
	for i, k := range o.Keys {
		keys[i] = string(k)
	}
	return fmt.Sprintf("[%s] %v/%v", strings.Join(keys, "+"), o.Hold, o.Gap)
}

type Sequence []Operation

func (s Sequence) Duration() time.Duration {
	var d time.Duration
	for _, o := range s {
		d += o.Duration()
	}
	return d
}

// Concat joins sequences into a new one.
func Concat(parts ...Sequence) Sequence {
	var out Sequence
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Repeat returns s n times over.
func Repeat(s Sequence, n int) Sequence {
	out := make(Sequence, 0, len(s)*max(n, 0))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return out
}

// Sequencer presses a sequence and returns once it has completed. An error
// means the hardware stopped answering.
type Sequencer interface {
	Run(ctx context.Context, seq Sequence) error
}

// Serial funnels every Run through one lock so two goroutines can never drive
// the hardware at once.
type Serial struct {
	next Sequencer
	lock sync.Mutex
}

func NewSerial(next Sequencer) *Serial {
	return &Serial{next: next}
}

func (s *Serial) Run(ctx context.Context, seq Sequence) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.next.Run(ctx, seq)
}

// Logged writes every sequence to the log before running it.
type Logged struct {
	Name string
	Next Sequencer
	Log  *zap.Logger
}

func (l Logged) Run(ctx context.Context, seq Sequence) error {
	start := time.Now()
	err := l.Next.Run(ctx, seq)
	l.Log.Debug("Sequence ran",
		zap.String("sequencer", l.Name),
		zap.Int("operations", len(seq)),
		zap.Duration("nominal", seq.Duration()),
		zap.Duration("took", time.Since(start)),
		zap.Error(err))
	return err
}

// DryRun keeps the timing of a sequence without touching any hardware.
type DryRun struct{}

func (DryRun) Run(ctx context.Context, seq Sequence) error {
	for _, o := range seq {
		if err := Sleep(ctx, o.Duration()); err != nil {
			return err
		}
	}
	return nil
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
