package search

import (
	"context"
	"errors"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var (
	ErrNoSamples = errors.New("no identifier samples")
	ErrWindow    = errors.New("search window must be positive")
	ErrNoMatch   = errors.New("no matching counter in search range")
)

const chunkSize = 4096

// Candidate is a counter consistent with every sample. Gaps holds, per sample,
// the advance at which the sampled identifier appeared.
type Candidate struct {
	Counter Counter
	Gaps    []int
}

// Plan is the first counter at or after the starting counter producing the
// target pair, and how many advances must be consumed there to reach it.
type Plan struct {
	Target  Counter
	Advance int
}

// RecoverOptions bounds RecoverCounter.
type RecoverOptions struct {
	// Window is the number of advances searched per sample.
	Window int
	// Spacing is the counter distance between consecutive samples.
	Spacing uint32
	// From and Span select the counters tried. Span 0 means the whole space.
	From Counter
	Span uint64
	// Workers defaults to GOMAXPROCS.
	Workers int
}

// PlanOptions bounds PlanAdvance.
type PlanOptions struct {
	Window int
	// MaxWait is the furthest counter distance considered.
	MaxWait uint32
	Workers int
}

// sweep walks span counters from `from` in chunks, one parallel batch at a time.
// scan reports a hit for its chunk; the sweep stops after the batch holding the
// first hit, so every earlier chunk has been fully scanned.
func sweep(ctx context.Context, from Counter, span uint64, workers int, scan func(start Counter, n uint64) bool) error {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	for offset := uint64(0); offset < span; {
		g, gctx := errgroup.WithContext(ctx)
		var hit atomic.Bool
		for w := 0; w < workers && offset < span; w++ {
			start, n := from.Add(uint32(offset)), min(chunkSize, span-offset)
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				if scan(start, n) {
					hit.Store(true)
				}
				return nil
			})
			offset += n
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if hit.Load() {
			return nil
		}
	}
	return ctx.Err()
}

// RecoverCounter finds every counter c in the configured range such that
// sample i is the primary identifier of c + i*Spacing at some advance below
// Window.
func RecoverCounter(ctx context.Context, model Model, samples []uint16, opts RecoverOptions) ([]Candidate, error) {
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	if opts.Window <= 0 {
		return nil, ErrWindow
	}
	span := opts.Span
	if span == 0 || span > 1<<32 {
		span = 1 << 32
	}

	var lock sync.Mutex
	var found []Candidate

	err := sweep(ctx, opts.From, span, opts.Workers, func(start Counter, n uint64) bool {
		gen := model.Generator()
		buf := make([]Pair, opts.Window)
		gaps := make([]int, len(samples))
		for i := uint64(0); i < n; i++ {
			c := start.Add(uint32(i))
			if !match(gen, buf, gaps, c, samples, opts.Spacing) {
				continue
			}
			lock.Lock()
			found = append(found, Candidate{Counter: c, Gaps: append([]int(nil), gaps...)})
			lock.Unlock()
		}
		// Keep sweeping, every consistent counter is wanted.
		return false
	})
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, ErrNoMatch
	}
	sort.Slice(found, func(i, j int) bool {
		return Distance(opts.From, found[i].Counter) < Distance(opts.From, found[j].Counter)
	})
	return found, nil
}

// match fills gaps with where each sample shows up after c. The scratch
// buffers belong to the caller.
func match(gen Generator, buf []Pair, gaps []int, c Counter, samples []uint16, spacing uint32) bool {
	for i, id := range samples {
		gen.Pairs(c.Add(uint32(i)*spacing), buf)
		gaps[i] = -1
		for k, p := range buf {
			if p.Primary == id {
				gaps[i] = k
				break
			}
		}
		if gaps[i] < 0 {
			return false
		}
	}
	return true
}

// Closest picks the candidate nearest to pivot, in either direction. Ties go to
// the earlier candidate.
func Closest(candidates []Candidate, pivot Counter) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if absDistance(c.Counter, pivot) < absDistance(best.Counter, pivot) {
			best = c
		}
	}
	return best, true
}

// PlanAdvance finds the smallest wait d <= MaxWait and, at from+d, the smallest
// advance k < Window whose pair equals target.
func PlanAdvance(ctx context.Context, model Model, from Counter, target Pair, opts PlanOptions) (Plan, error) {
	if opts.Window <= 0 {
		return Plan{}, ErrWindow
	}

	var lock sync.Mutex
	var plans []Plan

	err := sweep(ctx, from, uint64(opts.MaxWait)+1, opts.Workers, func(start Counter, n uint64) bool {
		gen := model.Generator()
		buf := make([]Pair, opts.Window)
		for i := uint64(0); i < n; i++ {
			c := start.Add(uint32(i))
			gen.Pairs(c, buf)
			for k, p := range buf {
				if p == target {
					lock.Lock()
					plans = append(plans, Plan{Target: c, Advance: k})
					lock.Unlock()
					return true
				}
			}
		}
		return false
	})
	if err != nil {
		return Plan{}, err
	}
	if len(plans) == 0 {
		return Plan{}, ErrNoMatch
	}
	best := plans[0]
	for _, p := range plans[1:] {
		if Distance(from, p.Target) < Distance(from, best.Target) {
			best = p
		}
	}
	return best, nil
}

// Gap is one row of the post mortem table: a counter near the planned one
// that would have shown the observed identifier, and its offset from the plan.
type Gap struct {
	Counter Counter
	Gap     int64
}

// Gaps lists the counters within radius of target that produce observed as
// primary identifier at the given advance.
func Gaps(model Model, observed uint16, target Counter, advance int, radius uint32) []Gap {
	if advance < 0 {
		return nil
	}
	gen := model.Generator()
	buf := make([]Pair, advance+1)

	var gaps []Gap
	start := target - Counter(radius)
	for i := uint64(0); i <= 2*uint64(radius); i++ {
		c := start.Add(uint32(i))
		gen.Pairs(c, buf)
		if buf[advance].Primary == observed {
			gaps = append(gaps, Gap{Counter: c, Gap: Offset(target, c)})
		}
	}
	return gaps
}
