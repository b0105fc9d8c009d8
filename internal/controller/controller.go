// Package controller runs the closed loop that lands the console's counter on
// the target identifiers when the save is created.
package controller

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/lkarlslund/orasidsync/internal/capture"
	"github.com/lkarlslund/orasidsync/internal/config"
	"github.com/lkarlslund/orasidsync/internal/input"
	"github.com/lkarlslund/orasidsync/internal/scheduler"
	"github.com/lkarlslund/orasidsync/internal/search"
	"github.com/lkarlslund/orasidsync/internal/vision"
)

var (
	// ErrActuation means the sequencer stopped answering. It ends the run.
	ErrActuation = errors.New("sequencer failed")
	// ErrGaveUp is returned once MaxRounds rounds have missed.
	ErrGaveUp = errors.New("target not reached within the allowed rounds")
)

// Reader reads the identifier currently shown by src. A failed read is a
// sample with OK false; an error means reading can never succeed and ends the
// run.
type Reader interface {
	Read(src capture.Source) (vision.Sample, error)
}

// Indicator reports which sector of the loading ring is lit.
type Indicator interface {
	Classify(frame gocv.Mat) (int, []float64, error)
}

type Deps struct {
	Input  input.Sequencer
	Source capture.Source
	Reader Reader
	Model  search.Model
	// Indicator is optional; when set the ring position is logged at fire time.
	Indicator Indicator
	Log       *zap.Logger
	// DebugDir, when set, receives the frame read after every save creation.
	DebugDir string
}

// Result describes the round that hit the target.
type Result struct {
	Counter search.Counter
	Plan    search.Plan
	Sample  vision.Sample
	Rounds  int
}

type Controller struct {
	cfg    config.Config
	input  input.Sequencer
	source capture.Source
	reader Reader
	model  search.Model
	ring   Indicator
	log    *zap.Logger
	debug  string

	// main fires the save creation, safe sends the console home shortly
	// before so no submenu is open when main fires.
	main *scheduler.Timer
	safe *scheduler.Timer

	// MaxRounds caps how many times the outer loop may start over, 0 runs
	// until the target is hit.
	MaxRounds int

	state State
}

func New(cfg config.Config, deps Deps) *Controller {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	c := &Controller{
		cfg:    cfg,
		input:  input.NewSerial(deps.Input),
		source: deps.Source,
		reader: deps.Reader,
		model:  deps.Model,
		ring:   deps.Indicator,
		log:    log,
		debug:  deps.DebugDir,
		main:   scheduler.New(nil),
		safe:   scheduler.New(nil),
		state:  Discovering,
	}
	c.main.Lead = cfg.Timing.Lead
	return c
}

// State is the current state of the outer loop.
func (c *Controller) State() State {
	return c.state
}

func (c *Controller) press(ctx context.Context, seq input.Sequence) error {
	if err := c.input.Run(ctx, seq); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrActuation, err)
	}
	return nil
}

// readID runs seq to bring the trainer card up and reads it.
func (c *Controller) readID(ctx context.Context, seq input.Sequence) (vision.Sample, error) {
	if err := c.press(ctx, seq); err != nil {
		return vision.Sample{}, err
	}
	return c.reader.Read(c.source)
}

func (c *Controller) waitDuration(from, to search.Counter) time.Duration {
	return time.Duration(search.Distance(from, to)) * c.cfg.Timing.CounterRate
}

// Run loops until the created save shows the target identifier, the context
// ends, the sequencer fails or MaxRounds rounds have missed.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	defer c.main.Reset()
	defer c.safe.Reset()

	target := search.Pair{Primary: c.cfg.Target.TID, Secondary: c.cfg.Target.SID}
	pivot := search.Counter(c.cfg.Pivot)

	var (
		result   Result
		counter  search.Counter
		plan     search.Plan
		attempts int
		misses   int
	)

	c.state = Discovering
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var ev Event
		switch c.state {
		case Discovering:
			c.main.Reset()
			c.safe.Reset()
			if err := c.main.Start(); err != nil {
				return result, err
			}
			if err := c.safe.Start(); err != nil {
				return result, err
			}

			d := &discovery{c: c, pivot: pivot}
			found, err := d.run(ctx)
			switch {
			case err == nil:
				attempts = 0
				counter = found.Counter
				ev = Discovered
			case errors.Is(err, ErrMeasurement) || errors.Is(err, search.ErrNoMatch):
				attempts++
				c.log.Warn("Discovery failed", zap.Int("attempt", attempts), zap.Error(err))
				ev = DiscoveryFailed
				if attempts >= c.cfg.Discovery.Attempts {
					attempts = 0
					ev = DiscoveryExhausted
				}
			default:
				return result, err
			}

		case Planning:
			var err error
			plan, err = c.plan(ctx, counter, target)
			switch {
			case err == nil:
				ev = Planned
			case errors.Is(err, search.ErrNoMatch):
				c.log.Warn("No advance plan", zap.Stringer("counter", counter), zap.Stringer("target", target), zap.Error(err))
				ev = NoPlan
			default:
				return result, err
			}

		case Armed:
			if err := c.arm(ctx, counter, plan); err != nil {
				return result, err
			}
			ev = Fired

		case Verifying:
			sample, err := c.fire(ctx, plan)
			if err != nil {
				return result, err
			}
			result = Result{Counter: counter, Plan: plan, Sample: sample, Rounds: result.Rounds + 1}

			if sample.OK && sample.Value == target.Primary {
				c.log.Info("Target reached", zap.Stringer("counter", plan.Target), zap.Uint16("tid", sample.Value), zap.Int("rounds", result.Rounds))
				ev = Matched
				break
			}
			pivot = c.postMortem(sample, plan)
			ev = Mismatched

		case Retrying:
			misses++
			if c.MaxRounds > 0 && misses >= c.MaxRounds {
				return result, ErrGaveUp
			}
			if err := c.press(ctx, c.cfg.Sequences.Reset); err != nil {
				return result, err
			}
			ev = ResetDone

		case Done:
			return result, nil
		}

		next, err := SyncTable.Next(c.state, ev)
		if err != nil {
			return result, err
		}
		c.state = next
	}
}

// plan searches from the first counter that still leaves room for the
// safe margin, and converts the answer into a fire offset.
func (c *Controller) plan(ctx context.Context, counter search.Counter, target search.Pair) (search.Plan, error) {
	rate := c.cfg.Timing.CounterRate
	skip := uint32((c.main.Elapsed() + c.cfg.Timing.SafeMargin + rate - 1) / rate)
	horizon := c.cfg.MaxWaitCounters()
	if skip >= horizon {
		return search.Plan{}, fmt.Errorf("%w: discovery used up the whole wait window", search.ErrNoMatch)
	}

	start := time.Now()
	plan, err := search.PlanAdvance(ctx, c.model, counter.Add(skip), target, search.PlanOptions{
		Window:  c.cfg.Search.Window,
		MaxWait: horizon - skip,
		Workers: c.cfg.Search.Workers,
	})
	if err != nil {
		return plan, err
	}

	wait := c.waitDuration(counter, plan.Target)
	c.log.Info("Next",
		zap.Stringer("counter", plan.Target),
		zap.Time("eta", c.main.Baseline().Add(wait)),
		zap.Duration("wait", wait),
		zap.Int("advance", plan.Advance),
		zap.Duration("search", time.Since(start)))
	return plan, nil
}

// arm submits both timers and blocks until the main one fires, sending the
// console home when the safe one goes off first.
func (c *Controller) arm(ctx context.Context, counter search.Counter, plan search.Plan) error {
	wait := c.waitDuration(counter, plan.Target)
	if err := c.main.Submit(wait); err != nil {
		return err
	}
	if err := c.safe.Submit(wait - c.cfg.Timing.SafeMargin); err != nil {
		return err
	}

	safe := c.safe.Done()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-safe:
			c.log.Info("Back to home", zap.Duration("elapsed", c.safe.Elapsed()))
			if err := c.press(ctx, c.cfg.Sequences.Reset); err != nil {
				return err
			}
			safe = nil
		case <-c.main.Done():
			c.log.Info("Start",
				zap.Duration("target", wait),
				zap.Duration("elapsed", c.main.FiredAt().Sub(c.main.Baseline())))
			return nil
		}
	}
}

// fire launches the game, burns plan.Advance advances and creates the save.
func (c *Controller) fire(ctx context.Context, plan search.Plan) (vision.Sample, error) {
	seqs := c.cfg.Sequences
	if err := c.press(ctx, seqs.SkipOpening1); err != nil {
		return vision.Sample{}, err
	}
	c.logRing()

	discard := seqs.Discard()
	for i := 0; i < plan.Advance; i++ {
		if err := c.press(ctx, discard); err != nil {
			return vision.Sample{}, err
		}
	}

	sample, err := c.readID(ctx, seqs.Create())
	if err != nil {
		return sample, err
	}
	c.log.Info("TID", zap.Stringer("sample", sample))
	c.dumpFrame(plan)
	return sample, nil
}

func (c *Controller) dumpFrame(plan search.Plan) {
	if c.debug == "" || c.source == nil {
		return
	}
	err := capture.WithFrame(c.source, func(frame gocv.Mat) error {
		if err := os.MkdirAll(c.debug, 0o755); err != nil {
			return err
		}
		name := filepath.Join(c.debug, fmt.Sprintf("%s-%s.png", time.Now().Format("20060102150405"), plan.Target))
		if !gocv.IMWrite(name, frame) {
			return fmt.Errorf("could not write %s", name)
		}
		c.log.Debug("Frame saved", zap.String("file", name))
		return nil
	})
	if err != nil {
		c.log.Warn("Could not save debug frame", zap.Error(err))
	}
}

func (c *Controller) logRing() {
	if c.ring == nil || c.source == nil {
		return
	}
	err := capture.WithFrame(c.source, func(frame gocv.Mat) error {
		bucket, _, err := c.ring.Classify(frame)
		if err != nil {
			return err
		}
		c.log.Debug("Loading ring", zap.Int("position", bucket))
		return nil
	})
	if err != nil {
		c.log.Debug("Loading ring not readable", zap.Error(err))
	}
}

// postMortem logs the counters that would have produced what was seen, and
// returns the pivot to use for the next discovery.
func (c *Controller) postMortem(sample vision.Sample, plan search.Plan) search.Counter {
	if !sample.OK {
		c.log.Warn("Cannot get TID", zap.Stringer("planned", plan.Target))
		return plan.Target
	}

	gaps := search.Gaps(c.model, sample.Value, plan.Target, plan.Advance, c.cfg.Search.GapRadius)
	c.log.Warn("Missed target",
		zap.Uint16("tid", sample.Value),
		zap.Uint16("want", c.cfg.Target.TID),
		zap.Stringer("planned", plan.Target),
		zap.Int("advance", plan.Advance),
		zap.Int("candidates", len(gaps)))

	pivot := plan.Target
	var best int64 = -1
	for _, g := range gaps {
		c.log.Info("Gap", zap.Stringer("counter", g.Counter), zap.Int64("gap", g.Gap))
		abs := g.Gap
		if abs < 0 {
			abs = -abs
		}
		if best < 0 || abs < best {
			best, pivot = abs, g.Counter
		}
	}
	return pivot
}
