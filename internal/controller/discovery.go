package controller

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lkarlslund/orasidsync/internal/search"
)

// ErrMeasurement marks a discovery attempt lost to an unreadable identifier.
var ErrMeasurement = errors.New("failed to get ID")

// discovery is one attempt at recovering the counter: sample the identifier
// every interval, settle, then search for the counter the samples came from.
type discovery struct {
	c     *Controller
	pivot search.Counter

	state   State
	samples []uint16
	started time.Time
}

func (d *discovery) run(ctx context.Context) (search.Candidate, error) {
	cfg := d.c.cfg
	log := d.c.log

	d.state = Sampling
	d.started = time.Now()
	ticker := time.NewTicker(cfg.Discovery.Interval)
	defer ticker.Stop()

	var found search.Candidate
	var failure error
	for {
		var ev Event
		switch d.state {
		case Sampling:
			if len(d.samples) > 0 {
				select {
				case <-ctx.Done():
					return found, ctx.Err()
				case <-ticker.C:
				}
			}

			log.Info("Sampling ID", zap.Int("sample", len(d.samples)+1), zap.Duration("elapsed", time.Since(d.started)))
			sample, err := d.c.readID(ctx, cfg.Sequences.GetID())
			if err != nil {
				return found, err
			}
			if err := d.c.press(ctx, cfg.Sequences.Reset); err != nil {
				return found, err
			}

			switch {
			case !sample.OK:
				ev = SampleFailed
				failure = ErrMeasurement
			case len(d.samples)+1 >= cfg.Discovery.Samples:
				d.samples = append(d.samples, sample.Value)
				ev = Complete
			default:
				d.samples = append(d.samples, sample.Value)
				ev = Sampled
			}
			log.Info("TID", zap.Stringer("sample", sample))

		case Settling:
			if err := d.c.press(ctx, cfg.Sequences.Settle); err != nil {
				return found, err
			}
			ev = Settled

		case Recovering:
			radius := cfg.Discovery.Radius
			candidates, err := search.RecoverCounter(ctx, d.c.model, d.samples, search.RecoverOptions{
				Window:  cfg.Search.Window,
				Spacing: cfg.Spacing(),
				From:    d.pivot - search.Counter(radius),
				Span:    2 * uint64(radius),
				Workers: cfg.Search.Workers,
			})
			if ctx.Err() != nil {
				return found, ctx.Err()
			}
			if err != nil {
				log.Warn("No counter matches the samples", zap.Uint16s("samples", d.samples), zap.Error(err))
				ev = NoCandidate
				failure = err
				break
			}
			found, _ = search.Closest(candidates, d.pivot)
			log.Info("Counter recovered",
				zap.Stringer("counter", found.Counter),
				zap.Ints("gaps", found.Gaps),
				zap.Int("candidates", len(candidates)),
				zap.Uint16s("samples", d.samples))
			ev = Recovered

		case Found:
			return found, nil

		case Failed:
			return found, failure
		}

		next, err := DiscoveryTable.Next(d.state, ev)
		if err != nil {
			return found, err
		}
		d.state = next
	}
}
