package controller

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/lkarlslund/orasidsync/internal/capture"
	"github.com/lkarlslund/orasidsync/internal/config"
	"github.com/lkarlslund/orasidsync/internal/input"
	"github.com/lkarlslund/orasidsync/internal/search"
	"github.com/lkarlslund/orasidsync/internal/vision"
)

type recorder struct {
	lock sync.Mutex
	runs []input.Sequence
	err  error
}

func (r *recorder) Run(ctx context.Context, seq input.Sequence) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.runs = append(r.runs, seq)
	return r.err
}

func (r *recorder) Runs() []input.Sequence {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]input.Sequence(nil), r.runs...)
}

// script hands out samples in order, failed reads once exhausted.
type script struct {
	lock    sync.Mutex
	samples []vision.Sample
}

func ok(v uint16) vision.Sample { return vision.Sample{Value: v, OK: true} }

func (s *script) Read(capture.Source) (vision.Sample, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.samples) == 0 {
		return vision.Sample{}, nil
	}
	next := s.samples[0]
	s.samples = s.samples[1:]
	return next, nil
}

type table map[search.Counter]map[int]search.Pair

func (t table) Generator() search.Generator { return t }

func (t table) Pairs(c search.Counter, dst []search.Pair) {
	for i := range dst {
		p, ok := t[c][i]
		if !ok {
			p = search.Pair{Primary: 0xFFFF, Secondary: 0xFFFF}
		}
		dst[i] = p
	}
}

const start = search.Counter(0x10000000)

// scenario: samples 111 and 222 pin the counter to 0x10000000, and the target
// pair shows up 42 counters later after 42 discards.
func scenario() table {
	return table{
		start:          {0: {Primary: 111}},
		start.Add(2):   {5: {Primary: 222}},
		start.Add(42):  {42: {Primary: 354, Secondary: 28394}},
		start.Add(44):  {42: {Primary: 999}},
		start.Add(300): {0: {Primary: 354, Secondary: 28394}},
	}
}

func op(k input.Key) input.Sequence {
	return input.Sequence{{Keys: []input.Key{k}}}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Pivot = uint32(start) + 0x10
	cfg.Discovery = config.Discovery{Interval: 20 * time.Millisecond, Samples: 2, Attempts: 3, Radius: 64}
	cfg.Search = config.Search{Window: 500, MaxWait: 5 * time.Second, GapRadius: 8, Workers: 2}
	cfg.Timing = config.Timing{CounterRate: 10 * time.Millisecond, SafeMargin: 60 * time.Millisecond, Lead: 5 * time.Millisecond}
	cfg.Sequences = input.Sequences{
		Reset:           op(input.Home),
		SkipOpening1:    op(input.Start),
		SelectMale:      op(input.Up),
		DecideNameA:     op(input.A),
		DiscardName:     op(input.B),
		DecideNameFinal: op(input.X),
		ConfirmName:     op(input.Y),
		SkipOpening2:    op(input.L),
		ShowTrainerCard: op(input.R),
		Settle:          op(input.Select),
	}
	return cfg
}

func newController(cfg config.Config, seq input.Sequencer, samples ...vision.Sample) *Controller {
	return New(cfg, Deps{
		Input:  seq,
		Reader: &script{samples: samples},
		Model:  scenario(),
		Log:    zap.NewNop(),
	})
}

func discoveryRuns(s input.Sequences) []input.Sequence {
	return []input.Sequence{s.GetID(), s.Reset, s.GetID(), s.Reset, s.Settle}
}

func fireRuns(s input.Sequences, advance int) []input.Sequence {
	runs := []input.Sequence{s.Reset, s.SkipOpening1}
	for i := 0; i < advance; i++ {
		runs = append(runs, s.Discard())
	}
	return append(runs, s.Create())
}

func TestRunHitsTargetAfterExactDiscards(t *testing.T) {
	cfg := testConfig()
	rec := &recorder{}
	c := newController(cfg, rec, ok(111), ok(222), ok(354))

	begin := time.Now()
	res, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, start, res.Counter)
	assert.Equal(t, search.Plan{Target: 0x1000002A, Advance: 42}, res.Plan)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, Done, c.State())
	assert.GreaterOrEqual(t, time.Since(begin), 420*time.Millisecond)

	s := cfg.Sequences
	want := append(discoveryRuns(s), fireRuns(s, 42)...)
	assert.Equal(t, want, rec.Runs())
}

func TestMismatchRetriesWithNewPivot(t *testing.T) {
	cfg := testConfig()
	rec := &recorder{}
	c := newController(cfg, rec, ok(111), ok(222), ok(999), ok(111), ok(222), ok(354))

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rounds)

	s := cfg.Sequences
	var want []input.Sequence
	want = append(want, discoveryRuns(s)...)
	want = append(want, fireRuns(s, 42)...)
	want = append(want, s.Reset)
	want = append(want, discoveryRuns(s)...)
	want = append(want, fireRuns(s, 42)...)
	assert.Equal(t, want, rec.Runs())
}

func TestPostMortemPicksNearestGap(t *testing.T) {
	c := newController(testConfig(), &recorder{})
	plan := search.Plan{Target: start.Add(42), Advance: 42}

	assert.Equal(t, start.Add(44), c.postMortem(ok(999), plan))
	assert.Equal(t, plan.Target, c.postMortem(ok(4), plan))
	assert.Equal(t, plan.Target, c.postMortem(vision.Sample{}, plan))
}

func TestDebugFrameIsSaved(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "debug")
	src := capture.NewStatic(gocv.NewMatWithSize(20, 30, gocv.MatTypeCV8UC3))
	defer src.Close()

	c := New(testConfig(), Deps{Input: &recorder{}, Source: src, Reader: &script{}, Model: scenario(), DebugDir: dir})
	c.dumpFrame(search.Plan{Target: start.Add(42), Advance: 42})

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, files[0].Name(), "-1000002A.png")
}

// blind never recognizes anything.
type blind struct{}

func (blind) Recognize(gocv.Mat) (string, error) { return "", nil }

type unplugged struct{}

func (unplugged) CurrentFrame() (gocv.Mat, error) {
	return gocv.NewMat(), capture.ErrDisconnected
}

func TestUnreadableSetupEndsRun(t *testing.T) {
	cfg := testConfig()
	small := capture.NewStatic(gocv.NewMatWithSize(40, 40, gocv.MatTypeCV8UC3))
	defer small.Close()

	for _, tc := range []struct {
		name string
		src  capture.Source
		want error
	}{
		{"region outside picture", small, vision.ErrRegion},
		{"device gone", unplugged{}, capture.ErrDisconnected},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			c := New(cfg, Deps{
				Input:  rec,
				Source: tc.src,
				Reader: vision.NewReader(cfg.Region.Rectangle(), blind{}, t.TempDir(), nil),
				Model:  scenario(),
			})

			_, err := c.Run(context.Background())
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, []input.Sequence{cfg.Sequences.GetID()}, rec.Runs())
			assert.Equal(t, Discovering, c.State())
		})
	}
}

func TestNoPlanRetries(t *testing.T) {
	cfg := testConfig()
	model := scenario()
	delete(model, start.Add(42))
	delete(model, start.Add(300))

	rec := &recorder{}
	c := New(cfg, Deps{Input: rec, Reader: &script{samples: []vision.Sample{ok(111), ok(222), ok(111), ok(222)}}, Model: model})
	c.MaxRounds = 2

	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrGaveUp)
	assert.Equal(t, Retrying, c.State())

	s := cfg.Sequences
	want := append(discoveryRuns(s), s.Reset)
	want = append(want, discoveryRuns(s)...)
	assert.Equal(t, want, rec.Runs())
}

func TestDiscoveryOutlastingWaitWindow(t *testing.T) {
	cfg := testConfig()
	// Five counters of horizon, discovery alone takes longer.
	cfg.Search.MaxWait = 50 * time.Millisecond

	rec := &recorder{}
	c := newController(cfg, rec, ok(111), ok(222))
	c.MaxRounds = 1

	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrGaveUp)
	assert.Equal(t, discoveryRuns(cfg.Sequences), rec.Runs())
}

func TestFailedSampleRestartsDiscovery(t *testing.T) {
	cfg := testConfig()
	rec := &recorder{}
	c := newController(cfg, rec, vision.Sample{}, ok(111), ok(222), ok(354))

	res, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rounds)

	s := cfg.Sequences
	want := []input.Sequence{s.GetID(), s.Reset}
	want = append(want, discoveryRuns(s)...)
	want = append(want, fireRuns(s, 42)...)
	assert.Equal(t, want, rec.Runs())
}

func TestExhaustedDiscoveryGivesUp(t *testing.T) {
	cfg := testConfig()
	cfg.Discovery.Attempts = 2
	rec := &recorder{}
	c := newController(cfg, rec)
	c.MaxRounds = 1

	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrGaveUp)

	s := cfg.Sequences
	assert.Equal(t, []input.Sequence{s.GetID(), s.Reset, s.GetID(), s.Reset}, rec.Runs())
}

func TestUnknownSamplesAreSearchFailures(t *testing.T) {
	cfg := testConfig()
	cfg.Discovery.Attempts = 1
	c := newController(cfg, &recorder{}, ok(5), ok(6))
	c.MaxRounds = 1

	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrGaveUp)
}

func TestSequencerFailureIsFatal(t *testing.T) {
	rec := &recorder{err: errors.New("no answer")}
	c := newController(testConfig(), rec, ok(111), ok(222), ok(354))

	_, err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrActuation)
	assert.Len(t, rec.Runs(), 1)
}

func TestCancelWhileArmed(t *testing.T) {
	cfg := testConfig()
	cfg.Search.MaxWait = time.Minute
	model := scenario()
	delete(model, start.Add(42))
	model[start.Add(3000)] = map[int]search.Pair{0: {Primary: 354, Secondary: 28394}}
	delete(model, start.Add(300))

	c := New(cfg, Deps{Input: &recorder{}, Reader: &script{samples: []vision.Sample{ok(111), ok(222)}}, Model: model})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	_, err := c.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Armed, c.State())
}

func TestTransitionTables(t *testing.T) {
	next, err := DiscoveryTable.Next(Sampling, Complete)
	require.NoError(t, err)
	assert.Equal(t, Settling, next)

	_, err = DiscoveryTable.Next(Found, Sampled)
	assert.Error(t, err)

	_, err = DiscoveryTable.Next(Settling, Recovered)
	assert.Error(t, err)

	path := []struct {
		ev   Event
		want State
	}{
		{DiscoveryFailed, Discovering},
		{Discovered, Planning},
		{Planned, Armed},
		{Fired, Verifying},
		{Mismatched, Retrying},
		{ResetDone, Discovering},
		{Discovered, Planning},
		{NoPlan, Retrying},
		{ResetDone, Discovering},
		{DiscoveryExhausted, Retrying},
		{ResetDone, Discovering},
		{Discovered, Planning},
		{Planned, Armed},
		{Fired, Verifying},
		{Matched, Done},
	}
	state := Discovering
	for _, step := range path {
		state, err = SyncTable.Next(state, step.ev)
		require.NoError(t, err)
		assert.Equal(t, step.want, state)
	}

	_, err = SyncTable.Next(Done, Discovered)
	assert.Error(t, err)
	_, err = SyncTable.Next(Armed, Matched)
	assert.Error(t, err)
}
