package flow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/events"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
)

type call struct {
	kind   string
	target string
}

// fakeDriver records dispatched calls; tests play the driver's replies.
type fakeDriver struct {
	calls chan call
}

func newFakeDriver() *fakeDriver { return &fakeDriver{calls: make(chan call, 64)} }

func (f *fakeDriver) Generate(_ context.Context, _ *Session, t string) { f.calls <- call{doGenerate, t} }
func (f *fakeDriver) Execute(_ context.Context, _ *Session, t string)  { f.calls <- call{doExecute, t} }
func (f *fakeDriver) Fix(_ context.Context, _ *Session, t string)      { f.calls <- call{doFix, t} }

func (f *fakeDriver) next(t *testing.T) call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no driver call")
		return call{}
	}
}

func (f *fakeDriver) none(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected driver call %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("session did not finish")
	}
}

func eventTypes(ch <-chan events.Event) []string {
	var out []string
	for {
		select {
		case ev := <-ch:
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}

func start(t *testing.T, targets []string, opts ...Option) (*Orchestrator, *Session, *fakeDriver) {
	t.Helper()
	d := newFakeDriver()
	o := New(d, opts...)
	s, err := o.Start(context.Background(), targets)
	require.NoError(t, err)
	return o, s, d
}

func TestSession_AllPass(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("test")
	_, s, d := start(t, []string{"a.ts", "b.ts"}, WithEvents(bus))
	assert.Equal(t, StateRunning, s.State())
	assert.Equal(t, 2, s.Pending())

	got := []string{d.next(t).target, d.next(t).target}
	sort.Strings(got)
	assert.Equal(t, []string{"a.ts", "b.ts"}, got)

	s.TestGenerated("a.ts")
	assert.Equal(t, call{doExecute, "a.ts"}, d.next(t))
	s.TestGenerated("b.ts")
	assert.Equal(t, call{doExecute, "b.ts"}, d.next(t))

	s.TestExecutionCompleted("a.ts", models.ExecutionSuccess)
	assert.Equal(t, StateRunning, s.State())
	s.TestExecutionCompleted("b.ts", models.ExecutionSuccess)
	waitDone(t, s)

	assert.Equal(t, StateCompleted, s.State())
	assert.Equal(t, 0, s.Pending())
	sum := s.Summary()
	for _, ts := range sum.Targets {
		assert.Equal(t, OutcomePassed, ts.Outcome)
	}
	assert.Equal(t, []string{events.FlowStarted, events.FlowCompleted}, eventTypes(ch))
	d.none(t)
}

func TestSession_FixLoop(t *testing.T) {
	_, s, d := start(t, []string{"a.ts"})
	d.next(t)
	s.TestGenerated("a.ts")
	d.next(t)

	s.TestExecutionCompleted("a.ts", models.ExecutionError)
	assert.Equal(t, call{doFix, "a.ts"}, d.next(t))
	assert.Equal(t, 1, s.Pending())

	s.TestFixed("a.ts")
	assert.Equal(t, call{doExecute, "a.ts"}, d.next(t))
	assert.Equal(t, 1, s.Pending())

	s.TestExecutionCompleted("a.ts", models.ExecutionSuccess)
	waitDone(t, s)
	assert.Equal(t, StateCompleted, s.State())
	assert.Equal(t, 1, s.Summary().Targets[0].Fixes)
}

func TestSession_MaxFixAttempts(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("test")
	_, s, d := start(t, []string{"a.ts"}, WithEvents(bus), WithMaxFixAttempts(1))
	d.next(t)
	s.TestGenerated("a.ts")
	d.next(t)

	s.TestExecutionCompleted("a.ts", models.ExecutionError)
	assert.Equal(t, call{doFix, "a.ts"}, d.next(t))
	s.TestFixed("a.ts")
	d.next(t)

	s.TestExecutionCompleted("a.ts", models.ExecutionError)
	waitDone(t, s)
	d.none(t)

	ts := s.Summary().Targets[0]
	assert.Equal(t, OutcomeFailed, ts.Outcome)
	assert.Equal(t, models.ExecutionError, ts.LastStatus)
	assert.Contains(t, eventTypes(ch), events.FlowTargetFailed)
}

func TestSession_UnboundedFixes(t *testing.T) {
	_, s, d := start(t, []string{"a.ts"}, WithMaxFixAttempts(0))
	d.next(t)
	s.TestGenerated("a.ts")
	d.next(t)
	for i := 0; i < DefaultMaxFixAttempts+2; i++ {
		s.TestExecutionCompleted("a.ts", models.ExecutionError)
		require.Equal(t, call{doFix, "a.ts"}, d.next(t))
		s.TestFixed("a.ts")
		require.Equal(t, call{doExecute, "a.ts"}, d.next(t))
	}
	s.TestExecutionCompleted("a.ts", models.ExecutionSuccess)
	waitDone(t, s)
	assert.Equal(t, DefaultMaxFixAttempts+2, s.Summary().Targets[0].Fixes)
}

func TestSession_PauseQueuesFailure(t *testing.T) {
	_, s, d := start(t, []string{"a.ts"})
	d.next(t)
	s.TestGenerated("a.ts")
	d.next(t)

	require.True(t, s.Pause())
	assert.False(t, s.Pause())
	assert.Equal(t, StatePaused, s.State())

	s.TestExecutionCompleted("a.ts", models.ExecutionError)
	d.none(t)
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, []string{"a.ts"}, s.Queued())
	select {
	case <-s.Done():
		t.Fatal("paused session completed")
	default:
	}

	require.True(t, s.Resume())
	assert.Equal(t, call{doFix, "a.ts"}, d.next(t))
	assert.Empty(t, s.Queued())
	assert.Equal(t, 1, s.Pending())

	s.TestFixed("a.ts")
	d.next(t)
	s.TestExecutionCompleted("a.ts", models.ExecutionSuccess)
	waitDone(t, s)
	assert.Equal(t, StateCompleted, s.State())
}

func TestSession_PauseQueuesGeneratedAndFixed(t *testing.T) {
	_, s, d := start(t, []string{"a.ts", "b.ts"})
	d.next(t)
	d.next(t)

	s.TestGenerated("b.ts")
	d.next(t)
	s.TestExecutionCompleted("b.ts", models.ExecutionError)
	d.next(t) // fix b

	require.True(t, s.Pause())
	s.TestGenerated("a.ts")
	s.TestFixed("b.ts")
	d.none(t)
	assert.Equal(t, []string{"a.ts", "b.ts"}, s.Queued())
	assert.Equal(t, 2, s.Pending())

	require.True(t, s.Resume())
	got := []call{d.next(t), d.next(t)}
	assert.ElementsMatch(t, []call{{doExecute, "a.ts"}, {doExecute, "b.ts"}}, got)

	s.TestExecutionCompleted("a.ts", models.ExecutionSuccess)
	s.TestExecutionCompleted("b.ts", models.ExecutionSuccess)
	waitDone(t, s)
}

func TestSession_ResumeAfterEverythingQueuedSucceeded(t *testing.T) {
	_, s, d := start(t, []string{"a.ts"})
	d.next(t)
	s.TestGenerated("a.ts")
	d.next(t)
	require.True(t, s.Pause())
	s.TestExecutionCompleted("a.ts", models.ExecutionSuccess)
	assert.Equal(t, StatePaused, s.State())

	require.True(t, s.Resume())
	waitDone(t, s)
	assert.Equal(t, StateCompleted, s.State())
}

func TestSession_Cancel(t *testing.T) {
	bus := events.NewBus()
	ch := bus.Subscribe("test")
	o, s, d := start(t, []string{"a.ts"}, WithEvents(bus))
	d.next(t)

	require.True(t, s.Cancel())
	waitDone(t, s)
	assert.Equal(t, StateCancelled, s.State())
	assert.Error(t, s.Context().Err())
	assert.False(t, s.Cancel())
	assert.False(t, s.Resume())

	s.TestGenerated("a.ts")
	d.none(t)

	_, ok := o.Session(s.ID)
	assert.False(t, ok)
	assert.Equal(t, []string{events.FlowStarted, events.FlowCancelled}, eventTypes(ch))
}

func TestSession_TargetFailed(t *testing.T) {
	_, s, d := start(t, []string{"a.ts", "b.ts"})
	d.next(t)
	d.next(t)

	s.TargetFailed("a.ts", errors.New("gateway down"))
	s.TargetFailed("a.ts", errors.New("again"))
	assert.Equal(t, 1, s.Pending())

	s.TestGenerated("b.ts")
	d.next(t)
	s.TestExecutionCompleted("b.ts", models.ExecutionSuccess)
	waitDone(t, s)

	sum := s.Summary()
	assert.Equal(t, OutcomeFailed, sum.Targets[0].Outcome)
	assert.Equal(t, OutcomePassed, sum.Targets[1].Outcome)
}

func TestSession_IgnoresUnknownTargets(t *testing.T) {
	_, s, d := start(t, []string{"a.ts"})
	d.next(t)

	s.TestGenerated("other.ts")
	s.TestExecutionCompleted("other.ts", models.ExecutionError)
	s.TestFixed("other.ts")
	d.none(t)
	assert.Equal(t, 1, s.Pending())
}

func TestOrchestrator_Start(t *testing.T) {
	o := New(newFakeDriver())
	_, err := o.Start(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoTargets)

	s, err := o.Start(context.Background(), []string{"a.ts", "a.ts", ""})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Pending())
	assert.Len(t, s.Summary().Targets, 1)

	got, ok := o.Session(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Len(t, o.Sessions(), 1)
}

func TestSession_OutlivesStartContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	o := New(newFakeDriver())
	s, err := o.Start(ctx, []string{"a.ts"})
	require.NoError(t, err)
	cancel()
	assert.NoError(t, s.Context().Err())
	s.Cancel()
}

// gateDriver blocks every Generate until release is closed and records the
// peak number of calls in flight.
type gateDriver struct {
	mu       sync.Mutex
	inflight int
	peak     int
	started  chan string
	release  chan struct{}
}

func (g *gateDriver) Generate(ctx context.Context, s *Session, t string) {
	g.mu.Lock()
	g.inflight++
	if g.inflight > g.peak {
		g.peak = g.inflight
	}
	g.mu.Unlock()
	g.started <- t

	select {
	case <-g.release:
	case <-ctx.Done():
	}
	g.mu.Lock()
	g.inflight--
	g.mu.Unlock()
	s.TargetFailed(t, errors.New("stop"))
}

func (g *gateDriver) Execute(context.Context, *Session, string) {}
func (g *gateDriver) Fix(context.Context, *Session, string)     {}

func TestSession_ConcurrencyCapsDriverCalls(t *testing.T) {
	g := &gateDriver{started: make(chan string, 8), release: make(chan struct{})}
	o := New(g, WithConcurrency(2))
	s, err := o.Start(context.Background(), []string{"a.ts", "b.ts", "c.ts", "d.ts", "e.ts"})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-g.started:
		case <-time.After(2 * time.Second):
			t.Fatal("generate not started")
		}
	}
	select {
	case tgt := <-g.started:
		t.Fatalf("third generate %s started while two were in flight", tgt)
	case <-time.After(50 * time.Millisecond):
	}

	close(g.release)
	waitDone(t, s)
	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Equal(t, 2, g.peak)
	assert.Equal(t, StateCompleted, s.State())
}

func TestSession_UnboundedConcurrencyByDefault(t *testing.T) {
	g := &gateDriver{started: make(chan string, 8), release: make(chan struct{})}
	s, err := New(g).Start(context.Background(), []string{"a.ts", "b.ts", "c.ts"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		select {
		case <-g.started:
		case <-time.After(2 * time.Second):
			t.Fatal("generate not started")
		}
	}
	close(g.release)
	waitDone(t, s)
	g.mu.Lock()
	defer g.mu.Unlock()
	assert.Equal(t, 3, g.peak)
}
