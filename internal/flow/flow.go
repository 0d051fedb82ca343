// Package flow drives the generate, execute and correct loop for a batch of
// target files, with pause, resume and a bounded number of corrections.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/events"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
)

// DefaultMaxFixAttempts bounds corrections per target. Zero means unbounded.
const DefaultMaxFixAttempts = 5

// State is the lifecycle state of a session.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Driver performs the side effects of a session. Each method runs on its own
// goroutine and reports back through the session's event methods.
type Driver interface {
	Generate(ctx context.Context, s *Session, target string)
	Execute(ctx context.Context, s *Session, target string)
	Fix(ctx context.Context, s *Session, target string)
}

// ErrNoTargets is returned by Start for an empty batch.
var ErrNoTargets = errors.New("no targets")

// Orchestrator creates sessions and keeps the live ones.
type Orchestrator struct {
	driver   Driver
	bus      *events.Bus
	maxFixes int
	slots    *semaphore.Weighted
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEvents publishes flow events on bus.
func WithEvents(bus *events.Bus) Option { return func(o *Orchestrator) { o.bus = bus } }

// WithMaxFixAttempts sets the per-target correction bound; 0 is unbounded.
func WithMaxFixAttempts(n int) Option { return func(o *Orchestrator) { o.maxFixes = n } }

// WithConcurrency caps the driver calls in flight across all sessions. Zero
// or less leaves them unbounded.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		o.slots = nil
		if n > 0 {
			o.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// New creates an Orchestrator.
func New(driver Driver, opts ...Option) *Orchestrator {
	o := &Orchestrator{driver: driver, maxFixes: DefaultMaxFixAttempts, sessions: make(map[string]*Session)}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.maxFixes < 0 {
		o.maxFixes = 0
	}
	return o
}

// Start opens a session for targets and dispatches generation for each.
// Duplicate targets are collapsed.
func (o *Orchestrator) Start(ctx context.Context, targets []string) (*Session, error) {
	var uniq []string
	seen := make(map[string]bool)
	for _, t := range targets {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		uniq = append(uniq, t)
	}
	if len(uniq) == 0 {
		return nil, ErrNoTargets
	}

	s := newSession(ctx, o, uniq)
	o.mu.Lock()
	o.sessions[s.ID] = s
	o.mu.Unlock()

	s.start()
	return s, nil
}

// Session returns a live session by ID.
func (o *Orchestrator) Session(id string) (*Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.sessions[id]
	return s, ok
}

// Sessions returns the live sessions ordered by ID.
func (o *Orchestrator) Sessions() []*Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (o *Orchestrator) forget(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sessions, id)
}

// action is a driver call decided under the session lock and made after it.
type action struct {
	kind   string
	target string
}

const (
	doGenerate = "generate"
	doExecute  = "execute"
	doFix      = "fix"
)

// targetState tracks one target through the loop.
type targetState struct {
	path       string
	lastStatus models.ExecutionStatus
	fixes      int
	outcome    string // "", "passed" or "failed"
	queued     string // action waiting for resume
}

// Outcomes recorded per target.
const (
	OutcomePassed = "passed"
	OutcomeFailed = "failed"
)

// Session is one auto-flow invocation. Its event methods are safe for
// concurrent use and are applied one at a time.
type Session struct {
	ID string

	orch   *Orchestrator
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   State
	order   []string
	targets map[string]*targetState
	pending int
	paused  bool
	queue   []string
}

func newSession(parent context.Context, o *Orchestrator, targets []string) *Session {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	s := &Session{
		ID:      ulid.Make().String(),
		orch:    o,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   StateIdle,
		order:   targets,
		targets: make(map[string]*targetState, len(targets)),
	}
	for _, t := range targets {
		s.targets[t] = &targetState{path: t}
	}
	return s
}

func (s *Session) start() {
	s.mu.Lock()
	s.state = StateRunning
	s.pending = len(s.order)
	acts := make([]action, 0, len(s.order))
	for _, t := range s.order {
		acts = append(acts, action{doGenerate, t})
	}
	s.mu.Unlock()

	s.emit(events.FlowStarted, "", map[string]any{"targets": s.order, "maxFixAttempts": s.orch.maxFixes})
	s.dispatch(acts)
}

// active reports whether target is still in play. Callers hold s.mu.
func (s *Session) active(target string) (*targetState, bool) {
	if s.state != StateRunning && s.state != StatePaused {
		return nil, false
	}
	t, ok := s.targets[target]
	if !ok || t.outcome != "" {
		return nil, false
	}
	return t, true
}

// TestGenerated triggers the first execution of target, or queues it while
// paused.
func (s *Session) TestGenerated(target string) {
	s.mu.Lock()
	t, ok := s.active(target)
	if !ok {
		s.mu.Unlock()
		return
	}
	var acts []action
	if s.paused {
		s.enqueue(t, doExecute)
	} else {
		acts = append(acts, action{doExecute, target})
	}
	s.mu.Unlock()
	s.dispatch(acts)
}

// TestExecutionCompleted applies an execution outcome. A failure starts a
// correction unless paused (queued) or out of attempts (target failed).
func (s *Session) TestExecutionCompleted(target string, status models.ExecutionStatus) {
	s.mu.Lock()
	t, ok := s.active(target)
	if !ok {
		s.mu.Unlock()
		return
	}
	t.lastStatus = status

	var acts []action
	var failed, passed bool
	switch status {
	case models.ExecutionSuccess:
		t.outcome = OutcomePassed
		passed = true
	case models.ExecutionError:
		switch {
		case s.paused:
			s.enqueue(t, doFix)
		case s.exhausted(t):
			t.outcome = OutcomeFailed
			failed = true
		default:
			t.fixes++
			s.pending++
			acts = append(acts, action{doFix, target})
		}
	}
	s.pending--
	fixes := t.fixes
	s.mu.Unlock()

	if passed {
		s.orch.logger.Info("target passed", "session", s.ID, "target", target, "fixes", fixes)
	}
	if failed {
		s.emit(events.FlowTargetFailed, target, map[string]any{"target": target, "reason": "max fix attempts reached", "fixes": fixes})
	}
	s.dispatch(acts)
	s.checkComplete()
}

// TestFixed re-executes a corrected target, or queues it while paused.
func (s *Session) TestFixed(target string) {
	s.mu.Lock()
	t, ok := s.active(target)
	if !ok {
		s.mu.Unlock()
		return
	}
	// The finished correction hands its pending slot to the re-execution.
	var acts []action
	if s.paused {
		s.enqueue(t, doExecute)
	} else {
		acts = append(acts, action{doExecute, target})
	}
	s.mu.Unlock()
	s.dispatch(acts)
}

// TargetFailed ends target after a generation, write, fix or interrupted
// execution failure. Its outstanding operation is counted down.
func (s *Session) TargetFailed(target string, err error) {
	s.mu.Lock()
	t, ok := s.active(target)
	if !ok {
		s.mu.Unlock()
		return
	}
	t.outcome = OutcomeFailed
	s.pending--
	s.mu.Unlock()

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.orch.logger.Warn("target failed", "session", s.ID, "target", target, "error", msg)
	s.emit(events.FlowTargetFailed, target, map[string]any{"target": target, "reason": msg})
	s.checkComplete()
}

// Pause withholds new corrections and executions. Running processes finish
// and their results are queued.
func (s *Session) Pause() bool {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return false
	}
	s.paused = true
	s.state = StatePaused
	s.mu.Unlock()
	s.emit(events.FlowPaused, "", nil)
	return true
}

// Resume drains the queue in arrival order, acting on each target's last
// known status.
func (s *Session) Resume() bool {
	s.mu.Lock()
	if s.state != StatePaused {
		s.mu.Unlock()
		return false
	}
	s.paused = false
	s.state = StateRunning

	var acts []action
	var failed []string
	for _, target := range s.queue {
		t := s.targets[target]
		kind := t.queued
		t.queued = ""
		if t.outcome != "" {
			continue
		}
		switch kind {
		case doFix:
			if s.exhausted(t) {
				t.outcome = OutcomeFailed
				failed = append(failed, target)
				continue
			}
			t.fixes++
			s.pending++
			acts = append(acts, action{doFix, target})
		case doExecute:
			acts = append(acts, action{doExecute, target})
		}
	}
	s.queue = nil
	s.mu.Unlock()

	s.emit(events.FlowResumed, "", map[string]any{"drained": len(acts) + len(failed)})
	for _, target := range failed {
		s.emit(events.FlowTargetFailed, target, map[string]any{"target": target, "reason": "max fix attempts reached"})
	}
	s.dispatch(acts)
	s.checkComplete()
	return true
}

// Cancel stops the session and cancels in-flight driver calls.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if s.state != StateRunning && s.state != StatePaused {
		s.mu.Unlock()
		return false
	}
	s.state = StateCancelled
	s.queue = nil
	s.mu.Unlock()

	s.cancel()
	s.terminate()
	s.emit(events.FlowCancelled, "", s.Summary())
	return true
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the number of outstanding operations.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Queued returns the targets waiting for resume.
func (s *Session) Queued() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.queue...)
}

// Done is closed when the session completes or is cancelled, before the
// flow-completed or flow-cancelled event is published.
func (s *Session) Done() <-chan struct{} { return s.done }

// Context is cancelled when the session ends.
func (s *Session) Context() context.Context { return s.ctx }

// TargetSummary is the per-target view in Summary.
type TargetSummary struct {
	Path       string                 `json:"path"`
	Outcome    string                 `json:"outcome,omitempty"`
	LastStatus models.ExecutionStatus `json:"lastStatus,omitempty"`
	Fixes      int                    `json:"fixes"`
}

// Summary describes a session.
type Summary struct {
	ID      string          `json:"id"`
	State   State           `json:"state"`
	Pending int             `json:"pending"`
	Queued  []string        `json:"queued,omitempty"`
	Targets []TargetSummary `json:"targets"`
}

// Summary returns a snapshot of the session.
func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{ID: s.ID, State: s.state, Pending: s.pending, Queued: append([]string{}, s.queue...)}
	for _, path := range s.order {
		t := s.targets[path]
		sum.Targets = append(sum.Targets, TargetSummary{Path: path, Outcome: t.outcome, LastStatus: t.lastStatus, Fixes: t.fixes})
	}
	return sum
}

func (s *Session) exhausted(t *targetState) bool {
	return s.orch.maxFixes > 0 && t.fixes >= s.orch.maxFixes
}

func (s *Session) enqueue(t *targetState, kind string) {
	if t.queued == "" {
		s.queue = append(s.queue, t.path)
	}
	t.queued = kind
}

// checkComplete moves a running session with nothing outstanding to
// Completed.
func (s *Session) checkComplete() {
	s.mu.Lock()
	if s.state != StateRunning || s.pending > 0 || s.paused || len(s.queue) > 0 {
		s.mu.Unlock()
		return
	}
	s.state = StateCompleted
	s.mu.Unlock()

	s.cancel()
	s.terminate()
	s.emit(events.FlowCompleted, "", s.Summary())
}

func (s *Session) terminate() {
	close(s.done)
	s.orch.forget(s.ID)
}

func (s *Session) dispatch(acts []action) {
	for _, a := range acts {
		go s.call(a)
	}
}

// call waits for a driver slot and makes one driver call. A session that
// ends while waiting drops the call.
func (s *Session) call(a action) {
	if slots := s.orch.slots; slots != nil {
		if err := slots.Acquire(s.ctx, 1); err != nil {
			return
		}
		defer slots.Release(1)
	}
	d := s.orch.driver
	switch a.kind {
	case doGenerate:
		d.Generate(s.ctx, s, a.target)
	case doExecute:
		d.Execute(s.ctx, s, a.target)
	case doFix:
		d.Fix(s.ctx, s, a.target)
	}
}

func (s *Session) emit(eventType, key string, data any) {
	s.orch.bus.Publish(events.Event{Type: eventType, Key: key, SessionID: s.ID, Data: data})
}

func (s *Session) String() string {
	return fmt.Sprintf("session %s (%s)", s.ID, s.State())
}
