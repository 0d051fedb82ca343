// Package runner executes test-framework CLIs as child processes, streams
// their output and keeps at most one live process per execution key.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/iagogaldino/auto-teste-angular-sub000/internal/events"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/models"
	"github.com/iagogaldino/auto-teste-angular-sub000/internal/project"
)

// AllKey is the execution key of suite-wide runs.
const AllKey = "all"

// DefaultTimeout applies when neither the request nor the config sets one.
const DefaultTimeout = 2 * time.Minute

// killGrace is how long a terminated process group gets before SIGKILL.
const killGrace = 5 * time.Second

// testEnv marks the child as running under test.
var testEnv = []string{"NODE_ENV=test", "CI=true"}

// Config describes how the test CLI is invoked. An empty Command is resolved
// per project from its package.json.
type Config struct {
	Command   string
	FileArgs  []string
	SuiteArgs []string
	Manifest  string
	Timeout   time.Duration
}

// OneRequest runs a single spec file.
type OneRequest struct {
	ProjectPath  string
	TestFilePath string
	Timeout      time.Duration
}

// AllRequest runs the whole suite.
type AllRequest struct {
	ProjectPath string
	Timeout     time.Duration
}

// Recorder persists finished execution records.
type Recorder interface {
	RecordExecution(ctx context.Context, rec *models.ExecutionRecord) error
}

// OutputChunk is the payload of output events.
type OutputChunk struct {
	Key    string `json:"key"`
	Stream string `json:"stream"`
	Data   string `json:"data"`
}

// ErrorInfo is the payload of error events.
type ErrorInfo struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
	Output string `json:"output,omitempty"`
}

// Runner owns the process registry shared by every caller.
type Runner struct {
	cfg      Config
	bus      *events.Bus
	recorder Recorder
	logger   *slog.Logger

	mu      sync.Mutex
	active  map[string]*execution
	records map[string]*models.ExecutionRecord
}

// Option configures a Runner.
type Option func(*Runner)

// WithEvents publishes execution events on bus.
func WithEvents(bus *events.Bus) Option { return func(r *Runner) { r.bus = bus } }

// WithRecorder persists every finished record.
func WithRecorder(rec Recorder) Option { return func(r *Runner) { r.recorder = rec } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// New creates a Runner.
func New(cfg Config, opts ...Option) *Runner {
	r := &Runner{
		cfg:     cfg,
		active:  make(map[string]*execution),
		records: make(map[string]*models.ExecutionRecord),
	}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Events returns the bus execution events are published on.
func (r *Runner) Events() *events.Bus { return r.bus }

// Key returns the execution key of a test file path.
func Key(testFilePath string) string {
	if abs, err := filepath.Abs(testFilePath); err == nil {
		return abs
	}
	return filepath.Clean(testFilePath)
}

// ExecuteOne runs one spec file. A missing manifest is returned as an error;
// everything that happens after that is reported in the result.
func (r *Runner) ExecuteOne(ctx context.Context, req OneRequest) (*models.ExecutionResult, error) {
	if req.TestFilePath == "" {
		return nil, errors.New("test file path is required")
	}
	start := req.ProjectPath
	if start == "" {
		start = req.TestFilePath
	}
	root, err := project.FindRoot(start, r.cfg.Manifest)
	if err != nil {
		return nil, err
	}
	key := Key(req.TestFilePath)
	target := key
	if rel, err := filepath.Rel(root, key); err == nil && !strings.HasPrefix(rel, "..") {
		target = rel
	}

	command, fileArgs, _ := r.command(root)
	args := append(append([]string{}, fileArgs...), target)
	return r.run(ctx, key, root, command, args, r.timeout(req.Timeout), false), nil
}

// ExecuteAll runs the whole suite under AllKey.
func (r *Runner) ExecuteAll(ctx context.Context, req AllRequest) (*models.ExecutionResult, error) {
	if req.ProjectPath == "" {
		return nil, errors.New("project path is required")
	}
	root, err := project.FindRoot(req.ProjectPath, r.cfg.Manifest)
	if err != nil {
		return nil, err
	}
	command, _, suiteArgs := r.command(root)
	return r.run(ctx, AllKey, root, command, append([]string{}, suiteArgs...), r.timeout(req.Timeout), true), nil
}

func (r *Runner) command(root string) (string, []string, []string) {
	if r.cfg.Command != "" {
		return r.cfg.Command, r.cfg.FileArgs, r.cfg.SuiteArgs
	}
	return project.CommandFor(project.DetectFramework(root))
}

func (r *Runner) timeout(t time.Duration) time.Duration {
	switch {
	case t > 0:
		return t
	case r.cfg.Timeout > 0:
		return r.cfg.Timeout
	default:
		return DefaultTimeout
	}
}

// eventNames picks the single-file or suite-wide event names.
type eventNames struct{ output, completed, failed string }

func namesFor(suite bool) eventNames {
	if suite {
		return eventNames{events.AllTestsOutput, events.AllTestsCompleted, events.AllTestsError}
	}
	return eventNames{events.ExecutionOutput, events.ExecutionCompleted, events.ExecutionError}
}

func (r *Runner) run(ctx context.Context, key, root, command string, args []string, timeout time.Duration, suite bool) *models.ExecutionResult {
	names := namesFor(suite)
	buf := &outputBuffer{}
	cmd := exec.Command(command, args...)
	cmd.Dir = root
	cmd.Env = append(os.Environ(), testEnv...)
	cmd.Stdout = &streamWriter{buf: buf, stream: "stdout", emit: r.emitter(key, names.output)}
	cmd.Stderr = &streamWriter{buf: buf, stream: "stderr", emit: r.emitter(key, names.output)}
	cmd.WaitDelay = killGrace
	setProcAttrs(cmd)

	ex := &execution{id: ulid.Make().String(), key: key, cmd: cmd, done: make(chan struct{})}
	started := time.Now()
	rec := &models.ExecutionRecord{ID: ex.id, Key: key, Status: models.ExecutionRunning, StartTime: started}

	// Replacement and registration happen in one critical section so two
	// callers racing on the same key cannot both end up live.
	r.mu.Lock()
	if prev, ok := r.active[key]; ok {
		prev.terminate(models.ReasonReplaced)
	}
	startErr := cmd.Start()
	if startErr == nil {
		r.active[key] = ex
	}
	r.records[key] = rec
	r.mu.Unlock()

	if startErr != nil {
		return r.spawnFailed(key, ex.id, started, names, startErr)
	}

	r.logger.Debug("test process started", "key", key, "pid", cmd.Process.Pid, "command", command, "args", args)
	if !suite {
		r.bus.Emit(events.ExecutionStarted, key, map[string]any{"key": key, "id": ex.id, "command": command, "args": args})
	}

	timer := time.AfterFunc(timeout, func() { ex.terminate(models.ReasonTimeout) })
	stop := context.AfterFunc(ctx, func() { ex.terminate(models.ReasonCancelled) })

	waitErr := cmd.Wait()
	timer.Stop()
	stop()
	close(ex.done)

	result := &models.ExecutionResult{
		Key:      key,
		Output:   buf.String(),
		ExitCode: cmd.ProcessState.ExitCode(),
		Duration: time.Since(started),
		Reason:   ex.reason(),
	}
	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		result.Error = waitErr.Error()
	}
	switch result.Reason {
	case models.ReasonTimeout:
		result.TimedOut = true
		result.Error = fmt.Sprintf("timed out after %s", timeout)
	case models.ReasonReplaced:
		result.Error = "replaced by a newer execution"
	case models.ReasonCancelled:
		result.Error = "cancelled"
	default:
		result.Success = waitErr == nil && result.ExitCode == 0
	}

	final := r.finish(ex, rec, result)
	if result.Reason != "" {
		r.bus.Emit(names.failed, key, ErrorInfo{Key: key, Reason: result.Reason, Error: result.Error, Output: result.Output})
	} else {
		r.bus.Emit(names.completed, key, result)
	}
	r.record(final)

	r.logger.Debug("test process finished", "key", key, "success", result.Success, "exit_code", result.ExitCode,
		"reason", result.Reason, "elapsed", result.Duration)
	return result
}

// finish updates the record and clears the registry entry, unless a newer
// execution has already taken the key over.
func (r *Runner) finish(ex *execution, rec *models.ExecutionRecord, res *models.ExecutionResult) *models.ExecutionRecord {
	now := time.Now()
	code := res.ExitCode

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.active[ex.key]; ok && cur == ex {
		delete(r.active, ex.key)
	}
	rec.Status = res.Status()
	rec.Output = res.Output
	rec.Reason = res.Reason
	rec.EndTime = &now
	rec.ExitCode = &code
	snapshot := *rec
	return &snapshot
}

func (r *Runner) spawnFailed(key, id string, started time.Time, names eventNames, err error) *models.ExecutionResult {
	now := time.Now()
	r.mu.Lock()
	rec := r.records[key]
	if rec != nil && rec.ID == id {
		rec.Status = models.ExecutionError
		rec.Reason = models.ReasonSpawn
		rec.Output = err.Error()
		rec.EndTime = &now
	}
	var snapshot *models.ExecutionRecord
	if rec != nil {
		cp := *rec
		snapshot = &cp
	}
	r.mu.Unlock()

	r.logger.Warn("test process failed to start", "key", key, "error", err)
	result := &models.ExecutionResult{
		Key:      key,
		ExitCode: -1,
		Error:    err.Error(),
		Reason:   models.ReasonSpawn,
		Duration: time.Since(started),
	}
	r.bus.Emit(names.failed, key, ErrorInfo{Key: key, Reason: models.ReasonSpawn, Error: err.Error()})
	if snapshot != nil {
		r.record(snapshot)
	}
	return result
}

func (r *Runner) record(rec *models.ExecutionRecord) {
	if r.recorder == nil || rec == nil {
		return
	}
	if err := r.recorder.RecordExecution(context.Background(), rec); err != nil {
		r.logger.Warn("record execution", "key", rec.Key, "error", err)
	}
}

func (r *Runner) emitter(key, eventType string) func(stream, data string) {
	return func(stream, data string) {
		r.bus.Emit(eventType, key, OutputChunk{Key: key, Stream: stream, Data: data})
	}
}

// Cancel terminates the live process under key and reports whether there
// was one.
func (r *Runner) Cancel(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	ex, ok := r.active[key]
	if !ok {
		return false
	}
	ex.terminate(models.ReasonCancelled)
	return true
}

// CancelAll terminates every live process.
func (r *Runner) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ex := range r.active {
		ex.terminate(models.ReasonCancelled)
	}
}

// HasActive reports whether any process is live.
func (r *Runner) HasActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active) > 0
}

// ActiveKeys returns the keys of live processes, sorted.
func (r *Runner) ActiveKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.active))
	for k := range r.active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Record returns a copy of the current record for key.
func (r *Runner) Record(key string) (models.ExecutionRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return models.ExecutionRecord{}, false
	}
	return *rec, true
}

// Records returns copies of every current record.
func (r *Runner) Records() []models.ExecutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ExecutionRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}
