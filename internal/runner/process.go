package runner

import (
	"bytes"
	"os/exec"
	"sync"
	"time"
)

// execution is one live child process.
type execution struct {
	id   string
	key  string
	cmd  *exec.Cmd
	done chan struct{}

	mu     sync.Mutex
	why    string
	killed bool
}

// terminate signals the process group once and escalates to SIGKILL if the
// process has not exited after killGrace. The first reason wins.
func (e *execution) terminate(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.killed {
		return
	}
	e.killed = true
	e.why = reason
	if e.cmd.Process == nil {
		return
	}
	_ = terminateGroup(e.cmd)
	go func() {
		select {
		case <-e.done:
		case <-time.After(killGrace):
			_ = killGroup(e.cmd)
		}
	}()
}

func (e *execution) reason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.why
}

// outputBuffer accumulates stdout and stderr in arrival order.
type outputBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *outputBuffer) write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Write(p)
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// streamWriter appends each chunk to the shared buffer and publishes it.
type streamWriter struct {
	buf    *outputBuffer
	stream string
	emit   func(stream, data string)
}

func (w *streamWriter) Write(p []byte) (int, error) {
	w.buf.write(p)
	w.emit(w.stream, string(p))
	return len(p), nil
}
