package daemon

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPIDFile(t *testing.T) *PIDFile {
	t.Helper()
	return NewPIDFile(filepath.Join(t.TempDir(), "run", "autotest-serve.pid"))
}

func TestPIDFile_WriteAndRead(t *testing.T) {
	pf := newPIDFile(t)
	require.NoError(t, pf.WritePID(12345))

	pid, err := pf.Read()
	require.NoError(t, err)
	assert.Equal(t, 12345, pid)
}

func TestPIDFile_Read_InvalidContent(t *testing.T) {
	pf := newPIDFile(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(pf.Path), 0o755))
	require.NoError(t, os.WriteFile(pf.Path, []byte("not-a-number\n"), 0o644))

	_, err := pf.Read()
	assert.ErrorContains(t, err, "invalid PID file content")
}

func TestPIDFile_IsRunning(t *testing.T) {
	pf := newPIDFile(t)
	pid, running := pf.IsRunning()
	assert.Equal(t, 0, pid)
	assert.False(t, running)

	require.NoError(t, pf.WritePID(os.Getpid()))
	pid, running = pf.IsRunning()
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, pf.WritePID(999999))
	pid, running = pf.IsRunning()
	assert.Equal(t, 999999, pid)
	assert.False(t, running)
}

func TestPIDFile_Acquire(t *testing.T) {
	pf := newPIDFile(t)

	// A stale file is taken over.
	require.NoError(t, pf.WritePID(999999))
	require.NoError(t, pf.Acquire(os.Getpid()))

	err := pf.Acquire(os.Getpid() + 1)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	// Re-acquiring with the owner's PID succeeds.
	assert.NoError(t, pf.Acquire(os.Getpid()))
}

func TestPIDFile_Release(t *testing.T) {
	pf := newPIDFile(t)
	assert.NoError(t, pf.Release(1), "missing file is fine")

	require.NoError(t, pf.WritePID(42))
	require.NoError(t, pf.Release(7))
	_, err := os.Stat(pf.Path)
	assert.NoError(t, err, "file owned by another pid is kept")

	require.NoError(t, pf.Release(42))
	_, err = os.Stat(pf.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestPIDFile_Signal_NoFile(t *testing.T) {
	err := newPIDFile(t).Signal(syscall.Signal(0))
	assert.ErrorContains(t, err, "read PID file")
}

func TestPIDFile_Stop_NotRunning(t *testing.T) {
	pf := newPIDFile(t)
	_, err := pf.Stop(syscall.SIGTERM, syscall.SIGKILL, time.Second)
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, pf.WritePID(999999))
	_, err = pf.Stop(syscall.SIGTERM, syscall.SIGKILL, time.Second)
	assert.ErrorIs(t, err, ErrNotRunning)
	_, statErr := os.Stat(pf.Path)
	assert.True(t, os.IsNotExist(statErr), "stale file removed")
}

func TestPIDFile_Stop(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("signals are unix-only")
	}
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	waited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waited)
	}()

	pf := newPIDFile(t)
	require.NoError(t, pf.WritePID(cmd.Process.Pid))

	pid, err := pf.Stop(syscall.SIGTERM, syscall.SIGKILL, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, cmd.Process.Pid, pid)

	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("process not stopped")
	}
	_, statErr := os.Stat(pf.Path)
	assert.True(t, os.IsNotExist(statErr))
}
