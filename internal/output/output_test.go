package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func TestMessages(t *testing.T) {
	u, out, errOut := newTestUI()
	u.Info("scanning %s", "src")
	u.Success("%d specs written", 3)
	u.Warning("skipped %s", "a.ts")
	u.Error("failed %s", "b.ts")

	assert.Contains(t, out.String(), "scanning src")
	assert.Contains(t, out.String(), "3 specs written")
	assert.Contains(t, errOut.String(), "skipped a.ts")
	assert.Contains(t, errOut.String(), "failed b.ts")
}

func TestVerboseLog(t *testing.T) {
	u, out, _ := newTestUI()
	u.VerboseLog("detail %d", 1)
	assert.Empty(t, out.String())

	u.Verbose = true
	u.VerboseLog("detail %d", 1)
	assert.Contains(t, out.String(), "detail 1")
}

func TestDryRunMsg(t *testing.T) {
	u, _, errOut := newTestUI()
	u.DryRunMsg("would write %s", "a.spec.ts")
	assert.Empty(t, errOut.String())

	u.DryRun = true
	u.DryRunMsg("would write %s", "a.spec.ts")
	assert.Contains(t, errOut.String(), "[DRY-RUN]")
	assert.Contains(t, errOut.String(), "would write a.spec.ts")
}

func TestStatusColor(t *testing.T) {
	for _, s := range []string{"success", "running", "error", "paused", "cancelled", "idle"} {
		assert.Contains(t, StatusColor(s), s)
	}
	assert.Equal(t, "unknown", StatusColor("unknown"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", Truncate("short", 10))
	assert.Equal(t, "abcd…", Truncate("abcdefgh", 5))
	assert.Equal(t, "…", Truncate("abc", 1))
	assert.Equal(t, "abc", Truncate("abc", 0))
}

func TestTable(t *testing.T) {
	u, out, _ := newTestUI()
	table := u.Table([]string{"Key", "Status"})
	require.NotNil(t, table)

	require.NoError(t, table.Append([]string{"a.spec.ts", "success"}))
	require.NoError(t, table.Append([]string{"all", "error"}))
	require.NoError(t, table.Render())

	assert.Contains(t, out.String(), "a.spec.ts")
	assert.Contains(t, out.String(), "all")
}
