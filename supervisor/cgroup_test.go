package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxd/boxd/domain"
)

// fakeLeaf returns a cgroupLeaf rooted at a plain temp directory. None
// of cgroupLeaf's methods below touch real cgroupfs controls, only
// files under its own path, so a temp directory stands in for it
// without needing an actual cgroup v2 mount.
func fakeLeaf(t *testing.T) *cgroupLeaf {
	t.Helper()
	return &cgroupLeaf{path: t.TempDir()}
}

func TestCgroupLeafApplyLimitsWritesConfiguredFiles(t *testing.T) {
	l := fakeLeaf(t)
	mem := uint64(1 << 20)
	swap := uint64(1 << 21)
	pids := uint32(16)

	err := l.ApplyLimits(domain.Cgroup{
		MemoryLimitInBytes: &mem,
		SwapLimitInBytes:   &swap,
		ProcessNumLimit:    &pids,
	})
	require.NoError(t, err)

	assertFileContains(t, filepath.Join(l.path, "memory.max"), "1048576")
	assertFileContains(t, filepath.Join(l.path, "memory.swap.max"), "2097152")
	assertFileContains(t, filepath.Join(l.path, "pids.max"), "16")
	assert.NoFileExists(t, filepath.Join(l.path, "cpu.max"))
}

func TestCgroupLeafApplyLimitsNoopWhenEmpty(t *testing.T) {
	l := fakeLeaf(t)
	require.NoError(t, l.ApplyLimits(domain.Cgroup{}))

	entries, err := os.ReadDir(l.path)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCgroupLeafCPUStatParsesBothFields(t *testing.T) {
	l := fakeLeaf(t)
	writeLeafFile(t, l, "cpu.stat", "usage_usec 100\nuser_usec 60\nsystem_usec 40\n")

	user, sys, err := l.CPUStat()
	require.NoError(t, err)
	assert.Equal(t, uint64(60), user)
	assert.Equal(t, uint64(40), sys)
}

func TestCgroupLeafPeakMemoryFallsBackToCurrent(t *testing.T) {
	l := fakeLeaf(t)
	writeLeafFile(t, l, "memory.current", "4096\n")

	v, err := l.PeakMemory()
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), v)
}

func TestCgroupLeafPeakMemoryPrefersPeakFile(t *testing.T) {
	l := fakeLeaf(t)
	writeLeafFile(t, l, "memory.peak", "8192\n")
	writeLeafFile(t, l, "memory.current", "4096\n")

	v, err := l.PeakMemory()
	require.NoError(t, err)
	assert.Equal(t, uint64(8192), v)
}

func TestCgroupLeafOOMKillCount(t *testing.T) {
	l := fakeLeaf(t)
	writeLeafFile(t, l, "memory.events", "low 0\nhigh 0\noom_kill 3\n")

	n, err := l.OOMKillCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
}

func TestCgroupLeafOOMKillCountDefaultsToZero(t *testing.T) {
	l := fakeLeaf(t)
	writeLeafFile(t, l, "memory.events", "low 0\nhigh 0\n")

	n, err := l.OOMKillCount()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCgroupLeafEmpty(t *testing.T) {
	l := fakeLeaf(t)
	writeLeafFile(t, l, "cgroup.procs", "")
	empty, err := l.Empty()
	require.NoError(t, err)
	assert.True(t, empty)

	writeLeafFile(t, l, "cgroup.procs", "1234\n")
	empty, err = l.Empty()
	require.NoError(t, err)
	assert.False(t, empty)
}

func writeLeafFile(t *testing.T, l *cgroupLeaf, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(l.path, name), []byte(contents), 0o644))
}

func assertFileContains(t *testing.T, path, want string) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, want, string(data))
}
