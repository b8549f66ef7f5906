package supervisor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/boxd/boxd/domain"
	"github.com/boxd/boxd/result"
	"github.com/boxd/boxd/shm"
)

func newTestBlocks(t *testing.T) (*shm.Pid1Block, *shm.TraceeBlock) {
	t.Helper()
	pid1Block, err := shm.NewPid1Block()
	require.NoError(t, err)
	t.Cleanup(func() { _ = pid1Block.Close() })

	traceeBlock, err := shm.NewTraceeBlock()
	require.NoError(t, err)
	t.Cleanup(func() { _ = traceeBlock.Close() })

	return pid1Block, traceeBlock
}

func TestComposeResultPrematureDeathWhenPid1NeverWrites(t *testing.T) {
	pid1Block, traceeBlock := newTestBlocks(t)
	leaf := fakeLeaf(t)
	pid1Si := domain.Si{Code: unix.CLD_KILLED, Status: int32(unix.SIGKILL)}

	res := composeResult(pid1Block, traceeBlock, leaf, pid1Si)

	errRes, ok := res.(*domain.ErrorResult)
	require.True(t, ok)
	assert.Equal(t, result.PrematureDeath(pid1Si), errRes.Description)
}

func TestComposeResultPrematureDeathWhenTraceeKilledBeforeExecveat(t *testing.T) {
	pid1Block, traceeBlock := newTestBlocks(t)
	leaf := fakeLeaf(t)

	// pid1 forwards the tracee's own kill Si, but the tracee never got
	// far enough to call WriteExecStart. pid1 itself then exits 0, so
	// the supervisor's own waitid on pid1 sees a clean exit.
	traceeSi := domain.Si{Code: unix.CLD_KILLED, Status: int32(unix.SIGKILL)}
	pid1Block.WriteOk(traceeSi)
	pid1Si := domain.Si{Code: unix.CLD_EXITED, Status: 0}

	res := composeResult(pid1Block, traceeBlock, leaf, pid1Si)

	errRes, ok := res.(*domain.ErrorResult)
	require.True(t, ok)
	assert.Equal(t, result.PrematureDeath(traceeSi), errRes.Description)
}

func TestComposeResultOkAfterExecStartRecorded(t *testing.T) {
	pid1Block, traceeBlock := newTestBlocks(t)
	leaf := fakeLeaf(t)

	si := domain.Si{Code: unix.CLD_EXITED, Status: 0}
	start := time.Now()
	pid1Block.WriteExecStart(start, 0, 0)
	pid1Block.WriteWaitidTime(start.Add(5 * time.Millisecond))
	pid1Block.WriteOk(si)

	res := composeResult(pid1Block, traceeBlock, leaf, domain.Si{Code: unix.CLD_EXITED, Status: 0})

	okRes, ok := res.(*domain.OkResult)
	require.True(t, ok)
	assert.Equal(t, si, okRes.Si)
}

func TestComposeResultPrefersTraceeError(t *testing.T) {
	pid1Block, traceeBlock := newTestBlocks(t)
	leaf := fakeLeaf(t)
	traceeBlock.WriteError("exec failed: No such file or directory (os error 2)")

	res := composeResult(pid1Block, traceeBlock, leaf, domain.Si{Code: unix.CLD_EXITED, Status: 1})

	errRes, ok := res.(*domain.ErrorResult)
	require.True(t, ok)
	assert.Equal(t, result.Tracee("exec failed: No such file or directory (os error 2)"), errRes.Description)
}

func TestComposeResultPid1Error(t *testing.T) {
	pid1Block, traceeBlock := newTestBlocks(t)
	leaf := fakeLeaf(t)
	pid1Block.WriteError("apply cgroup limits: permission denied")

	res := composeResult(pid1Block, traceeBlock, leaf, domain.Si{Code: unix.CLD_EXITED, Status: 1})

	errRes, ok := res.(*domain.ErrorResult)
	require.True(t, ok)
	assert.Equal(t, "apply cgroup limits: permission denied", errRes.Description)
}
