package shm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxd/boxd/domain"
)

func TestPid1BlockUnsetUntilWritten(t *testing.T) {
	b, err := NewPid1Block()
	require.NoError(t, err)
	defer b.Close()

	_, hasError, wrote := b.Read()
	assert.False(t, hasError)
	assert.False(t, wrote)

	_, _, _, ok := b.ReadExecStart()
	assert.False(t, ok)
}

func TestPid1BlockWriteOk(t *testing.T) {
	b, err := NewPid1Block()
	require.NoError(t, err)
	defer b.Close()

	start := time.Now()
	b.WriteExecStart(start, 100, 200)
	waitid := start.Add(50 * time.Millisecond)
	b.WriteWaitidTime(waitid)
	b.WriteOk(domain.Si{Code: 1, Status: 0})

	outcome, hasError, wrote := b.Read()
	require.True(t, wrote)
	assert.False(t, hasError)
	assert.Equal(t, domain.Si{Code: 1, Status: 0}, outcome.Si)

	gotStart, user, sys, ok := b.ReadExecStart()
	require.True(t, ok)
	assert.Equal(t, start.Unix(), gotStart.Unix())
	assert.Equal(t, uint64(100), user)
	assert.Equal(t, uint64(200), sys)

	gotWaitid, ok := b.ReadWaitidTime()
	require.True(t, ok)
	assert.Equal(t, waitid.Unix(), gotWaitid.Unix())
}

func TestPid1BlockWriteError(t *testing.T) {
	b, err := NewPid1Block()
	require.NoError(t, err)
	defer b.Close()

	b.WriteError("mount tmpfs - permission denied")

	outcome, hasError, wrote := b.Read()
	require.True(t, wrote)
	require.True(t, hasError)
	assert.Equal(t, "mount tmpfs - permission denied", outcome.Error)
}

func TestTraceeBlockNoErrorByDefault(t *testing.T) {
	b, err := NewTraceeBlock()
	require.NoError(t, err)
	defer b.Close()

	_, hasError := b.Read()
	assert.False(t, hasError)
}

func TestTraceeBlockWriteError(t *testing.T) {
	b, err := NewTraceeBlock()
	require.NoError(t, err)
	defer b.Close()

	b.WriteError("execveat: No such file or directory")
	desc, hasError := b.Read()
	require.True(t, hasError)
	assert.Equal(t, "execveat: No such file or directory", desc)
}

func TestPageResetZeroes(t *testing.T) {
	p, err := NewPage()
	require.NoError(t, err)
	defer p.Close()

	p.putU64(0, 0xdeadbeef)
	p.Reset()
	assert.Equal(t, uint64(0), p.getU64(0))
}
