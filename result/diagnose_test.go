package result

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"

	"github.com/boxd/boxd/domain"
)

func TestPrematureDeathKilled(t *testing.T) {
	si := domain.Si{Code: unix.CLD_KILLED, Status: int32(unix.SIGKILL)}
	got := PrematureDeath(si)
	want := "tracee process died unexpectedly before execveat() without an error message: killed by signal KILL - Killed"
	assert.Equal(t, want, got)
}

func TestPrematureDeathExited(t *testing.T) {
	si := domain.Si{Code: unix.CLD_EXITED, Status: 2}
	got := PrematureDeath(si)
	assert.Contains(t, got, "exited with code 2")
}

func TestPrefixHelpers(t *testing.T) {
	assert.Equal(t, "pid1: mount tmpfs - Permission denied", Pid1("mount tmpfs - Permission denied"))
	assert.Equal(t, "tracee: execveat - No such file or directory", Tracee("execveat - No such file or directory"))
	assert.Equal(t, "supervisor: cgroup write failed", Supervisor("cgroup write failed"))
}
