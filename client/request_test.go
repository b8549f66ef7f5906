package client

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxd/boxd/domain"
	"github.com/boxd/boxd/wire"
)

func TestOrderedRightsMinimal(t *testing.T) {
	resultR, resultW, err := os.Pipe()
	require.NoError(t, err)
	defer resultR.Close()
	defer resultW.Close()
	killR, killW, err := os.Pipe()
	require.NoError(t, err)
	defer killR.Close()
	defer killW.Close()

	rights := orderedRights(resultW, killW, domain.ExecutableSelector{Path: "/bin/true"}, domain.RequestOptions{}, 0)
	assert.Equal(t, []int{int(resultW.Fd()), int(killW.Fd())}, rights)
}

func TestOrderedRightsFullMaskOrder(t *testing.T) {
	resultR, resultW, err := os.Pipe()
	require.NoError(t, err)
	defer resultR.Close()
	defer resultW.Close()
	killR, killW, err := os.Pipe()
	require.NoError(t, err)
	defer killR.Close()
	defer killW.Close()

	exe := domain.ExecutableSelector{FD: domain.NewFD(100)}
	opts := domain.RequestOptions{
		Stdin:     domain.NewFD(101),
		Stdout:    domain.NewFD(102),
		Stderr:    domain.NewFD(103),
		SeccompFd: domain.NewFD(104),
	}
	mask := wire.FDMaskExecutable | wire.FDMaskStdin | wire.FDMaskStdout | wire.FDMaskStderr | wire.FDMaskSeccomp

	rights := orderedRights(resultW, killW, exe, opts, mask)
	assert.Equal(t, []int{int(resultW.Fd()), int(killW.Fd()), 100, 101, 102, 103, 104}, rights)
}

func TestValidateExecutableRejectsEmptyPath(t *testing.T) {
	err := validateExecutable(domain.ExecutableSelector{Path: ""}, []string{""})
	require.Error(t, err)
	assert.Equal(t, `open("") - No such file or directory (os error 2)`, err.Error())
}

func TestValidateExecutableRejectsEmptyArgvWithoutFD(t *testing.T) {
	err := validateExecutable(domain.ExecutableSelector{Path: "/bin/true"}, nil)
	require.Error(t, err)
	var protoErr *wire.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, "empty_argv", protoErr.Kind)
}

func TestValidateExecutableAllowsEmptyArgvWithFD(t *testing.T) {
	err := validateExecutable(domain.ExecutableSelector{FD: domain.NewFD(99)}, nil)
	assert.NoError(t, err)
}

func TestValidateExecutableAllowsNonEmptyPathAndArgv(t *testing.T) {
	err := validateExecutable(domain.ExecutableSelector{Path: "/bin/true"}, []string{"/bin/true"})
	assert.NoError(t, err)
}
