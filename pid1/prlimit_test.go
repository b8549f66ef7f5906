package pid1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/boxd/boxd/domain"
)

func TestApplyPrlimitNoopWhenEmpty(t *testing.T) {
	err := applyPrlimit(domain.Prlimit{})
	assert.NoError(t, err)
}

func TestApplyPrlimitAppliesCurrentNofile(t *testing.T) {
	var rlim unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim))

	v := rlim.Cur
	err := applyPrlimit(domain.Prlimit{FDCount: &v})
	assert.NoError(t, err)
}
