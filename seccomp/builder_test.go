package seccomp

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBuildDefaultFilterIntoProducesWellFormedBPF exercises the
// libseccomp compilation path without installing the result (doing
// that for real requires actually being the process that calls
// seccomp(2), which this test would rather not do to itself). A
// well-formed BPF program is a positive, non-truncated multiple of
// sockFilterSize, the same shape ApplyFromFD validates before loading.
func TestBuildDefaultFilterIntoProducesWellFormedBPF(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "seccomp-filter")
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, BuildDefaultFilterInto(f))

	size, err := f.Seek(0, os.SEEK_END)
	require.NoError(t, err)
	assert.Positive(t, size)
	assert.Zero(t, size%sockFilterSize)
	assert.LessOrEqual(t, size, int64(maxProgramBytes))
}
