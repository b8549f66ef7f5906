package tracee

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStubRoundTrip(t *testing.T) {
	mask, argv, err := parseStub([]string{"05", "--", "/bin/true", "--flag"})
	require.NoError(t, err)
	assert.Equal(t, uint8(0x05), mask)
	assert.Equal(t, []string{"/bin/true", "--flag"}, argv)
}

func TestParseStubRejectsMissingSeparator(t *testing.T) {
	_, _, err := parseStub([]string{"05", "/bin/true"})
	assert.Error(t, err)
}

func TestParseStubRejectsBadMaskToken(t *testing.T) {
	_, _, err := parseStub([]string{"zz", "--", "/bin/true"})
	assert.Error(t, err)
}

func TestParseStubRejectsShortStub(t *testing.T) {
	_, _, err := parseStub([]string{"05"})
	assert.Error(t, err)
}
