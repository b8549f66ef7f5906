package tracee

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanityCheckVectorsAcceptsWellFormed(t *testing.T) {
	err := sanityCheckVectors([]string{"/bin/true", "--flag"}, []string{"PATH=/usr/bin"})
	assert.NoError(t, err)
}

func TestSanityCheckVectorsRejectsEmptyArgv(t *testing.T) {
	err := sanityCheckVectors(nil, nil)
	assert.Error(t, err)
}

func TestSanityCheckVectorsRejectsEmbeddedNUL(t *testing.T) {
	err := sanityCheckVectors([]string{"bad\x00arg"}, nil)
	assert.Error(t, err)

	err = sanityCheckVectors([]string{"/bin/true"}, []string{"BAD=\x00"})
	assert.Error(t, err)
}
