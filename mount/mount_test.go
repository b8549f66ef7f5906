package mount

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxd/boxd/domain"
)

func TestApplyUnhandledOperationType(t *testing.T) {
	err := Apply([]domain.MountOperation{unknownOp{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unhandled mount operation type")
}

type unknownOp struct{}

func (unknownOp) Kind() byte { return 0xff }

func TestMountTmpfsRejectsModeAboveMax(t *testing.T) {
	err := mountTmpfs(&domain.MountTmpfs{Path: "/tmp/whatever", RootDirMode: 0o1000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestCreateDirRejectsModeAboveMax(t *testing.T) {
	err := createDir(&domain.CreateDir{Path: "/tmp/whatever", Mode: 0o1000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestCreateFileRejectsModeAboveMax(t *testing.T) {
	err := createFile(&domain.CreateFile{Path: "/tmp/whatever", Mode: 0o1000})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestCreateDirFailsOnCollision(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "existing")
	require.NoError(t, os.Mkdir(target, 0o755))

	err := createDir(&domain.CreateDir{Path: target, Mode: 0o755})
	require.Error(t, err)
	assert.Equal(t, "File exists (os error 17)", err.Error())
}

func TestCreateFileFailsOnCollision(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "existing")
	require.NoError(t, os.WriteFile(target, nil, 0o644))

	err := createFile(&domain.CreateFile{Path: target, Mode: 0o644})
	require.Error(t, err)
	assert.Equal(t, "File exists (os error 17)", err.Error())
}

func TestCreateFileDefaultMode(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "fresh")

	require.NoError(t, createFile(&domain.CreateFile{Path: target}))

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.False(t, info.IsDir())
}

func TestVerifyMountpointRejectsOrdinaryDirectory(t *testing.T) {
	dir := t.TempDir()
	err := VerifyMountpoint(dir)
	assert.Error(t, err)
}
