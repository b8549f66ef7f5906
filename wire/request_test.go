package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxd/boxd/domain"
)

func uint32p(v uint32) *uint32 { return &v }
func uint64p(v uint64) *uint64 { return &v }

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	dur := 5 * time.Second

	tests := []struct {
		name string
		exe  domain.ExecutableSelector
		argv []string
		env  []string
		opts domain.RequestOptions
	}{
		{
			name: "minimal",
			exe:  domain.ExecutableSelector{Path: "/bin/true"},
			argv: []string{"/bin/true"},
		},
		{
			name: "full options",
			exe:  domain.ExecutableSelector{FD: domain.NewFD(9)},
			argv: []string{"prog", "--flag", "value"},
			env:  []string{"PATH=/usr/bin", "HOME=/root"},
			opts: domain.RequestOptions{
				Stdin:  domain.NewFD(10),
				Stdout: domain.NewFD(11),
				Stderr: domain.NewFD(12),
				Namespaces: domain.LinuxNamespaces{
					User: domain.UserNamespace{
						InsideUID: uint32p(1000),
						InsideGID: uint32p(1000),
					},
					Mount: domain.MountNamespace{
						Operations: []domain.MountOperation{
							&domain.MountTmpfs{Path: "/tmp", RootDirMode: 0o755, ReadOnly: false, NoExec: true, MaxTotalSizeOfFilesInBytes: uint64p(1 << 20)},
							&domain.MountProc{Path: "/proc", ReadOnly: true},
							&domain.BindMount{Source: "/lib", Dest: "/lib", Recursive: true, ReadOnly: true},
							&domain.CreateDir{Path: "/work", Mode: 0o700},
							&domain.CreateFile{Path: "/work/stamp", Mode: 0o600},
						},
						NewRootMountPath: "/newroot",
					},
				},
				Cgroup: domain.Cgroup{
					ProcessNumLimit:    uint32p(32),
					MemoryLimitInBytes: uint64p(256 << 20),
					CPUMaxBandwidth:    &domain.CPUMaxBandwidth{MaxUsec: 100000, PeriodUsec: 100000},
				},
				Prlimit: domain.Prlimit{
					FDCount:  uint64p(64),
					AddressSpace: uint64p(1 << 30),
				},
				TimeLimit:    &dur,
				CPUTimeLimit: &dur,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, mask, err := EncodeRequest(tt.exe, tt.argv, tt.env, tt.opts)
			require.NoError(t, err)

			gotMask, argv, env, opts, err := DecodeRequestBody(body)
			require.NoError(t, err)
			assert.Equal(t, mask, gotMask)
			assert.Equal(t, tt.argv, argv)
			assert.Equal(t, tt.env, env)
			assertOptionsEqual(t, tt.opts, opts)
		})
	}
}

func assertOptionsEqual(t *testing.T, want, got domain.RequestOptions) {
	t.Helper()
	assert.Equal(t, derefU32(want.Namespaces.User.InsideUID), derefU32(got.Namespaces.User.InsideUID))
	assert.Equal(t, derefU32(want.Namespaces.User.InsideGID), derefU32(got.Namespaces.User.InsideGID))
	assert.Equal(t, len(want.Namespaces.Mount.Operations), len(got.Namespaces.Mount.Operations))
	for i := range want.Namespaces.Mount.Operations {
		assert.Equal(t, want.Namespaces.Mount.Operations[i], got.Namespaces.Mount.Operations[i])
	}
	assert.Equal(t, want.Namespaces.Mount.NewRootMountPath, got.Namespaces.Mount.NewRootMountPath)
	if want.TimeLimit != nil {
		require.NotNil(t, got.TimeLimit)
		assert.Equal(t, *want.TimeLimit, *got.TimeLimit)
	} else {
		assert.Nil(t, got.TimeLimit)
	}
}

func derefU32(v *uint32) uint32 {
	if v == nil {
		return 0
	}
	return *v
}

func TestEncodeRequestRejectsEmbeddedNUL(t *testing.T) {
	_, _, err := EncodeRequest(domain.ExecutableSelector{Path: "/bin/true"}, []string{"bad\x00arg"}, nil, domain.RequestOptions{})
	require.Error(t, err)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "embedded_nul", perr.Kind)
}

func TestDecodeRequestBodyRejectsTruncatedBuffer(t *testing.T) {
	body, _, err := EncodeRequest(domain.ExecutableSelector{Path: "/bin/true"}, []string{"/bin/true"}, nil, domain.RequestOptions{})
	require.NoError(t, err)

	_, _, _, _, err = DecodeRequestBody(body[:len(body)-2])
	require.Error(t, err)
}

func TestDecodeMountOperationRejectsUnknownKind(t *testing.T) {
	d := newDecoder([]byte{0xFF})
	_, err := decodeMountOperation(d)
	require.Error(t, err)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "unknown_mount_kind", perr.Kind)
}
