package client

import (
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxd/boxd/domain"
	"github.com/boxd/boxd/wire"
)

// TestSendRequestPutsHeaderFDsAndBodyOnTheWire drives sendRequest over a
// real socketpair and reads the other end back with the raw recvmsg
// primitives supervisor.recvHeaderAndFDs itself wraps, so this checks
// the two ends agree on framing without depending on the unexported
// supervisor package internals.
func TestSendRequestPutsHeaderFDsAndBodyOnTheWire(t *testing.T) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	clientFd, serverFd := fds[0], fds[1]
	defer unix.Close(clientFd)
	defer unix.Close(serverFd)

	body := []byte("hello request body")
	pr, pw, err := os.Pipe()
	require.NoError(t, err)
	defer pr.Close()
	defer pw.Close()

	err = sendRequest(clientFd, body, []int{int(pw.Fd())})
	require.NoError(t, err)

	header := make([]byte, wire.HeaderSize)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := unix.Recvmsg(serverFd, header, oob, 0)
	require.NoError(t, err)
	require.Equal(t, wire.HeaderSize, n)

	declared, err := wire.DecodeHeader(header)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(body)), declared)

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	require.NoError(t, err)
	require.Len(t, cmsgs, 1)
	rights, err := unix.ParseUnixRights(&cmsgs[0])
	require.NoError(t, err)
	require.Len(t, rights, 1)
	defer unix.Close(rights[0])

	got := make([]byte, len(body))
	readFull(t, serverFd, got)
	assert.Equal(t, body, got)
}

func readFull(t *testing.T, fd int, buf []byte) {
	t.Helper()
	read := 0
	for read < len(buf) {
		n, err := unix.Read(fd, buf[read:])
		require.NoError(t, err)
		require.NotZero(t, n)
		read += n
	}
}

func TestReadResultRoundTripsOkResult(t *testing.T) {
	want := &domain.OkResult{
		Si:      domain.Si{Code: 1, Status: 0},
		Runtime: 2500 * time.Millisecond,
		Cgroup: domain.CgroupStats{
			CPUTime:         domain.CPUTime{UserUsec: 111, SystemUsec: 222},
			PeakMemoryBytes: 4096,
		},
	}
	body, err := wire.EncodeResponse(want)
	require.NoError(t, err)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	go func() {
		_, _ = w.Write(body)
		w.Close()
	}()

	got, err := readResult(r)
	require.NoError(t, err)
	gotOk, ok := got.(*domain.OkResult)
	require.True(t, ok)
	assert.Equal(t, want.Si, gotOk.Si)
	assert.Equal(t, want.Runtime, gotOk.Runtime)
	assert.Equal(t, want.Cgroup, gotOk.Cgroup)
}

func TestReadResultRoundTripsErrorResult(t *testing.T) {
	want := &domain.ErrorResult{Description: "tracee: execveat - permission denied"}
	body, err := wire.EncodeResponse(want)
	require.NoError(t, err)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	go func() {
		_, _ = w.Write(body)
		w.Close()
	}()

	got, err := readResult(r)
	require.NoError(t, err)
	gotErr, ok := got.(*domain.ErrorResult)
	require.True(t, ok)
	assert.Equal(t, want.Description, gotErr.Description)
}
