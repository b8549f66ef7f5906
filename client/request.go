package client

import (
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/boxd/boxd/domain"
	"github.com/boxd/boxd/result"
	"github.com/boxd/boxd/wire"
)

// Client owns one supervisor process and the stream-socket connection
// to it. The connection itself must be serialized — every in-flight
// request's header+FDs+body share the one socket — so SendRequest holds
// sendMu only long enough to put a request on the wire; awaiting its
// result afterward reads from that request's own private pipe and needs
// no further coordination with other in-flight requests (§5 "each
// SupervisorConnection is not thread-safe for concurrent send_request
// calls, but a RequestHandle's AwaitResult/Cancel and its
// KillRequestHandle's Kill may be driven from different goroutines").
type Client struct {
	proc   *supervisorProcess
	sendMu sync.Mutex
}

// New spawns a fresh supervisor process and returns a Client connected
// to it. Callers must call client.Init() first in their own main(), per
// that function's doc comment, or the forked child never re-execs into
// the supervisor and this call hangs waiting on the connection.
func New() (*Client, error) {
	proc, err := spawnSupervisor()
	if err != nil {
		return nil, err
	}
	return &Client{proc: proc}, nil
}

// Close closes the client's end of the connection, which the
// supervisor observes as EOF and exits on (§4.5 step 1), then waits for
// the supervisor process.
func (c *Client) Close() error {
	_ = c.proc.sockFd.Close()
	_ = c.proc.errorFd.Close()
	return c.proc.cmd.Wait()
}

// checkAlive reports a diagnosed cause if the supervisor process has
// already exited, for a caller that wants to distinguish "supervisor
// died" from an ordinary sandboxed-command failure (§4.8 last bullet).
func (c *Client) checkAlive() error {
	if c.proc.cmd.ProcessState == nil {
		return nil
	}
	si := domain.Si{}
	if ws, ok := c.proc.cmd.ProcessState.Sys().(interface{ ExitStatus() int }); ok {
		si.Code = unix.CLD_EXITED
		si.Status = int32(ws.ExitStatus())
	}
	return fmt.Errorf("%s", result.SupervisorDied(errorFdContents(c.proc.errorFd), si))
}

// RequestHandle is returned by SendRequest. AwaitResult blocks for the
// sandbox's outcome; Cancel gives up on it early; GetKillHandle hands
// out the separate handle used to force an in-progress sandbox to
// terminate.
type RequestHandle struct {
	resultFile *os.File
	killFile   *os.File
}

// KillRequestHandle is the half of a RequestHandle safe to use
// concurrently with AwaitResult/Cancel from another goroutine: it only
// ever writes to the shared kill eventfd.
type KillRequestHandle struct {
	killFile *os.File
}

// SendRequest encodes and sends one sandboxed-execution request over
// the shared supervisor connection (§4.4), returning a handle used to
// await the outcome, cancel it, or kill it. exe selects the program to
// execveat — a path the tracee resolves itself, or an already-open
// descriptor; argv/env/opts are everything else §4.1's request body
// carries.
func (c *Client) SendRequest(exe domain.ExecutableSelector, argv, env []string, opts domain.RequestOptions) (*RequestHandle, error) {
	if err := validateExecutable(exe, argv); err != nil {
		return nil, err
	}

	body, mask, err := wire.EncodeRequest(exe, argv, env, opts)
	if err != nil {
		return nil, err
	}

	resultR, resultW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("client: create result pipe: %w", err)
	}
	killFd, err := unix.Eventfd(0, unix.EFD_CLOEXEC)
	if err != nil {
		resultR.Close()
		resultW.Close()
		return nil, fmt.Errorf("client: create kill eventfd: %w", err)
	}
	killFile := os.NewFile(uintptr(killFd), "boxd-kill")

	rights := orderedRights(resultW, killFile, exe, opts, mask)

	c.sendMu.Lock()
	sendErr := sendRequest(int(c.proc.sockFd.Fd()), body, rights)
	c.sendMu.Unlock()

	// The supervisor now holds its own dup of every fd named in rights;
	// the client's copy of the result pipe's write end was only ever
	// meant to cross once, so it closes here regardless of outcome.
	resultW.Close()

	if sendErr != nil {
		resultR.Close()
		killFile.Close()
		return nil, sendErr
	}

	return &RequestHandle{resultFile: resultR, killFile: killFile}, nil
}

// validateExecutable enforces the two synchronous checks §4.4/§7 require
// before any bytes reach the wire: an empty path is always an error, and
// argv must be non-empty unless the executable rides in on its own FD
// (in which case the tracee never needs to resolve argv[0] to find the
// program). An empty path renders the same text a failed open(2) on ""
// would, since that's the call a path-based exec ultimately stands in
// for.
func validateExecutable(exe domain.ExecutableSelector, argv []string) error {
	if !exe.IsFD() && exe.Path == "" {
		return fmt.Errorf("open(%q) - %s", exe.Path, result.Errno(syscall.ENOENT))
	}
	if !exe.IsFD() && len(argv) == 0 {
		return &wire.ProtocolError{Kind: "empty_argv"}
	}
	return nil
}

// orderedRights builds the ancillary FD list in the fixed wire order:
// the result pipe's write end, the kill eventfd, then whichever of
// executable/stdin/stdout/stderr/seccomp mask selects, skipping the
// rest — mirroring supervisor.decodeRequest's take() sequence exactly.
func orderedRights(resultW, killFile *os.File, exe domain.ExecutableSelector, opts domain.RequestOptions, mask uint8) []int {
	rights := []int{int(resultW.Fd()), int(killFile.Fd())}
	if mask&wire.FDMaskExecutable != 0 {
		rights = append(rights, exe.FD.Int())
	}
	if mask&wire.FDMaskStdin != 0 {
		rights = append(rights, opts.Stdin.Int())
	}
	if mask&wire.FDMaskStdout != 0 {
		rights = append(rights, opts.Stdout.Int())
	}
	if mask&wire.FDMaskStderr != 0 {
		rights = append(rights, opts.Stderr.Int())
	}
	if mask&wire.FDMaskSeccomp != 0 {
		rights = append(rights, opts.SeccompFd.Int())
	}
	return rights
}

// AwaitResult blocks until the sandbox finishes (or the connection is
// torn down) and returns its outcome.
func (h *RequestHandle) AwaitResult() (domain.Result, error) {
	defer h.resultFile.Close()
	res, err := readResult(h.resultFile)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return nil, fmt.Errorf("client: connection closed before a result arrived")
	}
	return res, err
}

// Cancel gives up on a request before AwaitResult returns, by closing
// the client's end of the result pipe early (§5 "Cancellation
// semantics"): the supervisor's eventual write(2) of the response then
// fails with a broken pipe, which it already discards like any other
// write failure on that path.
func (h *RequestHandle) Cancel() error {
	return h.resultFile.Close()
}

// GetKillHandle returns the half of this request safe to hand to
// another goroutine purely to force early termination.
func (h *RequestHandle) GetKillHandle() KillRequestHandle {
	return KillRequestHandle{killFile: h.killFile}
}

// Kill signals the supervisor to tear down this request's cgroups
// immediately (§5 "Kill"): writing any nonzero 8-byte value to the
// eventfd wakes the supervisor's epoll loop, which drains it and kills
// both per-request cgroup leaves.
func (k KillRequestHandle) Kill() error {
	buf := [8]byte{1}
	_, err := k.killFile.Write(buf[:])
	return err
}
