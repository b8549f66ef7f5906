package supervisor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/boxd/boxd/domain"
	"github.com/boxd/boxd/result"
	"github.com/boxd/boxd/shm"
	"github.com/boxd/boxd/wire"
)

// Loop owns the single stream-socket connection the supervisor was
// handed at startup (§6 invocation: "supervisor <socket_fd>") and
// processes the requests the client sends over it one at a time, in
// the order C5 describes: read header+FDs, read body, decode, run the
// sandbox, write the response, tear down, repeat until the client
// closes its end.
type Loop struct {
	sockFd     int
	cgroupRoot *cgroupLeaf
	seq        uint64
}

// NewLoop builds a Loop rooted at the supervisor's own cgroup, which
// §4.3's bootstrap step already delegated and enabled pids/memory/cpu
// controllers on; every per-request leaf is created directly under it.
func NewLoop(sockFd int) (*Loop, error) {
	own, err := ownCgroupPath()
	if err != nil {
		return nil, fmt.Errorf("loop: read own cgroup: %w", err)
	}
	return &Loop{
		sockFd:     sockFd,
		cgroupRoot: &cgroupLeaf{path: filepath.Join(cgroupV2MountPoint, own)},
	}, nil
}

// Run serves requests until the client closes the socket (§4.5 step 1:
// "EOF => clean exit") or an unrecoverable protocol error occurs.
func (l *Loop) Run() error {
	for {
		done, err := l.serveOne()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// serveOne implements one iteration of the C5 loop (§4.5 steps 1-10).
func (l *Loop) serveOne() (done bool, err error) {
	header, fds, eof, err := recvHeaderAndFDs(l.sockFd)
	if err != nil {
		return false, fmt.Errorf("loop: recv header: %w", err)
	}
	if eof {
		return true, nil
	}

	bodyLen, err := wire.DecodeHeader(header)
	if err != nil {
		closeAll(fds)
		return false, fmt.Errorf("loop: decode header: %w", err)
	}

	body := make([]byte, bodyLen)
	if rerr := readExact(l.sockFd, body); rerr != nil {
		closeAll(fds)
		if rerr == io.ErrUnexpectedEOF {
			return false, fmt.Errorf("loop: client closed mid-body")
		}
		return false, fmt.Errorf("loop: read body: %w", rerr)
	}

	req, derr := decodeRequest(body, fds)
	if derr != nil {
		// The fd order is fixed regardless of whether the body itself
		// parses: fds[0]/fds[1] are always the result pipe and the kill
		// eventfd, so a best-effort response can still go out even when
		// decodeRequest rejected the rest of the body.
		if len(fds) >= 1 {
			_ = writeResponse(fds[0], &domain.ErrorResult{Description: result.Sandbox(derr)})
		}
		closeAll(fds)
		return false, nil
	}

	res := l.handleRequest(req)

	resultFd := req.ResultFd.Take()
	_ = writeResponse(resultFd, res)
	_ = unix.Close(resultFd)
	_ = unix.Close(req.KillFd.Take())

	return false, nil
}

func writeResponse(fd int, res domain.Result) error {
	body, err := wire.EncodeResponse(res)
	if err != nil {
		return err
	}
	return writeExact(fd, body)
}

func closeAll(fds []int) {
	for _, fd := range fds {
		_ = unix.Close(fd)
	}
}

// leafName returns a unique, human-debuggable per-request cgroup leaf
// name.
func (l *Loop) leafName(role string) string {
	n := atomic.AddUint64(&l.seq, 1)
	return "req-" + strconv.FormatUint(n, 10) + "-" + role
}

// handleRequest runs §4.5 steps 4-9 for one already-decoded request and
// always returns a Result; it never propagates an error to the caller,
// since every failure from here on is itself the thing to report back
// to the client.
func (l *Loop) handleRequest(req *request) domain.Result {
	pid1Block, err := shm.NewPid1Block()
	if err != nil {
		req.closeUnclaimedFDs()
		return &domain.ErrorResult{Description: result.Supervisor(err.Error())}
	}
	defer pid1Block.Close()

	traceeBlock, err := shm.NewTraceeBlock()
	if err != nil {
		req.closeUnclaimedFDs()
		return &domain.ErrorResult{Description: result.Supervisor(err.Error())}
	}
	defer traceeBlock.Close()

	// §4.5 step 5: two sibling leaves directly under the supervisor's
	// own (already-delegated, pids/memory/cpu-enabled) cgroup — a pid1
	// leaf that holds only pid1 itself, and a tracee leaf that receives
	// the configured resource limits and later the accounting read in
	// composeResult.
	pid1Leaf, err := newCgroupLeaf(l.cgroupRoot.Path(), l.leafName("pid1"))
	if err != nil {
		req.closeUnclaimedFDs()
		return &domain.ErrorResult{Description: result.Supervisor(result.Operation("create pid1 cgroup leaf", err))}
	}
	defer func() {
		_ = waitCgroupEmpty(pid1Leaf)
		_ = pid1Leaf.Remove()
	}()

	traceeLeaf, err := newCgroupLeaf(l.cgroupRoot.Path(), l.leafName("tracee"))
	if err != nil {
		req.closeUnclaimedFDs()
		return &domain.ErrorResult{Description: result.Supervisor(result.Operation("create tracee cgroup leaf", err))}
	}
	defer func() {
		_ = waitCgroupEmpty(traceeLeaf)
		_ = traceeLeaf.Remove()
	}()

	if err := traceeLeaf.ApplyLimits(req.Opts.Cgroup); err != nil {
		req.closeUnclaimedFDs()
		return &domain.ErrorResult{Description: result.Supervisor(result.Operation("apply cgroup limits", err))}
	}

	traceeCgroupFd, err := unix.Open(traceeLeaf.Path(), unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		req.closeUnclaimedFDs()
		return &domain.ErrorResult{Description: result.Supervisor(result.Operation("open tracee cgroup dir", err))}
	}

	configRead, configWrite, configBody, err := buildConfigPipe(req)
	if err != nil {
		unix.Close(traceeCgroupFd)
		req.closeUnclaimedFDs()
		return &domain.ErrorResult{Description: result.Supervisor(result.Operation("build pid1 config", err))}
	}

	files := buildPid1Files(req, pid1Block, traceeBlock, os.NewFile(uintptr(traceeCgroupFd), "boxd-tracee-cgroup"), configRead)

	cmd, err := spawnPid1(pid1Leaf, req.Opts.Namespaces.User, files)
	closeParentCopies(files)
	req.closeUnclaimedFDs()
	if err != nil {
		_ = configWrite.Close()
		return &domain.ErrorResult{Description: result.Supervisor(result.Operation("spawn pid1", err))}
	}

	if werr := writeExact(int(configWrite.Fd()), append(wire.EncodeHeader(len(configBody)), configBody...)); werr != nil {
		_ = configWrite.Close()
		return &domain.ErrorResult{Description: result.Supervisor(result.Operation("write pid1 config", werr))}
	}
	_ = configWrite.Close()

	pidfd, err := pidfdOf(cmd.Process.Pid)
	if err != nil {
		return &domain.ErrorResult{Description: result.Supervisor(result.Operation("pidfd_open", err))}
	}
	defer unix.Close(pidfd)

	waitForDeadlineOrKill(pidfd, req.KillFd.Int(), req.Opts.TimeLimit, req.Opts.CPUTimeLimit, pid1Leaf, traceeLeaf)

	si, err := waitidPidfd(pidfd)
	if err != nil {
		return &domain.ErrorResult{Description: result.Supervisor(result.Operation("waitid", err))}
	}

	return composeResult(pid1Block, traceeBlock, traceeLeaf, si)
}

// buildConfigPipe encodes the wire request body pid1 needs (mount
// operations, prlimit, the executable selector, argv/env) the same way
// the client originally sent it to the supervisor, and opens the pipe
// pid1 reads it back from at startup — everything pid1 needs that isn't
// already conveyed by a fixed ExtraFiles descriptor.
func buildConfigPipe(req *request) (read, write *os.File, body []byte, err error) {
	body, _, err = wire.EncodeRequest(req.Executable, req.Argv, req.Env, req.Opts)
	if err != nil {
		return nil, nil, nil, err
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, nil, err
	}
	return r, w, body, nil
}

// buildPid1Files wraps the request's borrowed descriptors in *os.File
// for cmd.ExtraFiles, taking ownership of each domain.FD as it goes.
func buildPid1Files(req *request, pid1Block *shm.Pid1Block, traceeBlock *shm.TraceeBlock, traceeCgroupFd, configFd *os.File) pid1Files {
	f := pid1Files{
		Pid1Block:      pid1Block.File(),
		TraceeBlock:    traceeBlock.File(),
		TraceeCgroupFd: traceeCgroupFd,
		Config:         configFd,
		Stdin:          fileOrDefault(req.Opts.Stdin, os.O_RDONLY),
		Stdout:         fileOrDefault(req.Opts.Stdout, os.O_WRONLY),
		Stderr:         fileOrDefault(req.Opts.Stderr, os.O_WRONLY),
	}
	if req.Executable.IsFD() {
		f.Executable = os.NewFile(uintptr(req.Executable.FD.Take()), "boxd-executable")
	}
	if req.Opts.SeccompFd != nil {
		f.SeccompFd = os.NewFile(uintptr(req.Opts.SeccompFd.Take()), "boxd-seccomp")
	}
	return f
}

// fileOrDefault wraps an owned stdio FD, or opens /dev/null with flag
// (read-only for stdin, write-only for stdout/stderr) when the client
// didn't supply one, so an unset stream never reaches the supervisor's
// own stdio. A failed open yields nil, which leaves that slot closed in
// pid1.
func fileOrDefault(f *domain.FD, flag int) *os.File {
	if f != nil {
		return os.NewFile(uintptr(f.Take()), "boxd-stdio")
	}
	null, err := os.OpenFile(os.DevNull, flag, 0)
	if err != nil {
		return nil
	}
	return null
}

// closeParentCopies closes the supervisor's copies of the borrowed
// stdio/executable/seccomp descriptors, and of the /dev/null
// placeholders opened for unset streams, once pid1 has its own dup from
// exec; it never closes the shared-memory memfds, which the caller
// still needs.
func closeParentCopies(f pid1Files) {
	for _, file := range []*os.File{f.Stdin, f.Stdout, f.Stderr} {
		if file != os.Stdin && file != os.Stdout && file != os.Stderr {
			_ = file.Close()
		}
	}
	if f.TraceeCgroupFd != nil {
		_ = f.TraceeCgroupFd.Close()
	}
	if f.Config != nil {
		_ = f.Config.Close()
	}
	if f.Executable != nil {
		_ = f.Executable.Close()
	}
	if f.SeccompFd != nil {
		_ = f.SeccompFd.Close()
	}
}

// composeResult reads pid1's (and, if pid1 reported one, the tracee's)
// report plus the final cgroup accounting into the Result the client
// receives (§4.5 step 9). Priority matches §4.6 step 10 / §4.8: a
// tracee-side error (pid1 exits 1 without writing its own block when the
// tracee already reported one) outranks a pid1-side error, which
// outranks a clean pid1 Si, which outranks the premature-death diagnosis
// used when pid1 died without writing anything at all, or when it wrote
// a clean Si it only forwarded from a tracee that never reached
// execveat (no recorded exec-start time).
func composeResult(pid1Block *shm.Pid1Block, traceeBlock *shm.TraceeBlock, leaf *cgroupLeaf, pid1Si domain.Si) domain.Result {
	if desc, hasTraceeError := traceeBlock.Read(); hasTraceeError {
		return &domain.ErrorResult{Description: result.Tracee(desc)}
	}

	outcome, hasError, wrote := pid1Block.Read()
	if !wrote {
		return &domain.ErrorResult{Description: result.PrematureDeath(pid1Si)}
	}
	if hasError {
		return &domain.ErrorResult{Description: outcome.Error}
	}

	var runtime time.Duration
	execStart, baseUser, baseSys, startOk := pid1Block.ReadExecStart()
	waitidAt, waitOk := pid1Block.ReadWaitidTime()
	if startOk && waitOk {
		runtime = waitidAt.Sub(execStart)
	}

	// pid1 forwards the tracee's own Si verbatim even when the tracee
	// was killed before ever reaching execveat (e.g. a cgroup memory
	// limit of 0): a clean-looking Si here with no recorded exec-start
	// time means there was never a tracee to have an outcome, and this
	// is really a premature death, diagnosed off the forwarded Si
	// rather than the supervisor's own waitid on pid1 (which only ever
	// sees pid1 exit 0 after forwarding).
	if !startOk {
		return &domain.ErrorResult{Description: result.PrematureDeath(outcome.Si)}
	}

	cg := domain.CgroupStats{}
	if userUsec, sysUsec, err := leaf.CPUStat(); err == nil {
		cg.CPUTime = domain.CPUTime{
			UserUsec:   subtractFloor(userUsec, baseUser),
			SystemUsec: subtractFloor(sysUsec, baseSys),
		}
	}
	if peak, err := leaf.PeakMemory(); err == nil {
		cg.PeakMemoryBytes = peak
	}
	if cur, err := leaf.readUint("memory.current"); err == nil {
		cg.CurrentMemoryBytes = cur
	}
	if oom, err := leaf.OOMKillCount(); err == nil {
		cg.OOMKillCount = oom
	}

	return &domain.OkResult{Si: outcome.Si, Runtime: runtime, Cgroup: cg}
}

func subtractFloor(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
