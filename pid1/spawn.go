package pid1

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/boxd/boxd/reexec"
	"github.com/boxd/boxd/wire"
)

// traceeFiles are the descriptors handed to the tracee via ExtraFiles,
// landing at the fixed reexec.TraceeFD* layout. The tracee maps both
// shared pages itself: Pid1Block to record its own exec-start
// timestamp and cpu.stat baseline, TraceeBlock as its error channel.
type traceeFiles struct {
	Pid1Block   *os.File
	TraceeBlock *os.File
	Stdin       *os.File
	Stdout      *os.File
	Stderr      *os.File
	Executable  *os.File // nil when the executable selector is a path
	Seccomp     *os.File // nil when no seccomp program was given
}

// buildTraceeFiles wraps pid1's own copies of the fixed stdio fds (and,
// when present, the executable/seccomp fds) so they can ride along in
// the tracee's ExtraFiles. pid1Block/traceeBlock are the pages the
// caller already mapped for itself; the same memfds are handed down
// again here so the tracee can map them independently.
func buildTraceeFiles(cfg *config, pid1Block, traceeBlock *os.File) traceeFiles {
	f := traceeFiles{
		Pid1Block:   pid1Block,
		TraceeBlock: traceeBlock,
		Stdin:       os.NewFile(uintptr(reexec.Pid1FDStdin), "boxd-stdin"),
		Stdout:      os.NewFile(uintptr(reexec.Pid1FDStdout), "boxd-stdout"),
		Stderr:      os.NewFile(uintptr(reexec.Pid1FDStderr), "boxd-stderr"),
	}
	if cfg.executable.IsFD() {
		f.Executable = os.NewFile(uintptr(cfg.executable.FD.Int()), "boxd-executable")
	}
	if cfg.fdMask&wire.FDMaskSeccomp != 0 {
		f.Seccomp = os.NewFile(uintptr(cfg.seccompFDNum()), "boxd-seccomp")
	}
	return f
}

// spawnTracee clones the tracee into the cgroup leaf the supervisor
// already opened for it (§4.6 step 7: "clone3 with the tracee cgroup
// fd, exit_signal = SIGCHLD"), passing the target's own argv/env
// through the re-exec hop rather than a second wire-encoded channel. A
// two-character hex fd mask token and a "--" separator are prepended to
// the target argv so the tracee can tell whether an executable/seccomp
// fd rode along, the one bit of metadata that scheme can't carry.
func spawnTracee(cfg *config, f traceeFiles) (*exec.Cmd, error) {
	extra := []*os.File{f.Pid1Block, f.TraceeBlock, f.Stdin, f.Stdout, f.Stderr}
	if f.Executable != nil {
		extra = append(extra, f.Executable)
	}
	if f.Seccomp != nil {
		extra = append(extra, f.Seccomp)
	}

	stub := append([]string{fmt.Sprintf("%02x", cfg.fdMask), "--"}, cfg.argv...)
	cmd := reexec.CommandWithArgv(reexec.SubcommandTracee, stub, cfg.env, extra...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		UseCgroupFD: true,
		CgroupFD:    reexec.Pid1FDTraceeCgroup,
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("clone3: %w", err)
	}
	return cmd, nil
}

// closeAfterSpawn closes pid1's own copies of the descriptors just
// handed to the tracee (§4.6 step 8: "close unneeded FDs"), now that
// the tracee has its own independent copies from the clone. The tracee
// cgroup directory fd is closed too; pid1 only needed it to place the
// clone. Pid1Block/TraceeBlock are left open — pid1 still needs its
// own mapping of both to finish the reap/report sequence.
func closeAfterSpawn(f traceeFiles) {
	for _, file := range []*os.File{f.Stdin, f.Stdout, f.Stderr, f.Executable, f.Seccomp} {
		if file != nil {
			_ = file.Close()
		}
	}
	_ = os.NewFile(uintptr(reexec.Pid1FDTraceeCgroup), "boxd-tracee-cgroup").Close()
}
