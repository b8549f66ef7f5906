// Package tracee implements the C7 stub: the process that finally
// execveat()s the caller's target program, running inside the
// namespaces and cgroup leaf pid1 placed it in.
//
// argv/env ride across the pid1->tracee re-exec hop as this process's
// own os.Args/os.Environ (reexec.CommandWithArgv), not through a
// second wire-encoded channel — pid1 prepends a two-character hex fd
// mask token and a "--" separator ahead of the target's real argv, the
// one piece of side-channel metadata (is an executable/seccomp fd
// present) that scheme can't carry on its own.
package tracee

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/boxd/boxd/reexec"
	"github.com/boxd/boxd/seccomp"
	"github.com/boxd/boxd/shm"
	"github.com/boxd/boxd/wire"
)

// Run is cmd/boxd-supervisor's __tracee__ entrypoint. stub is
// os.Args[2:]; env is os.Environ(). It never returns.
func Run(stub, env []string) {
	mask, argv, err := parseStub(stub)
	if err != nil {
		fail(err.Error())
	}

	if err := dupStdio(); err != nil {
		fail(fmt.Sprintf("dup stdio - %s", err))
	}

	if err := sanityCheckVectors(argv, env); err != nil {
		fail(err.Error())
	}

	pid1Block, err := shm.NewPid1BlockFromFD(reexec.TraceeFDPid1Block)
	if err != nil {
		fail(fmt.Sprintf("map pid1 block - %s", err))
	}
	defer pid1Block.Close()

	userStart, sysStart, err := selfCPUStat()
	if err != nil {
		fail(fmt.Sprintf("read cpu.stat baseline - %s", err))
	}
	pid1Block.WriteExecStart(time.Now(), userStart, sysStart)

	hasExecFD := mask&wire.FDMaskExecutable != 0
	if mask&wire.FDMaskSeccomp != 0 {
		if err := seccomp.ApplyFromFD(seccompFDNum(hasExecFD)); err != nil {
			fail(fmt.Sprintf("load seccomp filter - %s", err))
		}
	} else {
		if err := seccomp.ApplyDefault(); err != nil {
			fail(fmt.Sprintf("load default seccomp filter - %s", err))
		}
	}

	var execErr error
	if hasExecFD {
		execErr = execveatFD(reexec.TraceeFDOptionalBase, argv, env)
	} else {
		execErr = unix.Exec(argv[0], argv, env)
	}
	fail(fmt.Sprintf("execveat - %s", execErr))
}

// seccompFDNum locates the seccomp program fd in the tracee's own
// ExtraFiles, just after the executable fd if one is present.
func seccompFDNum(hasExecFD bool) int {
	base := reexec.TraceeFDOptionalBase
	if hasExecFD {
		base++
	}
	return base
}

// fail records desc in the tracee's own shared block and exits 1 (§4.7
// step 5: "record the error in the tracee shared block and _exit(1)").
// Unlike pid1's own error path, the description is recorded raw and
// unprefixed — the supervisor applies "tracee: " when it reads this
// block.
func fail(desc string) {
	if tb, err := shm.NewTraceeBlockFromFD(reexec.TraceeFDTraceeBlock); err == nil {
		tb.WriteError(desc)
	}
	os.Exit(1)
}
