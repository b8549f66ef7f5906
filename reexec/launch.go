// Package reexec builds *exec.Cmd values that relaunch the running binary
// itself against /proc/self/exe, the way cmd/boxd-supervisor's own argv
// dispatch expects: argv[1] selects which of the supervisor/pid1/tracee
// entrypoints to run, and any descriptors the child needs ride in
// cmd.ExtraFiles rather than being looked up by name or path.
//
// This generalizes the self-reexec trick the pack's container-tooling
// code uses to hop a single binary across namespace/privilege
// boundaries by re-invoking itself with a different argv[0] subcommand
// and a socketpair end in ExtraFiles.
package reexec

import (
	"fmt"
	"os"
	"os/exec"
)

// Subcommand argv[1] values dispatched by cmd/boxd-supervisor/main.go.
const (
	// SubcommandBootstrap runs the C3 delegated-cgroup setup (§4.3 steps
	// 3c-3g) and then execveat()s the memfd-stored supervisor image;
	// it never returns on success.
	SubcommandBootstrap = "__bootstrap__"
	SubcommandPid1       = "__pid1__"
	SubcommandTracee     = "__tracee__"
)

// Self is the path re-exec always targets. /proc/self/exe resolves to
// the currently running binary's inode even if the original path was
// deleted or replaced, which is what makes memfd-based invocation work.
const Self = "/proc/self/exe"

// Command builds an *exec.Cmd that re-execs the running binary with
// subcommand as argv[1], handing extraFiles to the child starting at fd
// 3. Callers still need to set SysProcAttr (namespaces, cgroup, uid/gid
// mappings) before Start().
func Command(subcommand string, extraFiles ...*os.File) *exec.Cmd {
	return &exec.Cmd{
		Path:       Self,
		Args:       []string{Self, subcommand},
		ExtraFiles: extraFiles,
	}
}

// CommandWithArgv is Command plus a way to smuggle the eventual target's
// own argv/env across the re-exec hop: pid1 spawns the tracee stub this
// way, appending the tracee's real argv after subcommand and setting env
// directly, so __tracee__'s os.Args[2:]/os.Environ() already are the
// values C7 execveat()s with, no separate channel needed for them.
func CommandWithArgv(subcommand string, argv, env []string, extraFiles ...*os.File) *exec.Cmd {
	return &exec.Cmd{
		Path:       Self,
		Args:       append([]string{Self, subcommand}, argv...),
		Env:        env,
		ExtraFiles: extraFiles,
	}
}

// ExtraFileFD returns the fd number a file passed at extraFiles[index]
// will have inside the child, given os/exec's fixed "starts at 3,
// in order" placement.
func ExtraFileFD(index int) int {
	return 3 + index
}

// Bootstrap ExtraFiles layout: the fixed prefix client.spawnSupervisor
// places before the __bootstrap__ re-exec (§4.3 step 3).
const (
	BootstrapFDError      = 3 // supervisor_error_fd, a memfd
	BootstrapFDClientSock = 4 // the supervisor-side socketpair end
	BootstrapFDImage      = 5 // memfd holding the supervisor executable image
)

// Pid1 ExtraFiles layout: the fixed prefix every pid1 invocation
// carries, in the order supervisor.spawnPid1 places them. Executable
// and seccomp are appended after these only when present, so pid1
// computes their fd numbers itself once it has decoded its config body's
// fd mask (mirrors how the supervisor's own request decoder locates
// mask-selected ancillary FDs).
const (
	Pid1FDBlock        = 3 // shm.Pid1Block memfd
	Pid1FDTraceeBlock  = 4 // shm.TraceeBlock memfd
	Pid1FDTraceeCgroup = 5 // tracee cgroup leaf directory fd
	Pid1FDConfig       = 6 // read end of the config pipe (wire-encoded request)
	Pid1FDStdin        = 7
	Pid1FDStdout       = 8
	Pid1FDStderr       = 9
	Pid1FDOptionalBase = 10 // executable fd (if present), then seccomp fd (if present)
)

// Tracee ExtraFiles layout: the fixed prefix pid1.spawnTracee places,
// with the same mask-driven optional tail as Pid1FDOptionalBase. The
// tracee needs both shared pages: Pid1Block to record its exec-start
// time and cpu.stat baseline (read back by pid1/the supervisor),
// TraceeBlock as its own write-once error channel.
const (
	TraceeFDPid1Block    = 3 // shm.Pid1Block memfd
	TraceeFDTraceeBlock  = 4 // shm.TraceeBlock memfd
	TraceeFDStdin        = 5
	TraceeFDStdout       = 6
	TraceeFDStderr       = 7
	TraceeFDOptionalBase = 8 // executable fd (if present), then seccomp fd (if present)
)

// ParseSubcommand inspects argv (typically os.Args) and reports which
// entrypoint cmd/boxd-supervisor should run. argv[1] ==
// SubcommandBootstrap, SubcommandPid1 or SubcommandTracee selects those;
// anything else is left to the
// caller to interpret (cmd/boxd-supervisor treats it as the listening
// socket fd number per spec.md §6).
func ParseSubcommand(argv []string) (subcommand string, ok bool) {
	if len(argv) < 2 {
		return "", false
	}
	switch argv[1] {
	case SubcommandBootstrap, SubcommandPid1, SubcommandTracee:
		return argv[1], true
	default:
		return "", false
	}
}

// UsageError formats the fatal diagnostic spec.md §6 mandates for a
// malformed invocation: "supervisor: Usage: ...".
func UsageError(argv0 string) string {
	return fmt.Sprintf("supervisor: Usage: %s <socket_fd>", argv0)
}
