// Package pid1 implements the C6 initializer: the first process inside
// the fresh namespaces the supervisor clones for every request. It
// assembles the mount namespace, applies prlimits, spawns the tracee
// into its own cgroup leaf, reaps until its namespace empties out, and
// reports the outcome back to the supervisor via the shared page it
// inherited (spec.md §4.6).
//
// User-namespace id mapping (§4.6 step 2: writing uid_map/gid_map/
// setgroups) is deliberately not done here — the supervisor's clone of
// pid1 already supplies UidMappings/GidMappings on its SysProcAttr, and
// the kernel applies those as part of the same clone the Go runtime
// performs, before this code ever runs.
package pid1

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/opencontainers/runc/libcontainer/system"

	"github.com/boxd/boxd/reexec"
	"github.com/boxd/boxd/result"
	"github.com/boxd/boxd/shm"
)

// Run is cmd/boxd-supervisor's __pid1__ entrypoint. It never returns.
func Run() {
	pid1Block, err := shm.NewPid1BlockFromFD(reexec.Pid1FDBlock)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pid1: map shared block: %s\n", err)
		os.Exit(1)
	}
	defer pid1Block.Close()

	if err := runPhases(pid1Block); err != nil {
		pid1Block.WriteError(result.Pid1(err.Error()))
		os.Exit(1)
	}
	os.Exit(0)
}

// runPhases runs §4.6 steps 1, 3-10 in order (step 2 is a no-op here,
// see the package doc). A returned error is always already formatted as
// "<operation> - <errno string>", ready for result.Pid1 to prefix.
func runPhases(pid1Block *shm.Pid1Block) error {
	// If the supervisor itself dies before the tracee is up and being
	// watched by its own deadline/kill machinery, this is the backstop
	// that keeps pid1 (and whatever it has spawned) from being silently
	// re-parented and orphaned.
	if err := system.SetParentDeathSignal(uintptr(unix.SIGKILL)); err != nil {
		return opErr("set parent death signal", err)
	}

	if _, err := unix.Setsid(); err != nil {
		return opErr("setsid", err)
	}

	neutralizeSanitizerSignals()

	cfg, err := readConfig()
	if err != nil {
		return opErr("read config", err)
	}

	if err := applyMounts(cfg); err != nil {
		return err
	}

	if err := applyPrlimit(cfg.opts.Prlimit); err != nil {
		return opErr("prlimit", err)
	}

	traceeBlock, err := shm.NewTraceeBlockFromFD(reexec.Pid1FDTraceeBlock)
	if err != nil {
		return opErr("map tracee block", err)
	}
	defer traceeBlock.Close()

	files := buildTraceeFiles(cfg, pid1Block.File(), traceeBlock.File())
	cmd, err := spawnTracee(cfg, files)
	if err != nil {
		return opErr("spawn tracee", err)
	}
	closeAfterSpawn(files)

	si, err := reapLoop(cmd.Process.Pid, pid1Block)
	if err != nil {
		return opErr("reap", err)
	}

	if _, hasErr := traceeBlock.Read(); hasErr {
		// The tracee already recorded its own failure in its own block;
		// propagate by exiting 1 without touching the pid1 block, so the
		// supervisor's result composition falls through to read the
		// tracee's report instead (§4.6 step 10).
		os.Exit(1)
	}

	pid1Block.WriteOk(si)
	return nil
}

func opErr(op string, err error) error {
	return errors.New(result.Operation(op, err))
}
