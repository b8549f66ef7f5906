package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/boxd/boxd/domain"
	"github.com/boxd/boxd/reexec"
)

// pid1CloneFlags are the namespaces every pid1 (and so every tracee it
// spawns) gets, unconditionally (§4.5 step 6). CLONE_PIDFD is not among
// them: os/exec does not hand back a pidfd from the clone it performs,
// so the supervisor opens one with pidfd_open(2) after Start (pidfdOf).
const pid1CloneFlags = unix.CLONE_NEWUSER |
	unix.CLONE_NEWNS |
	unix.CLONE_NEWPID |
	unix.CLONE_NEWNET |
	unix.CLONE_NEWIPC |
	unix.CLONE_NEWUTS |
	unix.CLONE_NEWTIME

// pid1Files are the descriptors pid1 expects at fixed ExtraFiles
// indices; reexec.ExtraFileFD(i) gives the fd number each lands at.
// TraceeCgroupFd is the directory fd of the tracee's own cgroup leaf,
// which the supervisor creates up front (§4.5 step 5) so pid1 can clone
// the tracee directly into it (§4.6 step 7) without needing write
// access to cgroup.subtree_control itself.
type pid1Files struct {
	Pid1Block      *os.File
	TraceeBlock    *os.File
	TraceeCgroupFd *os.File
	Config         *os.File // read end of the config pipe (wire-encoded request)
	Stdin          *os.File
	Stdout         *os.File
	Stderr         *os.File
	Executable     *os.File // nil when the executable selector is a path
	SeccompFd      *os.File // nil when no seccomp program was given
}

// spawnPid1 starts the pid1 process per §4.5 step 6: fresh namespaces,
// the per-request cgroup assigned at clone time via CgroupFD (Go's
// idiomatic equivalent of clone3's CLONE_INTO_CGROUP), and the
// configured uid/gid mapping written by the kernel as part of the
// clone rather than by pid1 itself afterward.
func spawnPid1(leaf *cgroupLeaf, user domain.UserNamespace, files pid1Files) (*exec.Cmd, error) {
	extra := []*os.File{files.Pid1Block, files.TraceeBlock, files.TraceeCgroupFd, files.Config, files.Stdin, files.Stdout, files.Stderr}
	if files.Executable != nil {
		extra = append(extra, files.Executable)
	}
	if files.SeccompFd != nil {
		extra = append(extra, files.SeccompFd)
	}

	cmd := reexec.Command(reexec.SubcommandPid1, extra...)

	cgFd, err := unix.Open(leaf.Path(), unix.O_RDONLY|unix.O_DIRECTORY, 0)
	if err != nil {
		return nil, fmt.Errorf("open cgroup leaf for clone: %w", err)
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags:   pid1CloneFlags,
		UseCgroupFD:  true,
		CgroupFD:     cgFd,
		UidMappings:  []syscall.SysProcIDMap{insideOutsideMap(user.InsideUID, os.Getuid())},
		GidMappings:  []syscall.SysProcIDMap{insideOutsideMap(user.InsideGID, os.Getgid())},
		GidMappingsEnableSetgroups: false,
	}

	if err := cmd.Start(); err != nil {
		unix.Close(cgFd)
		return nil, err
	}
	unix.Close(cgFd)
	return cmd, nil
}

// insideOutsideMap builds the single-entry id map §4.6 step 2 describes
// ("one entry inside_uid outside_uid 1"); a nil inside id defaults to
// the outside identity, matching §3.1's "default = outside identity".
func insideOutsideMap(inside *uint32, outsideID int) syscall.SysProcIDMap {
	id := outsideID
	if inside != nil {
		id = int(*inside)
	}
	return syscall.SysProcIDMap{ContainerID: id, HostID: outsideID, Size: 1}
}

// pidfdOf opens a pidfd for an already-started process (§4.3 step 4 /
// §4.5 step 7 equivalent: "Supervisor retains pid1's pidfd").
func pidfdOf(pid int) (int, error) {
	fd, err := unix.PidfdOpen(pid, 0)
	if err != nil {
		return -1, fmt.Errorf("pidfd_open: %w", err)
	}
	return fd, nil
}
