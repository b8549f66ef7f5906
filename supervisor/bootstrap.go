package supervisor

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// BootstrapFiles are the descriptors client.spawnSupervisor's fork hands
// down to the __bootstrap__ subcommand, in the fixed order ExtraFiles
// places them (§4.3 step 3).
type BootstrapFiles struct {
	ErrorFd  *os.File // supervisor_error_fd, a memfd
	ClientSock *os.File // the supervisor-side socketpair end
	ImageFd  *os.File // memfd holding the supervisor executable image
}

// Bootstrap runs §4.3 steps 3a-3h in the freshly re-exec'd child: wire
// the error fd to stderr, position the client socket fd, delegate a
// cgroup subtree (or fall back to systemd-run), then execveat the
// image. On success it never returns; on failure it writes a
// "sandbox: " prefixed diagnostic to ErrorFd and exits 1, matching
// §4.3's "Fatal failures in the child" rule.
func Bootstrap(f BootstrapFiles) {
	if err := runBootstrap(f); err != nil {
		reportFatal(f.ErrorFd, err)
		os.Exit(1)
	}
	// runBootstrap only returns on success via execve, which never
	// returns to Go code; reaching here is a bug.
	panic("supervisor: bootstrap execve returned without error")
}

func runBootstrap(f BootstrapFiles) error {
	if err := dupOverStderr(f.ErrorFd); err != nil {
		return fmt.Errorf("dup error fd over stderr: %w", err)
	}

	sockFd, err := ensureFdAtLeast3NoCloexec(f.ClientSock)
	if err != nil {
		return fmt.Errorf("position client socket fd: %w", err)
	}

	if err := requireUnifiedHierarchy(); err != nil {
		return err
	}

	ownPath, err := ownCgroupPath()
	if err != nil {
		return fmt.Errorf("read own cgroup: %w", err)
	}
	topmost, err := topmostOwnedCgroup(ownPath)
	if err != nil {
		return fmt.Errorf("find topmost owned cgroup: %w", err)
	}

	if _, err := createDelegatedSubtree(topmost); err != nil {
		if errors.Is(err, os.ErrPermission) {
			return execSystemdRunFallback(f.ImageFd, sockFd)
		}
		return fmt.Errorf("create delegated cgroup subtree: %w", err)
	}

	return execImage(f.ImageFd, sockFd)
}

// dupOverStderr duplicates fd onto fd 2, clearing CLOEXEC on the result
// (§4.3 step 3a).
func dupOverStderr(f *os.File) error {
	if err := unix.Dup2(int(f.Fd()), 2); err != nil {
		return err
	}
	return unix.SetNonblock(2, false)
}

// ensureFdAtLeast3NoCloexec guarantees the client socket lands at fd >=
// 3 (never colliding with 0/1/2) and isn't CLOEXEC, since the process
// image we execveat next needs it open (§4.3 step 3b).
func ensureFdAtLeast3NoCloexec(f *os.File) (int, error) {
	fd := int(f.Fd())
	if fd < 3 {
		newFd, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD, 3)
		if err != nil {
			return 0, err
		}
		fd = newFd
	}
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return 0, err
	}
	if flags&unix.FD_CLOEXEC != 0 {
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags&^unix.FD_CLOEXEC); err != nil {
			return 0, err
		}
	}
	return fd, nil
}

// execImage execveat's the supervisor image stored in imageFd, passing
// sockFd's number as argv[1] per §6's invocation contract. It clears
// CLOEXEC on imageFd first (§4.3 step 3h: "no CLOEXEC on the memfd for
// this step") and execs via /proc/self/fd/N, the standard way to
// execve() an anonymous memfd without relying on execveat(2) directly.
func execImage(imageFd *os.File, sockFd int) error {
	fd := int(imageFd.Fd())
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	if err != nil {
		return err
	}
	if flags&unix.FD_CLOEXEC != 0 {
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, flags&^unix.FD_CLOEXEC); err != nil {
			return err
		}
	}

	argv := []string{"supervisor", strconv.Itoa(sockFd)}
	env := supervisorEnv()
	path := fmt.Sprintf("/proc/self/fd/%d", fd)
	return unix.Exec(path, argv, env)
}

// execSystemdRunFallback re-execs the supervisor image, this time under
// a delegated systemd --user scope (§4.3 step 3g).
func execSystemdRunFallback(imageFd *os.File, sockFd int) error {
	fd := int(imageFd.Fd())
	argv := systemdRunFallbackArgs([]string{fmt.Sprintf("/proc/self/fd/%d", fd), strconv.Itoa(sockFd)})
	path, err := lookupSystemdRun()
	if err != nil {
		return err
	}
	return unix.Exec(path, argv, supervisorEnv())
}

func lookupSystemdRun() (string, error) {
	for _, dir := range []string{"/usr/bin", "/bin", "/usr/local/bin"} {
		p := dir + "/systemd-run"
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("systemd-run not found")
}

// supervisorEnv implements §6 "Environment: only XDG_RUNTIME_DIR is
// honored".
func supervisorEnv() []string {
	if v, ok := os.LookupEnv("XDG_RUNTIME_DIR"); ok {
		return []string{"XDG_RUNTIME_DIR=" + v}
	}
	return nil
}

// reportFatal writes a "sandbox: "-prefixed diagnostic to errFd, the
// memfd the client reads back as supervisor_error_fd.
func reportFatal(errFd *os.File, err error) {
	msg := "sandbox: " + err.Error() + "\n"
	_, _ = errFd.WriteString(msg)
}
