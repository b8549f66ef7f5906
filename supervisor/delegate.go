package supervisor

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// cgroupV2MountPoint is where boxd expects the unified hierarchy to be
// mounted; hosts that mount it elsewhere are out of scope (§6 "Host
// requirements").
const cgroupV2MountPoint = "/sys/fs/cgroup"

// ownCgroupPath reads /proc/self/cgroup and returns this process's
// cgroup v2 path (§4.3 step c). On the unified hierarchy there is
// exactly one line, of the form "0::/path".
func ownCgroupPath() (string, error) {
	f, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		if parts[0] == "0" && parts[1] == "" {
			return parts[2], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no cgroup v2 entry in /proc/self/cgroup")
}

// topmostOwnedCgroup walks upward from path (relative to
// cgroupV2MountPoint) to the topmost ancestor directory this process's
// EUID can write to (§4.3 step d).
func topmostOwnedCgroup(path string) (string, error) {
	euid := os.Geteuid()
	cur := filepath.Join(cgroupV2MountPoint, path)
	best := cur

	for {
		info, err := os.Stat(cur)
		if err != nil {
			break
		}
		if stat, ok := info.Sys().(*syscall.Stat_t); ok && int(stat.Uid) != euid {
			break
		}
		if unix.Access(cur, unix.W_OK) != nil {
			break
		}
		best = cur
		if cur == cgroupV2MountPoint {
			break
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}
	return best, nil
}

// delegatedCgroup is the result of §4.3 steps d-f: a freshly created
// subcgroup this process now lives in, plus its "others" sibling that
// absorbed anything that used to share the parent cgroup.
type delegatedCgroup struct {
	root *cgroupLeaf
}

// createDelegatedSubtree implements §4.3 steps e-f: pick a random name,
// create it (retrying on EEXIST), move self and siblings apart, then
// enable the controllers boxd needs for per-request leaves.
func createDelegatedSubtree(parentPath string) (*delegatedCgroup, error) {
	var leaf *cgroupLeaf
	var othersName string
	for attempt := 0; attempt < 8; attempt++ {
		name, err := randomHexName()
		if err != nil {
			return nil, err
		}
		l, err := newCgroupLeaf(parentPath, name)
		if err == nil {
			leaf = l
			othersName = "others-" + name
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
	if leaf == nil {
		return nil, fmt.Errorf("delegate: could not allocate a unique subcgroup name")
	}

	if err := moveSiblingsToOthers(parentPath, leaf.Path(), othersName); err != nil {
		return nil, err
	}

	parent := &cgroupLeaf{path: parentPath}
	if err := parent.AddPid(os.Getpid()); err != nil {
		return nil, err
	}
	moved := &cgroupLeaf{path: leaf.Path()}
	if err := moved.AddSelf(); err != nil {
		return nil, err
	}
	if err := moved.EnableControllers("pids", "memory", "cpu"); err != nil {
		return nil, err
	}

	return &delegatedCgroup{root: moved}, nil
}

// moveSiblingsToOthers takes an flock on the parent's cgroup.procs
// (§4.3 step f: "take a flock ... first to serialize") then relocates
// every pid the new subcgroup isn't itself into an "others" sibling so
// the new subtree starts out containing only this process.
func moveSiblingsToOthers(parentPath, newLeafPath, othersName string) error {
	procsPath := filepath.Join(parentPath, "cgroup.procs")
	fd, err := unix.Open(procsPath, unix.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return err
	}
	defer unix.Flock(fd, unix.LOCK_UN)

	data, err := os.ReadFile(procsPath)
	if err != nil {
		return err
	}
	pids := strings.Fields(string(data))
	if len(pids) == 0 {
		return nil
	}

	others, err := newCgroupLeaf(parentPath, othersName)
	if err != nil {
		return err
	}
	self := os.Getpid()
	for _, p := range pids {
		if p == itoa(self) {
			continue
		}
		_ = others.writeFile("cgroup.procs", p)
	}
	return nil
}

func randomHexName() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func itoa(v int) string {
	return fmt.Sprintf("%d", v)
}

// systemdRunFallbackArgs builds the argv for §4.3 step g's fallback when
// this process cannot create its own delegated subtree (EACCES):
// re-exec under a user-scoped, delegated systemd transient scope.
func systemdRunFallbackArgs(selfArgs []string) []string {
	args := []string{
		"systemd-run", "--user", "--scope",
		"--property=Delegate=yes", "--collect", "--quiet", "--",
	}
	return append(args, selfArgs...)
}
