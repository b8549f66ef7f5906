package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	cgroups "github.com/opencontainers/cgroups"

	"github.com/boxd/boxd/domain"
)

// cgroupLeaf is a single cgroup v2 directory the supervisor owns the
// lifetime of: created before clone, torn down after the request
// completes (§4.5 steps 5 and 10).
type cgroupLeaf struct {
	path string
}

// newCgroupLeaf creates name under parent and returns a handle to it. The
// caller is responsible for enabling any controllers it needs in parent's
// cgroup.subtree_control before calling this (§3.2 invariant).
func newCgroupLeaf(parent, name string) (*cgroupLeaf, error) {
	path := filepath.Join(parent, name)
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir cgroup leaf: %w", err)
	}
	return &cgroupLeaf{path: path}, nil
}

func (l *cgroupLeaf) Path() string { return l.path }

// EnableControllers writes "+ctrl" tokens to cgroup.subtree_control so
// leaves created under this one can use them.
func (l *cgroupLeaf) EnableControllers(names ...string) error {
	toks := make([]string, len(names))
	for i, n := range names {
		toks[i] = "+" + n
	}
	return l.writeFile("cgroup.subtree_control", strings.Join(toks, " "))
}

// AddSelf moves the calling process into this leaf's cgroup.procs.
func (l *cgroupLeaf) AddSelf() error {
	return l.writeFile("cgroup.procs", strconv.Itoa(os.Getpid()))
}

// AddPid moves pid into this leaf's cgroup.procs (§4.3 step 3f: moving a
// forked child before it execs).
func (l *cgroupLeaf) AddPid(pid int) error {
	return l.writeFile("cgroup.procs", strconv.Itoa(pid))
}

// ApplyLimits writes the configured pids/memory/cpu limits (§4.5 step 5).
func (l *cgroupLeaf) ApplyLimits(c domain.Cgroup) error {
	if c.ProcessNumLimit != nil {
		if err := l.writeFile("pids.max", strconv.FormatUint(uint64(*c.ProcessNumLimit), 10)); err != nil {
			return err
		}
	}
	if c.MemoryLimitInBytes != nil {
		if err := l.writeFile("memory.max", strconv.FormatUint(*c.MemoryLimitInBytes, 10)); err != nil {
			return err
		}
	}
	if c.SwapLimitInBytes != nil {
		if err := l.writeFile("memory.swap.max", strconv.FormatUint(*c.SwapLimitInBytes, 10)); err != nil {
			return err
		}
	}
	if c.CPUMaxBandwidth != nil {
		v := fmt.Sprintf("%d %d", c.CPUMaxBandwidth.MaxUsec, c.CPUMaxBandwidth.PeriodUsec)
		if err := l.writeFile("cpu.max", v); err != nil {
			return err
		}
	}
	return nil
}

// Kill writes cgroup.kill=1, the cgroup v2 way to SIGKILL every process
// in the subtree atomically (§4.5 step 8, §5 "Timeouts").
func (l *cgroupLeaf) Kill() error {
	return l.writeFile("cgroup.kill", "1")
}

// CPUStat returns the cumulative user/system usec counters from
// cpu.stat, used both as the pre-exec baseline and the final reading
// (§4.5 step 9).
func (l *cgroupLeaf) CPUStat() (userUsec, systemUsec uint64, err error) {
	data, err := os.ReadFile(filepath.Join(l.path, "cpu.stat"))
	if err != nil {
		return 0, 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		switch fields[0] {
		case "user_usec":
			userUsec, _ = strconv.ParseUint(fields[1], 10, 64)
		case "system_usec":
			systemUsec, _ = strconv.ParseUint(fields[1], 10, 64)
		}
	}
	return userUsec, systemUsec, nil
}

// PeakMemory reads memory.peak, falling back to memory.current on
// kernels old enough not to have memory.peak (added in Linux 5.19).
func (l *cgroupLeaf) PeakMemory() (uint64, error) {
	if v, err := l.readUint("memory.peak"); err == nil {
		return v, nil
	}
	return l.readUint("memory.current")
}

// OOMKillCount reads the oom_kill counter out of memory.events.
func (l *cgroupLeaf) OOMKillCount() (uint64, error) {
	data, err := os.ReadFile(filepath.Join(l.path, "memory.events"))
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "oom_kill" {
			return strconv.ParseUint(fields[1], 10, 64)
		}
	}
	return 0, nil
}

// Empty reports whether cgroup.procs is empty, used by the teardown
// drain loop (§4.5 step 10: "wait for them to be empty first").
func (l *cgroupLeaf) Empty() (bool, error) {
	data, err := os.ReadFile(filepath.Join(l.path, "cgroup.procs"))
	if err != nil {
		return false, err
	}
	return len(strings.TrimSpace(string(data))) == 0, nil
}

// Remove rmdir's the leaf. Only valid once Empty() is true.
func (l *cgroupLeaf) Remove() error {
	return os.Remove(l.path)
}

func (l *cgroupLeaf) writeFile(name, value string) error {
	return os.WriteFile(filepath.Join(l.path, name), []byte(value), 0o644)
}

func (l *cgroupLeaf) readUint(name string) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(l.path, name))
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}

// requireUnifiedHierarchy is checked once at startup (§6 "Host
// requirements": "Linux with cgroups v2 unified hierarchy").
func requireUnifiedHierarchy() error {
	if !cgroups.IsCgroup2UnifiedMode() {
		return fmt.Errorf("cgroups v2 unified hierarchy not available")
	}
	return nil
}
