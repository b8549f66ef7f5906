package tracee

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// cgroupV2MountPoint mirrors supervisor.cgroupV2MountPoint; the tracee
// has no cgroupLeaf handle of its own; it was placed directly into its
// leaf at clone time and reads cpu.stat from the inside.
const cgroupV2MountPoint = "/sys/fs/cgroup"

// selfCPUStat reads user_usec/system_usec out of this process's own
// cgroup v2 cpu.stat, the baseline WriteExecStart records (§4.7 step
// 3). The field parsing mirrors cgroupLeaf.CPUStat on the supervisor
// side; only the path discovery differs, since the tracee has to find
// its own cgroup rather than already holding a directory handle to it.
func selfCPUStat() (userUsec, systemUsec uint64, err error) {
	path, err := ownCgroupPath()
	if err != nil {
		return 0, 0, err
	}
	data, err := os.ReadFile(filepath.Join(cgroupV2MountPoint, path, "cpu.stat"))
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

// ownCgroupPath reads /proc/self/cgroup and returns this process's
// cgroup v2 path, the same "0::/path" parse supervisor.ownCgroupPath
// does for the delegated-subtree setup.
func ownCgroupPath() (string, error) {
	f, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.SplitN(scanner.Text(), ":", 3)
		if len(parts) == 3 && parts[0] == "0" && parts[1] == "" {
			return parts[2], nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("no cgroup v2 entry in /proc/self/cgroup")
}
