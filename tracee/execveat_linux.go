package tracee

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// execveatFD execs the program already open as fd via
// /proc/self/fd/N, the same way supervisor.execImage execs an
// anonymous memfd without a raw execveat(2) call: opening that path is
// equivalent to execveat(fd, "", ..., AT_EMPTY_PATH) (§4.7 step 5).
func execveatFD(fd int, argv, env []string) error {
	return unix.Exec(fmt.Sprintf("/proc/self/fd/%d", fd), argv, env)
}
