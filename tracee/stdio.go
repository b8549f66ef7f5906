package tracee

import (
	"golang.org/x/sys/unix"

	"github.com/boxd/boxd/reexec"
)

// dupStdio duplicates the stdio fds the supervisor borrowed (or the
// /dev/null placeholders it opened for unset streams) onto the
// canonical 0/1/2 (§4.7 step 1).
func dupStdio() error {
	src := [3]int{reexec.TraceeFDStdin, reexec.TraceeFDStdout, reexec.TraceeFDStderr}
	for target, fd := range src {
		if err := unix.Dup3(fd, target, 0); err != nil {
			return err
		}
	}
	return nil
}
