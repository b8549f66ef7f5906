package pid1

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/boxd/boxd/domain"
	"github.com/boxd/boxd/shm"
)

// reapLoop implements §4.6 step 9: waitid(P_ALL, WEXITED|__WALL) until
// ECHILD, recording the waitid timestamp and exit status the first
// time traceePid is reaped. Any other reap (there shouldn't be one
// under normal use, but a leaked grandchild could reparent to pid1
// before it exits) is drained and discarded.
func reapLoop(traceePid int, pid1Block *shm.Pid1Block) (domain.Si, error) {
	var traceeSi domain.Si
	found := false

	for {
		si, pid, err := waitidAll()
		if err != nil {
			if err == unix.ECHILD {
				break
			}
			return domain.Si{}, fmt.Errorf("waitid: %w", err)
		}
		if pid == traceePid && !found {
			pid1Block.WriteWaitidTime(time.Now())
			traceeSi = si
			found = true
		}
	}

	if !found {
		return domain.Si{}, fmt.Errorf("tracee pid %d never reaped", traceePid)
	}
	return traceeSi, nil
}
