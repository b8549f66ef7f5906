package pid1

import (
	"golang.org/x/sys/unix"

	"github.com/boxd/boxd/domain"
)

// applyPrlimit writes each configured limit via prlimit64(0, RLIMIT_*,
// &new, NULL) (§4.6 step 6). rlim_max is set equal to rlim_cur so the
// tracee can't raise its own limit back up after exec.
func applyPrlimit(p domain.Prlimit) error {
	limits := []struct {
		resource int
		value    *uint64
	}{
		{unix.RLIMIT_AS, p.AddressSpace},
		{unix.RLIMIT_CORE, p.CoreFileSize},
		{unix.RLIMIT_CPU, p.CPUTimeSeconds},
		{unix.RLIMIT_FSIZE, p.FileSize},
		{unix.RLIMIT_NOFILE, p.FDCount},
		{unix.RLIMIT_STACK, p.StackSize},
	}
	for _, l := range limits {
		if l.value == nil {
			continue
		}
		rlim := unix.Rlimit{Cur: *l.value, Max: *l.value}
		if err := unix.Prlimit(0, l.resource, &rlim, nil); err != nil {
			return err
		}
	}
	return nil
}
