package supervisor

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/boxd/boxd/domain"
)

// waitidPidfd reaps the process behind pidfd via waitid(P_PIDFD, ...,
// WEXITED) (§4.5 step 9). x/sys/unix doesn't wrap P_PIDFD-flavored
// waitid with a typed siginfo_t, so this calls the syscall directly and
// decodes the si_code/si_status fields at their fixed glibc siginfo_t
// offsets (offset 8 and 24 in the _sigchld union, true on both amd64
// and arm64).
func waitidPidfd(pidfd int) (domain.Si, error) {
	var info [128]byte

	_, _, errno := unix.Syscall6(
		unix.SYS_WAITID,
		uintptr(unix.P_PIDFD),
		uintptr(pidfd),
		uintptr(unsafe.Pointer(&info[0])),
		uintptr(unix.WEXITED),
		0, 0,
	)
	if errno != 0 {
		return domain.Si{}, fmt.Errorf("waitid: %w", errno)
	}

	code := int32(le32(info[8:12]))
	status := int32(le32(info[24:28]))
	return domain.Si{Code: code, Status: status}, nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
