package pid1

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/boxd/boxd/domain"
)

// waitidAll reaps the next exited child in any state. It mirrors
// supervisor's own raw waitid(2) call over a single pidfd, but here
// over P_ALL since pid1 has to drain every child until ECHILD (§4.6
// step 9), not just wait for one known pid, and needs si_pid back to
// tell which child it just reaped.
func waitidAll() (domain.Si, int, error) {
	var info [128]byte

	_, _, errno := unix.Syscall6(
		unix.SYS_WAITID,
		uintptr(unix.P_ALL),
		0,
		uintptr(unsafe.Pointer(&info[0])),
		uintptr(unix.WEXITED|unix.WALL),
		0, 0,
	)
	if errno != 0 {
		return domain.Si{}, 0, errno
	}

	code := int32(le32(info[8:12]))
	pid := int32(le32(info[16:20]))
	status := int32(le32(info[24:28]))
	return domain.Si{Code: code, Status: status}, int(pid), nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
