package supervisor

import (
	"time"

	"golang.org/x/sys/unix"
)

// cpuPollInterval is how often the wall-clock epoll loop wakes up to
// compare accumulated cgroup cpu.stat usage against cpuTimeLimit, since
// cgroups v2 has no equivalent of a cpu-time rlimit to delegate this to
// directly (§4.5 step 8, §5 "Timeouts": "cpu_time_limit is enforced by
// the supervisor polling cpu.stat").
const cpuPollInterval = 100 * time.Millisecond

// waitForDeadlineOrKill blocks until pidfd becomes readable (pid1 has
// exited and is reapable), killing the per-request cgroups first if the
// client signals cancellation on killFd, a wall-clock deadline passes,
// or polled cpu usage exceeds cpuTimeLimit. It always returns once
// pidfd is ready; the caller still does the actual waitid reap.
//
// Both sibling leaves are killed together: pid1Leaf holds pid1 itself
// and traceeLeaf holds the tracee (§4.5 step 5 creates them as
// siblings, not nested), so a cgroup.kill on only one of them would
// leave the other's process running.
func waitForDeadlineOrKill(pidfd, killFd int, timeLimit, cpuTimeLimit *time.Duration, pid1Leaf, traceeLeaf *cgroupLeaf) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		// Nothing better to do than busy-poll pidfd directly; this only
		// happens if the host is nearly out of file descriptors.
		waitPidfdOnly(pidfd)
		return
	}
	defer unix.Close(epfd)

	must := func(fd int, events uint32) {
		_ = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Events: events, Fd: int32(fd)})
	}
	must(pidfd, unix.EPOLLIN)
	must(killFd, unix.EPOLLIN)

	var deadlineFd, cpuFd int = -1, -1
	if timeLimit != nil {
		if fd, err := newOneShotTimerfd(*timeLimit); err == nil {
			deadlineFd = fd
			must(deadlineFd, unix.EPOLLIN)
			defer unix.Close(deadlineFd)
		}
	}
	if cpuTimeLimit != nil {
		if fd, err := newPeriodicTimerfd(cpuPollInterval); err == nil {
			cpuFd = fd
			must(cpuFd, unix.EPOLLIN)
			defer unix.Close(cpuFd)
		}
	}

	events := make([]unix.EpollEvent, 4)
	killed := false
	for {
		n, err := unix.EpollWait(epfd, events, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			switch fd {
			case pidfd:
				return
			case killFd:
				drainEventfd(killFd)
				if !killed {
					killBoth(pid1Leaf, traceeLeaf)
					killed = true
				}
			case deadlineFd:
				if !killed {
					killBoth(pid1Leaf, traceeLeaf)
					killed = true
				}
			case cpuFd:
				drainTimerfd(cpuFd)
				if !killed && cpuTimeLimit != nil {
					if exceedsCPULimit(traceeLeaf, *cpuTimeLimit) {
						killBoth(pid1Leaf, traceeLeaf)
						killed = true
					}
				}
			}
		}
	}
}

// killBoth writes cgroup.kill to both sibling leaves; traceeLeaf is
// killed first since it holds the actual tracee process, but either
// write failing doesn't stop the other.
func killBoth(pid1Leaf, traceeLeaf *cgroupLeaf) {
	_ = traceeLeaf.Kill()
	_ = pid1Leaf.Kill()
}

func waitPidfdOnly(pidfd int) {
	pfd := []unix.PollFd{{Fd: int32(pidfd), Events: unix.POLLIN}}
	for {
		_, err := unix.Poll(pfd, -1)
		if err == unix.EINTR {
			continue
		}
		return
	}
}

func exceedsCPULimit(leaf *cgroupLeaf, limit time.Duration) bool {
	userUsec, sysUsec, err := leaf.CPUStat()
	if err != nil {
		return false
	}
	used := time.Duration(userUsec+sysUsec) * time.Microsecond
	return used >= limit
}

// newOneShotTimerfd creates a CLOEXEC monotonic timerfd that fires once
// after d elapses.
func newOneShotTimerfd(d time.Duration) (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC)
	if err != nil {
		return -1, err
	}
	spec := unix.ItimerSpec{
		Value: durationToTimespec(d),
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// newPeriodicTimerfd creates a CLOEXEC monotonic timerfd that fires
// repeatedly every d.
func newPeriodicTimerfd(d time.Duration) (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC)
	if err != nil {
		return -1, err
	}
	ts := durationToTimespec(d)
	spec := unix.ItimerSpec{Value: ts, Interval: ts}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func durationToTimespec(d time.Duration) unix.Timespec {
	if d <= 0 {
		d = time.Nanosecond
	}
	return unix.NsecToTimespec(d.Nanoseconds())
}

func drainEventfd(fd int) {
	var buf [8]byte
	_, _ = unix.Read(fd, buf[:])
}

func drainTimerfd(fd int) {
	var buf [8]byte
	_, _ = unix.Read(fd, buf[:])
}
