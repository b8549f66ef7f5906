package client

import "golang.org/x/sys/unix"

// socketpair creates a connected, CLOEXEC AF_UNIX SOCK_STREAM pair: the
// client keeps index 0 as its connection, index 1 rides in the
// __bootstrap__ child's ExtraFiles and ends up as the socket the
// supervisor's request loop serves (§4.3 step 2).
func socketpair() (clientFd, supervisorFd int, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}
