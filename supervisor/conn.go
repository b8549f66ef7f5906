package supervisor

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"github.com/boxd/boxd/wire"
)

// recvHeaderAndFDs performs the supervisor side of C4's
// "sendmsg(header + FDs)": one recvmsg call that returns both the 8-byte
// length header and any ancillary FDs the client attached to it (§4.5
// steps 1-2). n==0 with no error means the client closed its end
// cleanly (EOF), which the caller treats as §4.5 step 1's "EOF => clean
// exit".
func recvHeaderAndFDs(sockFd int) (header []byte, fds []int, eof bool, err error) {
	header = make([]byte, wire.HeaderSize)
	oob := make([]byte, unix.CmsgSpace(wire.MaxAncillaryFDs*4))

	n, oobn, _, _, err := unix.Recvmsg(sockFd, header, oob, 0)
	if err != nil {
		return nil, nil, false, fmt.Errorf("recvmsg header: %w", err)
	}
	if n == 0 {
		return nil, nil, true, nil
	}
	if n < wire.HeaderSize {
		return nil, nil, false, &wire.ProtocolError{Kind: "short_header"}
	}

	fds, err = parseRights(oob[:oobn])
	if err != nil {
		return nil, nil, false, err
	}
	return header, fds, false, nil
}

func parseRights(oob []byte) ([]int, error) {
	if len(oob) == 0 {
		return nil, nil
	}
	cmsgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, fmt.Errorf("parse cmsg: %w", err)
	}
	var fds []int
	for _, c := range cmsgs {
		rights, err := unix.ParseUnixRights(&c)
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}
	return fds, nil
}

// readExact reads exactly len(buf) bytes from fd, looping over short
// reads (§4.5 step 2 implies the same send_exact/read_exact discipline
// C4 uses on the client side).
func readExact(fd int, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := unix.Read(fd, buf[read:])
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
		read += n
	}
	return nil
}

// writeExact writes exactly len(buf) bytes to fd, looping over short
// writes (§4.5 step 10: "Write the response to result_fd").
func writeExact(fd int, buf []byte) error {
	written := 0
	for written < len(buf) {
		n, err := unix.Write(fd, buf[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}
