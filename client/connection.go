package client

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"

	"github.com/boxd/boxd/domain"
	"github.com/boxd/boxd/wire"
)

// sendRequest is the client side of C4's "sendmsg(header + FDs)"
// followed by a separate plain write of the body (§4.4): one sendmsg
// carries the 8-byte length header plus the ancillary FDs in the fixed
// [result, kill, executable, stdin, stdout, stderr, seccomp] order (see
// orderedRights); the body follows as an ordinary write(2), mirroring
// supervisor.recvHeaderAndFDs/readExact on the other end exactly.
func sendRequest(sockFd int, body []byte, rights []int) error {
	header := wire.EncodeHeader(len(body))
	oob := unix.UnixRights(rights...)
	if err := unix.Sendmsg(sockFd, header, oob, nil, 0); err != nil {
		return fmt.Errorf("client: sendmsg header+fds: %w", err)
	}
	if err := writeExactFd(sockFd, body); err != nil {
		return fmt.Errorf("client: write body: %w", err)
	}
	return nil
}

func writeExactFd(fd int, buf []byte) error {
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

// readResult is the client side of §4.5 step 10: the response has no
// overall length prefix, only a leading error_len:u32 that says how
// many more bytes follow — wire.OkResultBodySize for the zero case,
// errLen bytes of UTF-8 description otherwise.
func readResult(f *os.File) (domain.Result, error) {
	header := make([]byte, wire.ResponseHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, err
	}
	errLen, err := wire.PeekErrorLen(header)
	if err != nil {
		return nil, err
	}

	restLen := wire.OkResultBodySize
	if errLen != 0 {
		restLen = int(errLen)
	}
	rest := make([]byte, restLen)
	if _, err := io.ReadFull(f, rest); err != nil {
		return nil, err
	}

	return wire.DecodeResponse(append(header, rest...))
}
