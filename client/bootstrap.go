package client

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"github.com/boxd/boxd/client/embedded"
	"github.com/boxd/boxd/reexec"
)

// supervisorProcess is what spawnSupervisor hands back: the running
// supervisor's *exec.Cmd (so Close can Wait() on it, and an unexpected
// exit can be diagnosed via result.SupervisorDied), the client-side end
// of the request socket, and the read end of its error memfd.
type supervisorProcess struct {
	cmd     *exec.Cmd
	sockFd  *os.File
	errorFd *os.File
}

// spawnSupervisor implements the client side of §4.3 steps 1-3: create
// the error memfd and the client/supervisor socketpair, seal the
// embedded supervisor image into a fresh memfd, then re-exec this
// process (via /proc/self/exe, intercepted by client.Init in the
// freshly forked child) targeting __bootstrap__ with those three
// descriptors as its fixed ExtraFiles prefix.
func spawnSupervisor() (*supervisorProcess, error) {
	errorFd, err := unix.MemfdCreate("boxd-supervisor-error", 0)
	if err != nil {
		return nil, fmt.Errorf("client: create error memfd: %w", err)
	}
	errorFile := os.NewFile(uintptr(errorFd), "boxd-supervisor-error")

	clientFd, supervisorFd, err := socketpair()
	if err != nil {
		errorFile.Close()
		return nil, fmt.Errorf("client: socketpair: %w", err)
	}
	clientSock := os.NewFile(uintptr(clientFd), "boxd-client-sock")
	supervisorSock := os.NewFile(uintptr(supervisorFd), "boxd-supervisor-sock")

	imageFile, err := sealedImageMemfd()
	if err != nil {
		errorFile.Close()
		clientSock.Close()
		supervisorSock.Close()
		return nil, fmt.Errorf("client: create image memfd: %w", err)
	}

	cmd := reexec.Command(reexec.SubcommandBootstrap, errorFile, supervisorSock, imageFile)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr
	if err := cmd.Start(); err != nil {
		errorFile.Close()
		clientSock.Close()
		supervisorSock.Close()
		imageFile.Close()
		return nil, fmt.Errorf("client: start bootstrap: %w", err)
	}

	// The child now holds its own dups of all three from ExtraFiles;
	// the parent only needs to keep clientSock (its connection) and
	// errorFile (read back on an unexpected supervisor death) open.
	supervisorSock.Close()
	imageFile.Close()

	return &supervisorProcess{cmd: cmd, sockFd: clientSock, errorFd: errorFile}, nil
}

// sealedImageMemfd writes the embedded supervisor binary into a fresh
// memfd and seals it against further writes, growth and shrinkage,
// matching §4.3 step 3h's expectation that the image backing the
// execveat is immutable for the rest of its life.
func sealedImageMemfd() (*os.File, error) {
	fd, err := unix.MemfdCreate("boxd-supervisor-image", unix.MFD_ALLOW_SEALING)
	if err != nil {
		return nil, err
	}
	f := os.NewFile(uintptr(fd), "boxd-supervisor-image")

	if _, err := f.Write(embedded.SupervisorImage); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, err
	}

	seals := unix.F_SEAL_SEAL | unix.F_SEAL_SHRINK | unix.F_SEAL_GROW | unix.F_SEAL_WRITE
	if _, err := unix.FcntlInt(f.Fd(), unix.F_ADD_SEALS, seals); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// errorFdContents reads whatever diagnostic Bootstrap/the supervisor
// image wrote to the error memfd, for use by result.SupervisorDied when
// the supervisor process exits unexpectedly.
func errorFdContents(f *os.File) string {
	if _, err := f.Seek(0, 0); err != nil {
		return ""
	}
	buf, _ := io.ReadAll(f)
	return string(buf)
}
