// Package seccomp loads the sealed classic BPF filter a client may
// attach to a request (spec.md §4.7.4) and, failing that, builds the
// default filter the tracee installs when none was supplied.
package seccomp

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// sockFilterSize is sizeof(struct sock_filter): a u16 (code), two u8s
// (jt, jf) and a u32 (k).
const sockFilterSize = 8

// maxProgramBytes bounds a loaded program at 2^19 bytes, i.e. 65536
// instructions of sockFilterSize bytes each (§4.7.4).
const maxProgramBytes = 1 << 19

// ApplyFromFD validates and installs the sealed BPF program in fd as
// the tracee's seccomp filter (§4.7.4): the size of the whole file,
// found by seeking to its end whatever the current offset, must be a
// positive multiple of sockFilterSize and no more than maxProgramBytes,
// after which it's mmap'd read-only from offset 0 and handed to
// seccomp(2) directly (SECCOMP_SET_MODE_FILTER).
func ApplyFromFD(fd int) error {
	size, err := unix.Seek(fd, 0, unix.SEEK_END)
	if err != nil {
		return fmt.Errorf("seccomp: lseek: %w", err)
	}
	if size <= 0 || size%sockFilterSize != 0 {
		return fmt.Errorf("seccomp: program size %d is not a positive multiple of %d", size, sockFilterSize)
	}
	if size > maxProgramBytes {
		return fmt.Errorf("seccomp: program size %d exceeds %d", size, maxProgramBytes)
	}

	buf, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return fmt.Errorf("seccomp: mmap: %w", err)
	}
	defer unix.Munmap(buf)

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("seccomp: set no_new_privs: %w", err)
	}

	prog := unix.SockFprog{
		Len:    uint16(size / sockFilterSize),
		Filter: (*unix.SockFilter)(unsafe.Pointer(&buf[0])),
	}

	_, _, errno := unix.Syscall(
		unix.SYS_SECCOMP,
		unix.SECCOMP_SET_MODE_FILTER,
		0,
		uintptr(unsafe.Pointer(&prog)),
	)
	if errno != 0 {
		return fmt.Errorf("seccomp: SECCOMP_SET_MODE_FILTER: %w", errno)
	}
	return nil
}

// ApplyDefault builds the default deny-list filter (BuildDefaultFilterInto)
// into a throwaway memfd and installs it via ApplyFromFD, for a tracee
// whose request carried no client-supplied seccomp program.
func ApplyDefault() error {
	fd, err := unix.MemfdCreate("boxd-default-seccomp", 0)
	if err != nil {
		return fmt.Errorf("seccomp: create default filter memfd: %w", err)
	}
	f := os.NewFile(uintptr(fd), "boxd-default-seccomp")
	defer f.Close()

	if err := BuildDefaultFilterInto(f); err != nil {
		return err
	}
	return ApplyFromFD(int(f.Fd()))
}
