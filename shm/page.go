// Package shm implements the two page-sized shared-memory state blocks
// (§4.2) the supervisor maps before cloning pid1: a one-shot result/error
// channel from pid1 back to the supervisor, and a pure error channel from
// the tracee back to pid1.
//
// The supervisor spawns pid1 with os/exec, which forks and then execves
// in one step; a plain anonymous MAP_ANONYMOUS|MAP_SHARED mapping does
// not survive the exec half of that (exec replaces the address space
// entirely). So the backing memory is a memfd_create(2) object instead:
// the supervisor keeps its own mmap of the memfd, and passes the memfd
// itself down through cmd.ExtraFiles so pid1 (and, via its own
// ExtraFiles when it clones the tracee, the tracee) can mmap the same
// pages after execve. "Anonymous" in §4.2 means "not a path on a
// filesystem", which a memfd satisfies while still being exec-durable.
package shm

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// PageSize is the fixed size of both shared blocks (§3.1: "exactly one
// memory page").
const PageSize = 4096

// Page is a page-sized mapping backed by a memfd. The supervisor creates
// it before cloning pid1 and keeps File() open across the clone so the
// child can inherit the descriptor and map the same pages itself; the
// supervisor reads its own mapping back once the writer has exited.
type Page struct {
	buf  []byte
	file *os.File
}

// NewPage creates a fresh memfd, sizes it to one page, maps it, and
// returns a Page whose backing descriptor is available via File() for
// handing to a child across exec.
func NewPage() (*Page, error) {
	fd, err := unix.MemfdCreate("boxd-shm", 0)
	if err != nil {
		return nil, fmt.Errorf("shm: memfd_create: %w", err)
	}
	file := os.NewFile(uintptr(fd), "boxd-shm")

	if err := unix.Ftruncate(fd, PageSize); err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: ftruncate: %w", err)
	}

	buf, err := unix.Mmap(fd, 0, PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("shm: mmap: %w", err)
	}

	return &Page{buf: buf, file: file}, nil
}

// MapPage maps an already-open memfd (typically one a parent passed
// down via ExtraFiles) at its known inherited fd number. Used by pid1
// and the tracee to attach to pages the supervisor created.
func MapPage(fd int) (*Page, error) {
	buf, err := unix.Mmap(fd, 0, PageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap inherited fd %d: %w", fd, err)
	}
	return &Page{buf: buf, file: os.NewFile(uintptr(fd), "boxd-shm")}, nil
}

// File returns the backing memfd, for passing to a child via
// cmd.ExtraFiles. The caller must not close it while the mapping is
// still needed.
func (p *Page) File() *os.File { return p.file }

// Reset zeroes the page. Required between reuses of a block (there are
// none across requests today — every request gets a fresh Page — but the
// invariant from §3.2 is enforced here so a future pooled-page allocator
// doesn't reintroduce an information leak).
func (p *Page) Reset() {
	for i := range p.buf {
		p.buf[i] = 0
	}
}

// Close unmaps the page and closes the memfd. Safe to call after both
// ends are done with it.
func (p *Page) Close() error {
	if p.buf == nil {
		return nil
	}
	err := unix.Munmap(p.buf)
	p.buf = nil
	if p.file != nil {
		if cerr := p.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (p *Page) getU8(off int) uint8 { return p.buf[off] }
func (p *Page) putU8(off int, v uint8) { p.buf[off] = v }

func (p *Page) getU16(off int) uint16 {
	return uint16(p.buf[off]) | uint16(p.buf[off+1])<<8
}

func (p *Page) putU16(off int, v uint16) {
	p.buf[off] = byte(v)
	p.buf[off+1] = byte(v >> 8)
}

func (p *Page) getI16(off int) int16 { return int16(p.getU16(off)) }
func (p *Page) putI16(off int, v int16) { p.putU16(off, uint16(v)) }

func (p *Page) getU32(off int) uint32 {
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(p.buf[off+i]) << (8 * i)
	}
	return v
}

func (p *Page) putU32(off int, v uint32) {
	for i := 0; i < 4; i++ {
		p.buf[off+i] = byte(v >> (8 * i))
	}
}

func (p *Page) getI32(off int) int32 { return int32(p.getU32(off)) }
func (p *Page) putI32(off int, v int32) { p.putU32(off, uint32(v)) }

func (p *Page) getU64(off int) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(p.buf[off+i]) << (8 * i)
	}
	return v
}

func (p *Page) putU64(off int, v uint64) {
	for i := 0; i < 8; i++ {
		p.buf[off+i] = byte(v >> (8 * i))
	}
}

func (p *Page) getI64(off int) int64 { return int64(p.getU64(off)) }
func (p *Page) putI64(off int, v int64) { p.putU64(off, uint64(v)) }

func (p *Page) getBytes(off, n int) []byte {
	out := make([]byte, n)
	copy(out, p.buf[off:off+n])
	return out
}

func (p *Page) putBytes(off int, b []byte) {
	copy(p.buf[off:], b)
}
