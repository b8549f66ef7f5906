package shm

import "os"

// TraceeBlock is the pid1<->tracee shared page (§3.1 SharedMemStateTracee):
// purely an error channel, written once by the tracee if execveat fails,
// read once by pid1 after reaping it.
//
//	0 error_len uint16; 0 means "no error"
//	2 error bytes, up to PageSize-2
type TraceeBlock struct {
	page *Page
}

const (
	traceeOffErrorLen = 0
	traceeOffError    = 2
)

const traceeMaxErrorLen = PageSize - traceeOffError

// NewTraceeBlock allocates and zero-initializes a fresh block.
func NewTraceeBlock() (*TraceeBlock, error) {
	page, err := NewPage()
	if err != nil {
		return nil, err
	}
	b := &TraceeBlock{page: page}
	b.page.Reset()
	return b, nil
}

// NewTraceeBlockFromFD attaches to a block the supervisor already
// created, via the memfd passed down through exec. pid1 and the tracee
// call this on the fd numbers reexec assigns the block
// (Pid1FDTraceeBlock, TraceeFDTraceeBlock).
func NewTraceeBlockFromFD(fd int) (*TraceeBlock, error) {
	page, err := MapPage(fd)
	if err != nil {
		return nil, err
	}
	return &TraceeBlock{page: page}, nil
}

// File returns the backing memfd.
func (b *TraceeBlock) File() *os.File { return b.page.File() }

// Close unmaps the underlying page.
func (b *TraceeBlock) Close() error { return b.page.Close() }

// WriteError records the tracee-side failure (almost always an
// execveat() errno). Truncated to fit the page.
func (b *TraceeBlock) WriteError(desc string) {
	raw := []byte(desc)
	if len(raw) > traceeMaxErrorLen {
		raw = raw[:traceeMaxErrorLen]
	}
	b.page.putBytes(traceeOffError, raw)
	b.page.putU16(traceeOffErrorLen, uint16(len(raw)))
}

// Read returns the recorded error description and whether one was
// written at all.
func (b *TraceeBlock) Read() (desc string, hasError bool) {
	errLen := b.page.getU16(traceeOffErrorLen)
	if errLen == 0 {
		return "", false
	}
	return string(b.page.getBytes(traceeOffError, int(errLen))), true
}
