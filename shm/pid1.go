package shm

import (
	"os"
	"time"

	"github.com/boxd/boxd/domain"
)

// Pid1Block is the supervisor<->pid1 shared page (§3.1 SharedMemStatePid1).
// Layout:
//
//	0  tracee_exec_start_time       timespec (16B)
//	16 tracee_exec_start_cpu_user   usec, biased +1 (8B)
//	24 tracee_exec_start_cpu_system usec, biased +1 (8B)
//	32 tracee_waitid_time           timespec (16B)
//	48 error_len                    int16: <0 none, 0 ok (Si follows), >0 error
//	50 union: Si{code:i32,status:i32} (8B) | error bytes (up to PageSize-50)
type Pid1Block struct {
	page *Page
}

const (
	pid1OffExecStartTime   = 0
	pid1OffExecStartCPUU   = 16
	pid1OffExecStartCPUS   = 24
	pid1OffWaitidTime      = 32
	pid1OffErrorLen        = 48
	pid1OffUnion           = 50
)

// pid1MaxErrorLen is how many bytes of error text fit after the union
// starts, leaving no room to overrun the page.
const pid1MaxErrorLen = PageSize - pid1OffUnion

// NewPid1Block allocates and zero-initializes a fresh block.
func NewPid1Block() (*Pid1Block, error) {
	page, err := NewPage()
	if err != nil {
		return nil, err
	}
	b := &Pid1Block{page: page}
	b.reset()
	return b, nil
}

// NewPid1BlockFromFD attaches to a block the supervisor already created,
// via the memfd it handed down through exec (§4.2, §4.5 step 4). pid1
// calls this on the fd number reexec.ExtraFileFD gave the block.
func NewPid1BlockFromFD(fd int) (*Pid1Block, error) {
	page, err := MapPage(fd)
	if err != nil {
		return nil, err
	}
	return &Pid1Block{page: page}, nil
}

// File returns the backing memfd, for passing further down to the
// tracee via its own ExtraFiles.
func (b *Pid1Block) File() *os.File { return b.page.File() }

// reset zeroes the page, then writes the "unset" sentinels so a reader
// that races a not-yet-initialized block sees "unset" rather than zeros
// that look like set-but-zero values.
func (b *Pid1Block) reset() {
	b.page.Reset()
	b.page.writeTimespec(pid1OffExecStartTime, time.Time{}, false)
	b.page.writeUsec(pid1OffExecStartCPUU, nil)
	b.page.writeUsec(pid1OffExecStartCPUS, nil)
	b.page.writeTimespec(pid1OffWaitidTime, time.Time{}, false)
	b.page.putI16(pid1OffErrorLen, -1)
}

// Close unmaps the underlying page.
func (b *Pid1Block) Close() error { return b.page.Close() }

// WriteExecStart records the tracee's execveat start time and the
// cpu.stat baselines sampled alongside it (written by the tracee, read
// later by the supervisor to compute the final runtime and cpu-time
// deltas).
func (b *Pid1Block) WriteExecStart(t time.Time, userUsec, systemUsec uint64) {
	b.page.writeTimespec(pid1OffExecStartTime, t, true)
	b.page.writeUsec(pid1OffExecStartCPUU, &userUsec)
	b.page.writeUsec(pid1OffExecStartCPUS, &systemUsec)
}

// ReadExecStart is the supervisor/pid1-side read of WriteExecStart.
func (b *Pid1Block) ReadExecStart() (t time.Time, userUsec, systemUsec uint64, ok bool) {
	t, ok = b.page.readTimespec(pid1OffExecStartTime)
	if !ok {
		return time.Time{}, 0, 0, false
	}
	userUsec, _ = b.page.readUsec(pid1OffExecStartCPUU)
	systemUsec, _ = b.page.readUsec(pid1OffExecStartCPUS)
	return t, userUsec, systemUsec, true
}

// WriteWaitidTime records when pid1's reap loop observed the tracee exit.
func (b *Pid1Block) WriteWaitidTime(t time.Time) {
	b.page.writeTimespec(pid1OffWaitidTime, t, true)
}

// ReadWaitidTime is the supervisor-side read of WriteWaitidTime.
func (b *Pid1Block) ReadWaitidTime() (time.Time, bool) {
	return b.page.readTimespec(pid1OffWaitidTime)
}

// WriteOk records a clean pid1 outcome: the tracee's siginfo. Writing the
// union before the tag keeps a reader that races the write from ever
// observing a tag that claims data isn't there yet (§4.2: "the tag/length
// is always written last").
func (b *Pid1Block) WriteOk(si domain.Si) {
	b.page.putI32(pid1OffUnion, si.Code)
	b.page.putI32(pid1OffUnion+4, si.Status)
	b.page.putI16(pid1OffErrorLen, 0)
}

// WriteError records a pid1-side failure description. Truncated to fit
// the page if necessary; pid1 failures are short formatted strings so
// this should never trigger in practice.
func (b *Pid1Block) WriteError(desc string) {
	raw := []byte(desc)
	if len(raw) > pid1MaxErrorLen {
		raw = raw[:pid1MaxErrorLen]
	}
	b.page.putBytes(pid1OffUnion, raw)
	b.page.putI16(pid1OffErrorLen, int16(len(raw)))
}

// Pid1Outcome is the supervisor-side read of whichever of WriteOk /
// WriteError pid1 last called, or ok=false if pid1 never wrote anything
// (died before doing so).
type Pid1Outcome struct {
	Si    domain.Si
	Error string
}

// Read returns (outcome, hasError, wrote). wrote is false if error_len is
// still the -1 "unset" sentinel, meaning pid1 died before reporting.
func (b *Pid1Block) Read() (outcome Pid1Outcome, hasError bool, wrote bool) {
	errLen := b.page.getI16(pid1OffErrorLen)
	switch {
	case errLen < 0:
		return Pid1Outcome{}, false, false
	case errLen == 0:
		code := b.page.getI32(pid1OffUnion)
		status := b.page.getI32(pid1OffUnion + 4)
		return Pid1Outcome{Si: domain.Si{Code: code, Status: status}}, false, true
	default:
		desc := string(b.page.getBytes(pid1OffUnion, int(errLen)))
		return Pid1Outcome{Error: desc}, true, true
	}
}
