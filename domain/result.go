package domain

import "time"

// Si mirrors the two fields of siginfo_t that waitid(P_PIDFD) fills in:
// the CLD_* code (exited/killed/dumped/stopped) and the exit status or
// terminating signal, per spec.md §3.1.
type Si struct {
	Code   int32
	Status int32
}

// CPUTime is the tracee cgroup's cpu.stat usage accumulated since the
// exec-start baseline, as read when the result was produced.
type CPUTime struct {
	UserUsec   uint64
	SystemUsec uint64
}

// CgroupStats is the final resource-usage snapshot the supervisor reads
// out of the per-request cgroup leaf just before it is removed.
type CgroupStats struct {
	CPUTime           CPUTime
	PeakMemoryBytes   uint64
	CurrentMemoryBytes uint64
	OOMKillCount      uint64
}

// Result is the discriminated union the supervisor composes from the
// pid1/tracee shared-memory blocks and the cgroup accounting, and writes
// to the client over the request's result pipe (spec.md §4.2, §9). OkResult covers every outcome where pid1 observed the tracee run
// to completion (however it ended); ErrorResult covers setup failures
// that happened before or instead of an exec.
type Result interface {
	Kind() byte
}

const (
	resultKindOk    byte = 1
	resultKindError byte = 2
)

// OkResult reports a tracee that was execed and subsequently reaped.
type OkResult struct {
	Si      Si
	Runtime time.Duration
	Cgroup  CgroupStats
}

func (*OkResult) Kind() byte { return resultKindOk }

// ErrorResult reports that the sandbox could not produce a tracee exit at
// all: a pid1/tracee-side setup failure, or the supervisor's own
// diagnosis of an unexplained premature death (spec.md §4.5.9).
type ErrorResult struct {
	Description string
}

func (*ErrorResult) Kind() byte { return resultKindError }

// ResultFromKind allocates the zero-value concrete type for a wire-tag
// byte, or nil for an unrecognized tag. Used by the decoder.
func ResultFromKind(kind byte) Result {
	switch kind {
	case resultKindOk:
		return &OkResult{}
	case resultKindError:
		return &ErrorResult{}
	default:
		return nil
	}
}
