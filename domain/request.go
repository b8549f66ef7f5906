//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package domain holds the types shared across boxd's client, wire,
// supervisor, pid1 and tracee packages: the request/result data model and
// the small cross-cutting primitives (FD ownership) that keep those
// packages from needing to import one another directly.
package domain

import "time"

// RequestOptions carries everything a caller may specify beyond argv: the
// borrowed stdio descriptors, namespace/cgroup/prlimit knobs, the wall and
// cpu time budgets, and an optional sealed seccomp filter.
type RequestOptions struct {
	Stdin  *FD
	Stdout *FD
	Stderr *FD

	Env []string

	Namespaces LinuxNamespaces
	Cgroup     Cgroup
	Prlimit    Prlimit

	// TimeLimit / CPUTimeLimit are nil when unset (the wire sentinel is
	// sec=-1, see wire's noTimeLimitSec).
	TimeLimit    *time.Duration
	CPUTimeLimit *time.Duration

	// SeccompFd, if set, must be a sealed (read-only, no further writes
	// possible) fd holding a compiled BPF program; see seccomp.ApplyFromFD.
	SeccompFd *FD
}

// LinuxNamespaces groups the two namespace configurations the wire
// protocol carries; the others (pid/net/ipc/uts/time) are always
// created fresh per request and need no configuration from the caller.
type LinuxNamespaces struct {
	User  UserNamespace
	Mount MountNamespace
}

// UserNamespace maps the tracee's in-container identity. A nil field
// defaults to the outside (supervisor) identity, per spec.
type UserNamespace struct {
	InsideUID *uint32
	InsideGID *uint32
}

// MountNamespace is the ordered mount-operation list pid1 executes before
// optionally pivoting into NewRootMountPath.
type MountNamespace struct {
	Operations       []MountOperation
	NewRootMountPath string // "" means unset (no pivot_root)
}

// MountOperation is a discriminated union (spec.md §9: "polymorphism over
// tagged unions"); Kind() is the single-byte tag from §4.1 and exists
// purely to keep the codec exhaustive without a second type switch.
type MountOperation interface {
	Kind() byte
}

// MountKind* are the wire-tag bytes from §4.1 field 5, exported so the
// wire package can encode without redeclaring them.
const (
	mountKindTmpfs      byte = 1
	mountKindProc       byte = 2
	mountKindBind       byte = 3
	mountKindCreateDir  byte = 4
	mountKindCreateFile byte = 5

	MountKindTmpfs      = mountKindTmpfs
	MountKindProc       = mountKindProc
	MountKindBind       = mountKindBind
	MountKindCreateDir  = mountKindCreateDir
	MountKindCreateFile = mountKindCreateFile
)

// MountTmpfs mounts a fresh tmpfs at Path.
type MountTmpfs struct {
	Path                         string
	MaxTotalSizeOfFilesInBytes   *uint64
	InodeLimit                   *uint64
	RootDirMode                  uint16 // 0..0o777, default 0o755
	ReadOnly                     bool
	NoExec                       bool
}

func (*MountTmpfs) Kind() byte { return mountKindTmpfs }

// MountProc mounts a fresh procfs at Path.
type MountProc struct {
	Path     string
	ReadOnly bool
	NoExec   bool
}

func (*MountProc) Kind() byte { return mountKindProc }

// BindMount bind-mounts Source onto Dest.
type BindMount struct {
	Source    string
	Dest      string
	Recursive bool
	ReadOnly  bool
	NoExec    bool
}

func (*BindMount) Kind() byte { return mountKindBind }

// CreateDir creates an empty directory at Path with Mode.
type CreateDir struct {
	Path string
	Mode uint16 // 0..0o777
}

func (*CreateDir) Kind() byte { return mountKindCreateDir }

// CreateFile creates an empty regular file at Path with Mode.
type CreateFile struct {
	Path string
	Mode uint16 // 0..0o777
}

func (*CreateFile) Kind() byte { return mountKindCreateFile }

// MountOperationFromKind allocates the zero-value concrete type for a
// wire-tag byte, or nil for an unrecognized tag. Used by the decoder.
func MountOperationFromKind(kind byte) MountOperation {
	switch kind {
	case mountKindTmpfs:
		return &MountTmpfs{}
	case mountKindProc:
		return &MountProc{}
	case mountKindBind:
		return &BindMount{}
	case mountKindCreateDir:
		return &CreateDir{}
	case mountKindCreateFile:
		return &CreateFile{}
	default:
		return nil
	}
}

// Cgroup carries the optional per-request resource limits the supervisor
// writes into the pid1/tracee cgroup leaves (spec.md §4.5.5).
type Cgroup struct {
	ProcessNumLimit     *uint32
	MemoryLimitInBytes  *uint64
	SwapLimitInBytes    *uint64
	CPUMaxBandwidth     *CPUMaxBandwidth
}

// CPUMaxBandwidth is the cgroup v2 cpu.max pair.
type CPUMaxBandwidth struct {
	MaxUsec    uint32
	PeriodUsec uint32
}

// Prlimit carries the optional RLIMIT_* values pid1 applies to the
// tracee via prlimit64 before exec (spec.md §4.6.6).
type Prlimit struct {
	AddressSpace   *uint64 // RLIMIT_AS
	CoreFileSize   *uint64 // RLIMIT_CORE
	CPUTimeSeconds *uint64 // RLIMIT_CPU
	FileSize       *uint64 // RLIMIT_FSIZE
	FDCount        *uint64 // RLIMIT_NOFILE
	StackSize      *uint64 // RLIMIT_STACK
}
