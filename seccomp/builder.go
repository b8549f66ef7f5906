package seccomp

import (
	"fmt"
	"os"
	"syscall"

	libseccomp "github.com/seccomp/libseccomp-golang"
)

// defaultDeniedSyscalls blocks the syscall classes that would let a
// tracee escape or interfere with the namespaces/cgroup it was placed
// in: tracing another process, mutating the mount table further, and
// changing its own or another process's resource-control/namespace
// membership.
var defaultDeniedSyscalls = []string{
	"ptrace",
	"mount",
	"umount2",
	"pivot_root",
	"setns",
	"unshare",
	"keyctl",
	"add_key",
	"request_key",
	"kexec_load",
	"init_module",
	"delete_module",
	"finit_module",
}

// BuildDefaultFilterInto compiles the default deny-list filter with
// libseccomp and writes its BPF program directly into out, which callers
// typically size as a sealed memfd so the result can ride a request's
// seccomp ancillary fd unchanged (domain.RequestOptions.SeccompFd;
// seccomp.ApplyFromFD loads exactly this shape back out on the tracee
// side).
func BuildDefaultFilterInto(out *os.File) error {
	filter, err := libseccomp.NewFilter(libseccomp.ActAllow)
	if err != nil {
		return fmt.Errorf("seccomp: new filter: %w", err)
	}
	defer filter.Release()

	if err := filter.SetBadArchAction(libseccomp.ActKill); err != nil {
		return fmt.Errorf("seccomp: set bad arch action: %w", err)
	}

	denyAction := libseccomp.ActErrno.SetReturnCode(int16(syscall.EPERM))
	for _, name := range defaultDeniedSyscalls {
		call, err := libseccomp.GetSyscallFromName(name)
		if err != nil {
			// Not every syscall name resolves on every architecture
			// (e.g. 32-bit-only calls); skipping an unknown name is not
			// fatal to building a filter for the running arch.
			continue
		}
		if err := filter.AddRule(call, denyAction); err != nil {
			return fmt.Errorf("seccomp: add rule for %s: %w", name, err)
		}
	}

	if err := filter.ExportBPF(out); err != nil {
		return fmt.Errorf("seccomp: export bpf: %w", err)
	}
	return nil
}
