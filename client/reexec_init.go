// Package client is the host-facing library: it spawns the privileged
// supervisor process and speaks the request/response wire protocol to
// it over a Unix stream socket, so a program can run an arbitrary
// command under the full namespace/cgroup/seccomp sandbox without
// linking any of that machinery into its own address space (spec.md
// §4.3-§4.5, §6, from the caller's side of the wire).
package client

import (
	"os"

	"github.com/boxd/boxd/reexec"
	"github.com/boxd/boxd/supervisor"
)

// Init must be the first call in main() of any program that imports
// this package, before flag parsing or any other startup work.
//
// spawnSupervisor re-execs the running binary against /proc/self/exe
// targeting __bootstrap__ (reexec.SubcommandBootstrap); unlike
// cmd/boxd-supervisor's own re-execs of __pid1__/__tracee__ (which only
// ever happen inside the already-running, separately-built supervisor
// image after it has execed), this one resolves back to the host
// program's own binary, since that's whose /proc/self/exe the forked
// child inherits. Init is the interception point for that hop, mirroring
// the reexec.Init() idiom container-tooling libraries use to let one
// binary play more than one role. __pid1__ and __tracee__ never reach
// here: both only occur once the supervisor image (a distinct binary,
// embedded as bytes and execveat'd out of a memfd) is already running,
// so cmd/boxd-supervisor/main.go's own dispatch handles those, not this
// one.
func Init() {
	sub, ok := reexec.ParseSubcommand(os.Args)
	if !ok || sub != reexec.SubcommandBootstrap {
		return
	}
	supervisor.Bootstrap(supervisor.BootstrapFiles{
		ErrorFd:    os.NewFile(uintptr(reexec.BootstrapFDError), "boxd-error"),
		ClientSock: os.NewFile(uintptr(reexec.BootstrapFDClientSock), "boxd-client-sock"),
		ImageFd:    os.NewFile(uintptr(reexec.BootstrapFDImage), "boxd-image"),
	})
	panic("client: bootstrap entrypoint returned")
}
