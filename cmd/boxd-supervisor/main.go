// Command boxd-supervisor is the single binary embedded into the
// client library and execveat'd out of an anonymous memfd at runtime
// (spec.md §6). argv[1] selects which of its three faces to run:
// __pid1__, __tracee__, or (anything else, parsed as a decimal fd
// number) the supervisor's own request-serving loop — the
// __bootstrap__ subcommand is handled by client.Init in the host
// program's own binary before this image is ever execed, but dispatch
// is kept here too so directly re-execing this binary with
// __bootstrap__ still works.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/boxd/boxd/pid1"
	"github.com/boxd/boxd/reexec"
	"github.com/boxd/boxd/supervisor"
	"github.com/boxd/boxd/tracee"
)

func main() {
	if sub, ok := reexec.ParseSubcommand(os.Args); ok {
		switch sub {
		case reexec.SubcommandBootstrap:
			runBootstrap()
		case reexec.SubcommandPid1:
			pid1.Run()
		case reexec.SubcommandTracee:
			tracee.Run(os.Args[2:], os.Environ())
		}
		panic("boxd-supervisor: subcommand entrypoint returned")
	}

	runSupervisor()
}

func runBootstrap() {
	supervisor.Bootstrap(supervisor.BootstrapFiles{
		ErrorFd:    os.NewFile(uintptr(reexec.BootstrapFDError), "boxd-error"),
		ClientSock: os.NewFile(uintptr(reexec.BootstrapFDClientSock), "boxd-client-sock"),
		ImageFd:    os.NewFile(uintptr(reexec.BootstrapFDImage), "boxd-image"),
	})
}

// runSupervisor implements §6's top-level invocation contract:
// "supervisor <socket_fd>"; argc != 2 or a non-integer argument is a
// fatal usage diagnostic on stderr.
func runSupervisor() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, reexec.UsageError(os.Args[0]))
		os.Exit(1)
	}
	sockFd, err := strconv.Atoi(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, reexec.UsageError(os.Args[0]))
		os.Exit(1)
	}

	loop, err := supervisor.NewLoop(sockFd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "supervisor: %s\n", err)
		os.Exit(1)
	}

	// Best-effort: only meaningful when something delegated a systemd
	// unit for this process (NOTIFY_SOCKET set), which is exactly the
	// execSystemdRunFallback case; a no-op everywhere else.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	runErr := loop.Run()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "supervisor: %s\n", runErr)
		os.Exit(1)
	}
	os.Exit(0)
}
