//go:build sanitizer

package pid1

import (
	"os/signal"
	"syscall"
)

// neutralizeSanitizerSignals installs SIG_IGN for the signals an
// ASan/MSan-instrumented binary can raise from inside its own
// allocator instrumentation, independent of anything the tracee's
// workload does (§4.6 step 3).
func neutralizeSanitizerSignals() {
	signal.Ignore(syscall.SIGBUS, syscall.SIGFPE, syscall.SIGSEGV)
}
