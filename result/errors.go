// Package result implements the error taxonomy from spec.md §4.8/§7: it
// prefixes component-local failures (sandbox/supervisor/pid1/tracee) the
// way the supervisor does before handing them to the wire codec, and
// builds the templated sentence for a pid1 that died without reporting
// anything (§4.5.9).
package result

import "fmt"

// Prefix tags, applied to an Error's Description before it leaves the
// supervisor (§4.8).
const (
	PrefixSandbox    = "sandbox: "
	PrefixSupervisor = "supervisor: "
	PrefixPid1       = "pid1: "
	PrefixTracee     = "tracee: "
)

// Sandbox wraps a protocol-layer failure (bad mask, short body, unknown
// mount kind) with the "sandbox: " prefix.
func Sandbox(err error) string {
	return PrefixSandbox + err.Error()
}

// Supervisor wraps a host-side failure that happened before pid1 started
// (e.g. a cgroup write) with the "supervisor: " prefix.
func Supervisor(reason string) string {
	return PrefixSupervisor + reason
}

// Pid1 wraps a pid1-reported failure with the "pid1: " prefix. desc is
// already in the "<operation> - <errno string>" shape pid1 wrote into
// its shared block (§4.6 preamble).
func Pid1(desc string) string {
	return PrefixPid1 + desc
}

// Tracee wraps a tracee-reported failure with the "tracee: " prefix.
func Tracee(desc string) string {
	return PrefixTracee + desc
}

// Operation formats a single pid1/tracee-side failure the way C6/C7
// report them: "<operation> - <errno string>".
func Operation(op string, err error) string {
	return fmt.Sprintf("%s - %s", op, err)
}
