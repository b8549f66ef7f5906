package result

import (
	"errors"
	"fmt"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/boxd/boxd/domain"
)

// PrematureDeath builds the diagnosed-cause sentence for §4.5.9 step 9's
// last case: pid1 exited (or was killed) without ever writing to either
// shared block. si is pid1's own Si as observed by the supervisor's
// waitid(P_PIDFD) on it.
func PrematureDeath(si domain.Si) string {
	return fmt.Sprintf(
		"tracee process died unexpectedly before execveat() without an error message: %s",
		describeSi(si),
	)
}

// SupervisorDied builds the description surfaced to the client when the
// supervisor itself dies unexpectedly (§4.8 last bullet, §7 "Supervisor
// death"): any bytes accumulated in its error memfd, concatenated with
// its own Si description.
func SupervisorDied(errorFdContents string, si domain.Si) string {
	desc := fmt.Sprintf("sandbox supervisor died unexpectedly: %s", describeSi(si))
	if errorFdContents != "" {
		desc = strings.TrimSpace(errorFdContents) + "\n" + desc
	}
	return desc
}

// Errno renders a syscall errno the way the original sandbox's os-error
// Display does: a capitalized strerror(3) description followed by the
// numeric errno in parentheses, e.g. "No such file or directory (os
// error 2)". Used wherever a canonical os-error-shaped string is
// asserted (spec.md §8 mount-operation properties, §7 scenario 7); err
// that doesn't wrap a syscall.Errno is returned via its own Error().
func Errno(err error) string {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return err.Error()
	}
	msg := errno.Error()
	if msg != "" {
		msg = strings.ToUpper(msg[:1]) + msg[1:]
	}
	return fmt.Sprintf("%s (os error %d)", msg, int(errno))
}

// describeSi renders an Si the way waitid(2)/strsignal(3) callers
// traditionally do: "exited with code N", or "killed by signal NAME -
// Description" for a signal death.
func describeSi(si domain.Si) string {
	switch si.Code {
	case unix.CLD_EXITED:
		return fmt.Sprintf("exited with code %d", si.Status)
	case unix.CLD_KILLED, unix.CLD_DUMPED:
		sig := syscall.Signal(si.Status)
		return fmt.Sprintf("killed by signal %s - %s", signalShortName(sig), signalDescription(sig))
	default:
		return fmt.Sprintf("unknown termination (code %d, status %d)", si.Code, si.Status)
	}
}

// signalShortName strips the "SIG" prefix unix.SignalName returns, e.g.
// "SIGKILL" -> "KILL", matching the Si descriptions used in the spec's
// worked examples.
func signalShortName(sig syscall.Signal) string {
	name := unix.SignalName(sig)
	if name == "" {
		return fmt.Sprintf("%d", int(sig))
	}
	return strings.TrimPrefix(name, "SIG")
}

// signalDescription capitalizes syscall.Signal.String() ("killed" ->
// "Killed") to match strsignal(3)'s capitalization.
func signalDescription(sig syscall.Signal) string {
	s := sig.String()
	if s == "" {
		return "unknown signal"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
