package tracee

import (
	"fmt"
	"strings"
)

// sanityCheckVectors validates argv/env are well-formed C string
// vectors before the exec attempt (§4.7 step 2): non-empty argv, no
// embedded NUL bytes (which would truncate or fail the underlying
// execve(2) call in ways confusing to diagnose after the fact).
func sanityCheckVectors(argv, env []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("empty argv")
	}
	for i, s := range argv {
		if strings.IndexByte(s, 0) >= 0 {
			return fmt.Errorf("argv[%d] contains a NUL byte", i)
		}
	}
	for i, s := range env {
		if strings.IndexByte(s, 0) >= 0 {
			return fmt.Errorf("env[%d] contains a NUL byte", i)
		}
	}
	return nil
}
