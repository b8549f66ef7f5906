package tracee

import (
	"encoding/hex"
	"fmt"
)

// parseStub splits pid1's re-exec stub argv (fd-mask token, "--",
// real argv...) back into the mask byte and the target's own argv.
func parseStub(stub []string) (mask uint8, argv []string, err error) {
	if len(stub) < 2 || stub[1] != "--" {
		return 0, nil, fmt.Errorf("malformed tracee invocation")
	}
	raw, err := hex.DecodeString(stub[0])
	if err != nil || len(raw) != 1 {
		return 0, nil, fmt.Errorf("malformed fd mask token %q", stub[0])
	}
	return raw[0], stub[2:], nil
}
