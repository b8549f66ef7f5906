// Package embedded carries the compiled cmd/boxd-supervisor binary as a
// build-time artifact, so any program importing github.com/boxd/boxd/client
// ships the supervisor image inside its own binary and execveat's it out
// of an anonymous memfd at runtime rather than depending on a second
// file next to it on disk (spec.md §4.3 step 3h, §6).
//
// supervisor.bin is produced by the module's build, not by go generate:
// the Makefile's "build-supervisor" target compiles cmd/boxd-supervisor
// first and copies its output here before "go build" runs on anything
// that imports this package.
package embedded

import _ "embed"

//go:embed supervisor.bin
var SupervisorImage []byte
