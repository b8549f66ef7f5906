package pid1

import (
	"io"
	"os"

	"github.com/boxd/boxd/domain"
	"github.com/boxd/boxd/reexec"
	"github.com/boxd/boxd/wire"
)

// config is everything pid1 needs beyond the fixed ExtraFiles it
// always receives: the decoded request body, plus where (if anywhere)
// the executable and seccomp ancillary FDs landed. It's read once, off
// the pipe the supervisor wrote the wire-encoded request body to right
// after spawnPid1 succeeded (supervisor.buildConfigPipe) — the same
// codec the client and supervisor use for the socket request, reused
// here rather than inventing a second one.
type config struct {
	argv       []string
	env        []string
	opts       domain.RequestOptions
	executable domain.ExecutableSelector
	fdMask     uint8
}

func readConfig() (*config, error) {
	f := os.NewFile(uintptr(reexec.Pid1FDConfig), "boxd-pid1-config")
	defer f.Close()

	header := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, err
	}
	bodyLen, err := wire.DecodeHeader(header)
	if err != nil {
		return nil, err
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(f, body); err != nil {
		return nil, err
	}

	fdMask, argv, env, opts, err := wire.DecodeRequestBody(body)
	if err != nil {
		return nil, err
	}

	exe := domain.ExecutableSelector{}
	if fdMask&wire.FDMaskExecutable != 0 {
		exe.FD = domain.NewFD(reexec.Pid1FDOptionalBase)
	} else if len(argv) > 0 {
		exe.Path = argv[0]
	}

	return &config{argv: argv, env: env, opts: opts, executable: exe, fdMask: fdMask}, nil
}

// seccompFDNum returns the fd number pid1's own copy of the seccomp
// program rides at, accounting for whether the executable FD slot
// preceded it in the mask-selected tail.
func (c *config) seccompFDNum() int {
	base := reexec.Pid1FDOptionalBase
	if c.fdMask&wire.FDMaskExecutable != 0 {
		base++
	}
	return base
}
