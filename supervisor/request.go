package supervisor

import (
	"math/bits"

	"github.com/boxd/boxd/domain"
	"github.com/boxd/boxd/wire"
)

// request is the supervisor's fully-decoded, FD-owning view of an
// incoming request (§4.5 step 3: "owned FDs + owned strings +
// null-terminated vectors ready for execveat"). ResultFd and KillFd are
// not part of the wire body or fds.mask; they are the two connection-
// management descriptors every request carries regardless of which
// optional fields are set (the write end of the client's result pipe,
// and the client's kill eventfd), so the supervisor can later write the
// response and poll for a cancellation.
type request struct {
	Executable domain.ExecutableSelector
	Argv       []string
	Env        []string
	Opts       domain.RequestOptions

	ResultFd *domain.FD
	KillFd   *domain.FD
}

// decodeRequest parses a wire body and assigns the ancillary FDs
// received alongside it onto the decoded RequestOptions/
// ExecutableSelector. The first two FDs are always the result pipe's
// write end and the kill eventfd; any remaining FDs follow the
// executable/stdin/stdout/stderr/seccomp order selected by fds.mask
// (§4.5 step 2; §4.1 "Failure conditions"). Together that bounds the
// ancillary FD count at 2 + 5 = 7, matching §4.1's "bounded list (≤ 7
// descriptors)".
func decodeRequest(body []byte, fds []int) (*request, error) {
	fdMask, argv, env, opts, err := wire.DecodeRequestBody(body)
	if err != nil {
		return nil, err
	}

	want := 2 + bits.OnesCount8(fdMask)
	if len(fds) != want {
		return nil, &wire.ProtocolError{Kind: "fd_count_mismatch"}
	}

	r := &request{Argv: argv, Env: env, Opts: opts}

	next := 0
	take := func() *domain.FD {
		fd := domain.NewFD(fds[next])
		next++
		return fd
	}

	r.ResultFd = take()
	r.KillFd = take()

	if fdMask&wire.FDMaskExecutable != 0 {
		r.Executable.FD = take()
	} else if len(argv) > 0 {
		r.Executable.Path = argv[0]
	}
	if fdMask&wire.FDMaskStdin != 0 {
		r.Opts.Stdin = take()
	}
	if fdMask&wire.FDMaskStdout != 0 {
		r.Opts.Stdout = take()
	}
	if fdMask&wire.FDMaskStderr != 0 {
		r.Opts.Stderr = take()
	}
	if fdMask&wire.FDMaskSeccomp != 0 {
		r.Opts.SeccompFd = take()
	}

	return r, nil
}

// closeUnclaimedFDs closes any owned descriptor that ended up unused:
// e.g. the executable FD when MountOperation validation fails before
// clone, or stdio FDs after they've been dup'd into the tracee and the
// originals are no longer needed by the supervisor (§4.5 step 7:
// "closes all inherited client FDs that the tracee does not need").
// ResultFd and KillFd are excluded: the loop always owns their full
// lifecycle itself (write the response / poll for cancellation) and
// closes them explicitly once it's done with them.
func (r *request) closeUnclaimedFDs() {
	for _, f := range []*domain.FD{r.Executable.FD, r.Opts.Stdin, r.Opts.Stdout, r.Opts.Stderr, r.Opts.SeccompFd} {
		if f != nil {
			_ = f.Close()
		}
	}
}
