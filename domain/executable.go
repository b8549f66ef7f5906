package domain

// ExecutableSelector names what the tracee ultimately execveat()s: either
// a path the tracee resolves itself, or a descriptor the caller already
// has open (borrowed; the supervisor dups it across to the tracee). Never
// both, and never neither — Client.SendRequest rejects empty argv without
// an executable FD, and an empty path.
type ExecutableSelector struct {
	Path string
	FD   *FD
}

// IsFD reports whether the selector carries a descriptor rather than a path.
func (s ExecutableSelector) IsFD() bool {
	return s.FD != nil
}
