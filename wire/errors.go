package wire

import "fmt"

// ProtocolError is raised by the codec itself, never by the sandboxed
// program: a malformed header, a truncated body, a string containing an
// embedded NUL, or a mount-operation kind the decoder doesn't recognize.
// Its Error() text is what C8 prefixes with "sandbox: " on the wire.
type ProtocolError struct {
	Kind   string
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("protocol error: %s", e.Kind)
	}
	return fmt.Sprintf("protocol error: %s: %s", e.Kind, e.Detail)
}

func errShortBuffer(field string) error {
	return &ProtocolError{Kind: "short_buffer", Detail: field}
}

func errEmbeddedNUL(field string) error {
	return &ProtocolError{Kind: "embedded_nul", Detail: field}
}

func errUnknownMountKind(kind byte) error {
	return &ProtocolError{Kind: "unknown_mount_kind", Detail: fmt.Sprintf("%d", kind)}
}

func errBodyLenMismatch(declared, actual uint64) error {
	return &ProtocolError{Kind: "body_len_mismatch", Detail: fmt.Sprintf("declared=%d actual=%d", declared, actual)}
}
