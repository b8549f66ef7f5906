// Package wire implements the fixed little-endian binary codec the client
// and supervisor speak over the request stream socket: request encoding,
// response decoding, and the reverse pair used by the supervisor and
// client respectively. All integers are little-endian; strings are
// NUL-terminated; see domain.RequestOptions and domain.Result for the
// Go-side shapes this codec moves to and from bytes.
package wire

import (
	"encoding/binary"
	"fmt"
)

// FD mask bits for the request header (§4.1 request body layout, field
// 1: "bits {stdin, stdout, stderr, seccomp_bpf} present").
//
// The named bits keep the spec's order (stdin, stdout, stderr,
// seccomp_bpf); FDMaskExecutable in bit 4 is this codec's extension to
// cover the executable selector's FD case (see ExecutableSelector):
// since the wire body never carries a separate executable-path field
// (argv[0] doubles as the path when no FD is given), the decoder needs
// an explicit bit to know whether an ancillary executable FD was sent.
// Ancillary FDs selected by this mask always ride in the fixed order
// executable, stdin, stdout, stderr, seccomp, skipping any absent ones
// — separate from, and always preceded by, the connection-management
// FDs (the result pipe's write end and the kill eventfd) every request
// carries regardless of mask (§4.4, §4.5 step 7).
const (
	FDMaskStdin      uint8 = 1 << 0
	FDMaskStdout     uint8 = 1 << 1
	FDMaskStderr     uint8 = 1 << 2
	FDMaskSeccomp    uint8 = 1 << 3
	FDMaskExecutable uint8 = 1 << 4
)

// MaxAncillaryFDs bounds how many FDs may ride one sendmsg/recvmsg with
// the request header: the result pipe's write end and the kill eventfd
// (always present) plus up to five mask-selected FDs (executable,
// stdin, stdout, stderr, seccomp).
const MaxAncillaryFDs = 2 + 5

// encoder writes into a pre-sized buffer; callers must size it exactly
// (via the matching sizeXxx function) or Put* panics on overrun, which
// would indicate a codec bug rather than bad input.
type encoder struct {
	buf []byte
	off int
}

func newEncoder(size int) *encoder {
	return &encoder{buf: make([]byte, size)}
}

func (e *encoder) bytes() []byte {
	if e.off != len(e.buf) {
		panic(fmt.Sprintf("wire: encoder wrote %d of %d sized bytes", e.off, len(e.buf)))
	}
	return e.buf
}

func (e *encoder) putU8(v uint8) {
	e.buf[e.off] = v
	e.off++
}

func (e *encoder) putU16(v uint16) {
	binary.LittleEndian.PutUint16(e.buf[e.off:], v)
	e.off += 2
}

func (e *encoder) putU32(v uint32) {
	binary.LittleEndian.PutUint32(e.buf[e.off:], v)
	e.off += 4
}

func (e *encoder) putU64(v uint64) {
	binary.LittleEndian.PutUint64(e.buf[e.off:], v)
	e.off += 8
}

func (e *encoder) putI32(v int32) {
	e.putU32(uint32(v))
}

func (e *encoder) putI64(v int64) {
	e.putU64(uint64(v))
}

// putCString writes s followed by a single NUL. Callers must have already
// validated s has no embedded NUL via checkNoNUL.
func (e *encoder) putCString(s string) {
	n := copy(e.buf[e.off:], s)
	e.off += n
	e.buf[e.off] = 0
	e.off++
}

func (e *encoder) putBytes(b []byte) {
	n := copy(e.buf[e.off:], b)
	e.off += n
}

// decoder reads out of a borrowed buffer without copying; every read is
// bounds-checked and returns a *ProtocolError rather than panicking,
// since decoder input is attacker/peer controlled.
type decoder struct {
	buf []byte
	off int
}

func newDecoder(buf []byte) *decoder {
	return &decoder{buf: buf}
}

func (d *decoder) remaining() int {
	return len(d.buf) - d.off
}

func (d *decoder) need(n int, field string) error {
	if d.remaining() < n {
		return errShortBuffer(field)
	}
	return nil
}

func (d *decoder) getU8(field string) (uint8, error) {
	if err := d.need(1, field); err != nil {
		return 0, err
	}
	v := d.buf[d.off]
	d.off++
	return v, nil
}

func (d *decoder) getU16(field string) (uint16, error) {
	if err := d.need(2, field); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(d.buf[d.off:])
	d.off += 2
	return v, nil
}

func (d *decoder) getU32(field string) (uint32, error) {
	if err := d.need(4, field); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) getU64(field string) (uint64, error) {
	if err := d.need(8, field); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

func (d *decoder) getI32(field string) (int32, error) {
	v, err := d.getU32(field)
	return int32(v), err
}

func (d *decoder) getI64(field string) (int64, error) {
	v, err := d.getU64(field)
	return int64(v), err
}

// getCString scans for the next NUL byte and returns the string before
// it, advancing past the NUL.
func (d *decoder) getCString(field string) (string, error) {
	idx := -1
	for i := d.off; i < len(d.buf); i++ {
		if d.buf[i] == 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", errShortBuffer(field)
	}
	s := string(d.buf[d.off:idx])
	d.off = idx + 1
	return s, nil
}

func (d *decoder) getBytes(n int, field string) ([]byte, error) {
	if err := d.need(n, field); err != nil {
		return nil, err
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func checkNoNUL(field, s string) error {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return errEmbeddedNUL(field)
		}
	}
	return nil
}

// sizeCString is the encoded size of s as a NUL-terminated string.
func sizeCString(s string) int {
	return len(s) + 1
}
