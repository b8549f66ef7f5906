package wire

import "encoding/binary"

// HeaderSize is the byte length of the u64 body-length prefix that
// precedes every request body (§4.1 "Header").
const HeaderSize = 8

// EncodeHeader returns the 8-byte little-endian length prefix for body.
func EncodeHeader(bodyLen int) []byte {
	h := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint64(h, uint64(bodyLen))
	return h
}

// DecodeHeader reads the body length out of an 8-byte header buffer.
func DecodeHeader(header []byte) (uint64, error) {
	if len(header) < HeaderSize {
		return 0, errShortBuffer("header")
	}
	return binary.LittleEndian.Uint64(header), nil
}

// CheckBodyLen validates that the number of bytes actually read for the
// body equals the length declared in the header (§3.2 invariant).
func CheckBodyLen(declared uint64, actual int) error {
	if uint64(actual) != declared {
		return errBodyLenMismatch(declared, uint64(actual))
	}
	return nil
}
