package wire

import (
	"time"

	"github.com/boxd/boxd/domain"
)

// EncodeResponse serializes a domain.Result per §4.1's response layout:
// error_len:u32 (0 for Ok) followed by either the Si/timings/accounting
// fields or the UTF-8 error description.
func EncodeResponse(r domain.Result) ([]byte, error) {
	switch v := r.(type) {
	case *domain.OkResult:
		e := newEncoder(4 + 4 + 4 + 8 + 4 + 8 + 8 + 8)
		e.putU32(0)
		e.putI32(v.Si.Code)
		e.putI32(v.Si.Status)
		sec := v.Runtime / time.Second
		nsec := v.Runtime % time.Second
		e.putU64(uint64(sec))
		e.putU32(uint32(nsec))
		e.putU64(v.Cgroup.CPUTime.UserUsec)
		e.putU64(v.Cgroup.CPUTime.SystemUsec)
		e.putU64(v.Cgroup.PeakMemoryBytes)
		return e.bytes(), nil
	case *domain.ErrorResult:
		if err := checkNoNUL("error.description", v.Description); err != nil {
			return nil, err
		}
		body := []byte(v.Description)
		e := newEncoder(4 + len(body))
		e.putU32(uint32(len(body)))
		e.putBytes(body)
		return e.bytes(), nil
	default:
		return nil, &ProtocolError{Kind: "unknown_result_kind"}
	}
}

// DecodeResponse parses bytes produced by EncodeResponse back into a
// domain.Result.
func DecodeResponse(buf []byte) (domain.Result, error) {
	d := newDecoder(buf)
	errLen, err := d.getU32("error_len")
	if err != nil {
		return nil, err
	}
	if errLen == 0 {
		code, err := d.getI32("si.code")
		if err != nil {
			return nil, err
		}
		status, err := d.getI32("si.status")
		if err != nil {
			return nil, err
		}
		sec, err := d.getU64("runtime_sec")
		if err != nil {
			return nil, err
		}
		nsec, err := d.getU32("runtime_nsec")
		if err != nil {
			return nil, err
		}
		userUsec, err := d.getU64("cg_cpu_user_usec")
		if err != nil {
			return nil, err
		}
		sysUsec, err := d.getU64("cg_cpu_system_usec")
		if err != nil {
			return nil, err
		}
		peakMem, err := d.getU64("cg_peak_mem_bytes")
		if err != nil {
			return nil, err
		}
		return &domain.OkResult{
			Si:      domain.Si{Code: code, Status: status},
			Runtime: time.Duration(sec)*time.Second + time.Duration(nsec)*time.Nanosecond,
			Cgroup: domain.CgroupStats{
				CPUTime:         domain.CPUTime{UserUsec: userUsec, SystemUsec: sysUsec},
				PeakMemoryBytes: peakMem,
			},
		}, nil
	}
	desc, err := d.getBytes(int(errLen), "error.description")
	if err != nil {
		return nil, err
	}
	return &domain.ErrorResult{Description: string(desc)}, nil
}

// ResponseHeaderSize is the fixed prefix every response starts with
// (error_len:u32); callers read this many bytes first to learn whether
// more reading is needed and how much.
const ResponseHeaderSize = 4

// PeekErrorLen reads error_len out of a buffer holding at least the
// response header, without consuming the rest.
func PeekErrorLen(header []byte) (uint32, error) {
	d := newDecoder(header)
	return d.getU32("error_len")
}

// OkResultBodySize is the byte count of the Ok branch's fields after
// error_len, used by the client to know how much more to read once
// error_len has been observed as 0.
const OkResultBodySize = 4 + 4 + 8 + 4 + 8 + 8 + 8
