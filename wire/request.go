package wire

import (
	"time"

	"github.com/boxd/boxd/domain"
)

// userNSMask bits (§4.1 field 4).
const (
	userMaskInsideUID uint8 = 1 << 0
	userMaskInsideGID uint8 = 1 << 1
)

// cgroupMask bits (§4.1 field 6).
const (
	cgroupMaskProcessNum uint8 = 1 << 0
	cgroupMaskMemory     uint8 = 1 << 1
	cgroupMaskSwap       uint8 = 1 << 2
	cgroupMaskCPUMax     uint8 = 1 << 3
)

// prlimitMask bits (§4.1 field 7), in the fixed order they are written.
const (
	prlimitMaskAS      uint8 = 1 << 0
	prlimitMaskCore    uint8 = 1 << 1
	prlimitMaskCPU     uint8 = 1 << 2
	prlimitMaskFsize   uint8 = 1 << 3
	prlimitMaskNofile  uint8 = 1 << 4
	prlimitMaskStack   uint8 = 1 << 5
)

// noTimeLimitSec is the sentinel written in place of an absent time_limit
// or cpu_time_limit (§4.1 fields 8-9).
const noTimeLimitSec int64 = -1

// EncodeRequest builds the request body for argv/exe/opts: the fd mask
// byte, argv, env, and the namespace/cgroup/prlimit/deadline fields, in
// exactly the order specified for the wire body. It returns the body
// bytes and the fd mask (which the caller needs to decide which FDs to
// place in the sendmsg ancillary data, and in what order).
func EncodeRequest(exe domain.ExecutableSelector, argv, env []string, opts domain.RequestOptions) ([]byte, uint8, error) {
	if err := validateStrings("argv", argv); err != nil {
		return nil, 0, err
	}
	if err := validateStrings("env", env); err != nil {
		return nil, 0, err
	}

	mask := fdMask(exe, opts)

	size, err := sizeRequest(argv, env, opts)
	if err != nil {
		return nil, 0, err
	}

	e := newEncoder(size)
	e.putU8(mask)
	encodeStrings(e, argv)
	encodeStrings(e, env)
	encodeUserNamespace(e, opts.Namespaces.User)
	if err := encodeMountNamespace(e, opts.Namespaces.Mount); err != nil {
		return nil, 0, err
	}
	encodeCgroup(e, opts.Cgroup)
	encodePrlimit(e, opts.Prlimit)
	encodeDuration(e, opts.TimeLimit)
	encodeDuration(e, opts.CPUTimeLimit)

	return e.bytes(), mask, nil
}

func validateStrings(field string, ss []string) error {
	for _, s := range ss {
		if err := checkNoNUL(field, s); err != nil {
			return err
		}
	}
	return nil
}

func fdMask(exe domain.ExecutableSelector, opts domain.RequestOptions) uint8 {
	var m uint8
	if exe.IsFD() {
		m |= FDMaskExecutable
	}
	if opts.Stdin != nil {
		m |= FDMaskStdin
	}
	if opts.Stdout != nil {
		m |= FDMaskStdout
	}
	if opts.Stderr != nil {
		m |= FDMaskStderr
	}
	if opts.SeccompFd != nil {
		m |= FDMaskSeccomp
	}
	return m
}

func sizeRequest(argv, env []string, opts domain.RequestOptions) (int, error) {
	n := 1 // fds.mask
	n += 4 + sizeStrings(argv)
	n += 4 + sizeStrings(env)
	n += sizeUserNamespace(opts.Namespaces.User)
	mountSize, err := sizeMountNamespace(opts.Namespaces.Mount)
	if err != nil {
		return 0, err
	}
	n += mountSize
	n += sizeCgroup()
	n += sizePrlimit()
	n += sizeDuration() * 2
	return n, nil
}

func sizeStrings(ss []string) int {
	n := 0
	for _, s := range ss {
		n += sizeCString(s)
	}
	return n
}

func encodeStrings(e *encoder, ss []string) {
	e.putU32(uint32(len(ss)))
	for _, s := range ss {
		e.putCString(s)
	}
}

func decodeStrings(d *decoder, field string) ([]string, error) {
	n, err := d.getU32(field + ".len")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		s, err := d.getCString(field)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func sizeUserNamespace(u domain.UserNamespace) int {
	n := 1 // mask
	if u.InsideUID != nil {
		n += 4
	}
	if u.InsideGID != nil {
		n += 4
	}
	return n
}

func encodeUserNamespace(e *encoder, u domain.UserNamespace) {
	var mask uint8
	if u.InsideUID != nil {
		mask |= userMaskInsideUID
	}
	if u.InsideGID != nil {
		mask |= userMaskInsideGID
	}
	e.putU8(mask)
	if u.InsideUID != nil {
		e.putU32(*u.InsideUID)
	}
	if u.InsideGID != nil {
		e.putU32(*u.InsideGID)
	}
}

func decodeUserNamespace(d *decoder) (domain.UserNamespace, error) {
	var u domain.UserNamespace
	mask, err := d.getU8("user.mask")
	if err != nil {
		return u, err
	}
	if mask&userMaskInsideUID != 0 {
		v, err := d.getU32("user.inside_uid")
		if err != nil {
			return u, err
		}
		u.InsideUID = &v
	}
	if mask&userMaskInsideGID != 0 {
		v, err := d.getU32("user.inside_gid")
		if err != nil {
			return u, err
		}
		u.InsideGID = &v
	}
	return u, nil
}

func sizeCgroup() int {
	return 1 + 4 + 8 + 8 + 4 + 4
}

func encodeCgroup(e *encoder, c domain.Cgroup) {
	var mask uint8
	if c.ProcessNumLimit != nil {
		mask |= cgroupMaskProcessNum
	}
	if c.MemoryLimitInBytes != nil {
		mask |= cgroupMaskMemory
	}
	if c.SwapLimitInBytes != nil {
		mask |= cgroupMaskSwap
	}
	if c.CPUMaxBandwidth != nil {
		mask |= cgroupMaskCPUMax
	}
	e.putU8(mask)
	e.putU32(deref32(c.ProcessNumLimit))
	e.putU64(deref64(c.MemoryLimitInBytes))
	e.putU64(deref64(c.SwapLimitInBytes))
	if c.CPUMaxBandwidth != nil {
		e.putU32(c.CPUMaxBandwidth.MaxUsec)
		e.putU32(c.CPUMaxBandwidth.PeriodUsec)
	} else {
		e.putU32(0)
		e.putU32(0)
	}
}

func decodeCgroup(d *decoder) (domain.Cgroup, error) {
	var c domain.Cgroup
	mask, err := d.getU8("cgroup.mask")
	if err != nil {
		return c, err
	}
	procNum, err := d.getU32("cgroup.process_num_limit")
	if err != nil {
		return c, err
	}
	mem, err := d.getU64("cgroup.memory_limit_in_bytes")
	if err != nil {
		return c, err
	}
	swap, err := d.getU64("cgroup.swap_limit_in_bytes")
	if err != nil {
		return c, err
	}
	maxUsec, err := d.getU32("cgroup.cpu_max.max_usec")
	if err != nil {
		return c, err
	}
	periodUsec, err := d.getU32("cgroup.cpu_max.period_usec")
	if err != nil {
		return c, err
	}
	if mask&cgroupMaskProcessNum != 0 {
		c.ProcessNumLimit = &procNum
	}
	if mask&cgroupMaskMemory != 0 {
		c.MemoryLimitInBytes = &mem
	}
	if mask&cgroupMaskSwap != 0 {
		c.SwapLimitInBytes = &swap
	}
	if mask&cgroupMaskCPUMax != 0 {
		c.CPUMaxBandwidth = &domain.CPUMaxBandwidth{MaxUsec: maxUsec, PeriodUsec: periodUsec}
	}
	return c, nil
}

func sizePrlimit() int {
	return 1 + 8*6
}

func encodePrlimit(e *encoder, p domain.Prlimit) {
	var mask uint8
	fields := []*uint64{p.AddressSpace, p.CoreFileSize, p.CPUTimeSeconds, p.FileSize, p.FDCount, p.StackSize}
	bits := []uint8{prlimitMaskAS, prlimitMaskCore, prlimitMaskCPU, prlimitMaskFsize, prlimitMaskNofile, prlimitMaskStack}
	for i, f := range fields {
		if f != nil {
			mask |= bits[i]
		}
	}
	e.putU8(mask)
	for _, f := range fields {
		e.putU64(deref64(f))
	}
}

func decodePrlimit(d *decoder) (domain.Prlimit, error) {
	var p domain.Prlimit
	mask, err := d.getU8("prlimit.mask")
	if err != nil {
		return p, err
	}
	names := []string{"prlimit.as", "prlimit.core", "prlimit.cpu", "prlimit.fsize", "prlimit.nofile", "prlimit.stack"}
	bits := []uint8{prlimitMaskAS, prlimitMaskCore, prlimitMaskCPU, prlimitMaskFsize, prlimitMaskNofile, prlimitMaskStack}
	targets := []**uint64{&p.AddressSpace, &p.CoreFileSize, &p.CPUTimeSeconds, &p.FileSize, &p.FDCount, &p.StackSize}
	for i := range names {
		v, err := d.getU64(names[i])
		if err != nil {
			return p, err
		}
		if mask&bits[i] != 0 {
			*targets[i] = &v
		}
	}
	return p, nil
}

func sizeDuration() int {
	return 8 + 4 // sec:i64, nsec:u32
}

func encodeDuration(e *encoder, d *time.Duration) {
	if d == nil {
		e.putI64(noTimeLimitSec)
		e.putU32(0)
		return
	}
	e.putI64(int64(d.Truncate(time.Second) / time.Second))
	e.putU32(uint32((*d % time.Second).Nanoseconds()))
}

func decodeDuration(d *decoder, field string) (*time.Duration, error) {
	sec, err := d.getI64(field + ".sec")
	if err != nil {
		return nil, err
	}
	nsec, err := d.getU32(field + ".nsec")
	if err != nil {
		return nil, err
	}
	if sec < 0 {
		return nil, nil
	}
	v := time.Duration(sec)*time.Second + time.Duration(nsec)*time.Nanosecond
	return &v, nil
}

func deref32(v *uint32) uint32 {
	if v == nil {
		return 0
	}
	return *v
}

func deref64(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v
}

// DecodeRequestBody parses a full request body (everything after the
// u64 header) into argv, env and opts. fdMask is the byte already read
// as part of the body (callers typically also use it, via fds.mask, to
// validate the ancillary FD count before calling this).
func DecodeRequestBody(body []byte) (fdMask uint8, argv, env []string, opts domain.RequestOptions, err error) {
	d := newDecoder(body)

	fdMask, err = d.getU8("fds.mask")
	if err != nil {
		return
	}
	argv, err = decodeStrings(d, "argv")
	if err != nil {
		return
	}
	env, err = decodeStrings(d, "env")
	if err != nil {
		return
	}
	opts.Namespaces.User, err = decodeUserNamespace(d)
	if err != nil {
		return
	}
	opts.Namespaces.Mount, err = decodeMountNamespace(d)
	if err != nil {
		return
	}
	opts.Cgroup, err = decodeCgroup(d)
	if err != nil {
		return
	}
	opts.Prlimit, err = decodePrlimit(d)
	if err != nil {
		return
	}
	opts.TimeLimit, err = decodeDuration(d, "time_limit")
	if err != nil {
		return
	}
	opts.CPUTimeLimit, err = decodeDuration(d, "cpu_time_limit")
	if err != nil {
		return
	}
	if d.remaining() != 0 {
		err = errBodyLenMismatch(uint64(len(body)), uint64(len(body)-d.remaining()))
	}
	return
}
