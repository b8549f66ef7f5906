package shm

import "time"

// writeTimespec stores t at off as (sec:i64, nsec:u32... widened to i64
// for alignment simplicity); an absent time is encoded as seconds<0
// (§3.1: "seconds<0 ⇒ unset"). The writers (the tracee's exec-start
// stamp and pid1's waitid stamp) pass time.Now(), so the stored value is
// a wall-clock reading, not CLOCK_MONOTONIC_RAW; a runtime computed from
// two such stamps includes any wall-clock adjustment made between them.
func (p *Page) writeTimespec(off int, t time.Time, set bool) {
	if !set {
		p.putI64(off, -1)
		p.putI64(off+8, 0)
		return
	}
	sec := t.Unix()
	nsec := int64(t.Nanosecond())
	p.putI64(off, sec)
	p.putI64(off+8, nsec)
}

func (p *Page) readTimespec(off int) (time.Time, bool) {
	sec := p.getI64(off)
	if sec < 0 {
		return time.Time{}, false
	}
	nsec := p.getI64(off + 8)
	return time.Unix(sec, nsec), true
}

// writeUsec biases v by +1 so that the wire value 0 means "unset"
// (§4.2: "write(usec, Option<u64>) biases +1 so zero means unset").
func (p *Page) writeUsec(off int, v *uint64) {
	if v == nil {
		p.putU64(off, 0)
		return
	}
	p.putU64(off, *v+1)
}

func (p *Page) readUsec(off int) (uint64, bool) {
	raw := p.getU64(off)
	if raw == 0 {
		return 0, false
	}
	return raw - 1, true
}
