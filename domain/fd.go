//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package domain

import (
	"fmt"
	"sync"
)

// FD wraps a raw file descriptor and enforces single-owner transfer
// semantics: it may be Take()n exactly once. This is how boxd tracks the
// "every opened FD is owned by exactly one component" invariant across
// the socketpair / pidfd / memfd / eventfd / pipe descriptors that cross
// process boundaries via SCM_RIGHTS or clone/exec inheritance.
type FD struct {
	mu     sync.Mutex
	fd     int
	taken  bool
	closed bool
}

// NewFD wraps an already-open descriptor.
func NewFD(fd int) *FD {
	return &FD{fd: fd}
}

// Int returns the raw descriptor number without transferring ownership.
// Safe to call after Take() only for logging; the descriptor may already
// belong to another component by then.
func (f *FD) Int() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fd
}

// Take transfers ownership to the caller. Calling it twice is a logic
// error (two components would believe they each own the descriptor) and
// panics rather than silently double-closing or double-using it.
func (f *FD) Take() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taken {
		panic(fmt.Sprintf("domain: fd %d taken more than once", f.fd))
	}
	f.taken = true
	return f.fd
}

// Close closes the descriptor if it hasn't been taken or closed already.
// Safe to call multiple times.
func (f *FD) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taken || f.closed || f.fd < 0 {
		return nil
	}
	f.closed = true
	return closeFD(f.fd)
}
