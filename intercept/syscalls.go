/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package intercept

import (
	"golang.org/x/sys/unix"
)

// Syscalls are the real time related system calls
type Syscalls interface {
	Nanosleep(req, rem *unix.Timespec) error
	ClockNanosleep(clockid int32, flags int, req, rem *unix.Timespec) error
	ClockGettime(clockid int32, ts *unix.Timespec) error
	Poll(fds []unix.PollFd, timeout int) (int, error)
	Select(n int, r, w, e *unix.FdSet, timeout *unix.Timeval) (int, error)
}

type unixSyscalls struct{}

// Real returns the system calls of the host
func Real() Syscalls {
	return unixSyscalls{}
}

func (unixSyscalls) Nanosleep(req, rem *unix.Timespec) error {
	return unix.Nanosleep(req, rem)
}

func (unixSyscalls) ClockNanosleep(clockid int32, flags int, req, rem *unix.Timespec) error {
	return unix.ClockNanosleep(clockid, flags, req, rem)
}

func (unixSyscalls) ClockGettime(clockid int32, ts *unix.Timespec) error {
	return unix.ClockGettime(clockid, ts)
}

func (unixSyscalls) Poll(fds []unix.PollFd, timeout int) (int, error) {
	return unix.Poll(fds, timeout)
}

func (unixSyscalls) Select(n int, r, w, e *unix.FdSet, timeout *unix.Timeval) (int, error) {
	return unix.Select(n, r, w, e, timeout)
}

// readiness checks descriptors without blocking
type readiness struct {
	sys Syscalls
}

// poll evaluates fds in place, filling revents
func (r readiness) poll(fds []unix.PollFd) (int, error) {
	if len(fds) == 0 {
		return 0, nil
	}
	return r.sys.Poll(fds, 0)
}

// sel evaluates the requested sets into the result sets
func (r readiness) sel(n int, in, out, ex, rin, rout, rex *unix.FdSet) (int, error) {
	*rin = *in
	*rout = *out
	*rex = *ex
	return r.sys.Select(n, rin, rout, rex, &unix.Timeval{})
}
