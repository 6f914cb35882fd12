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

/*
Package intercept implements the dilated versions of the time related
system calls. Each call either goes to the real operation or parks the
calling task until the round synchronizer lets enough virtual time pass.
*/
package intercept

import (
	"context"
	"errors"

	"github.com/facebook/dilation/experiment"
	"github.com/facebook/dilation/registry"
	"github.com/facebook/dilation/stats"
	"github.com/facebook/dilation/task"
	"github.com/facebook/dilation/tracer"
	"github.com/facebook/dilation/vclock"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// select sets hold this many descriptors
const fdSetSize = 1024

// Layer is the dilated implementation of the intercepted calls
type Layer struct {
	exp   *experiment.Experiment
	sys   Syscalls
	ready readiness
	cal   vclock.Calibration
	stats stats.StatsServer
	// fdLimit is the descriptor limit of the process, select never looks past it
	fdLimit int
}

// NewLayer returns a layer resolving calls against exp and delegating to sys
func NewLayer(exp *experiment.Experiment, sys Syscalls, st stats.StatsServer) *Layer {
	if st == nil {
		st = stats.NewStats()
	}
	l := &Layer{
		exp:     exp,
		sys:     sys,
		ready:   readiness{sys: sys},
		stats:   st,
		fdLimit: fdSetSize,
	}
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err == nil && rl.Cur < uint64(l.fdLimit) {
		l.fdLimit = int(rl.Cur)
	}
	return l
}

func (l *Layer) count(kind registry.Kind, what string) {
	l.stats.UpdateCounterBy("syscall."+kind.String()+"."+what, 1)
}

func (l *Layer) readClock(clockid int32) int64 {
	var ts unix.Timespec
	if err := l.sys.ClockGettime(clockid, &ts); err != nil {
		log.Errorf("reading clock %d: %v", clockid, err)
		return 0
	}
	return ts.Nano()
}

// offset is realtime minus monotonic, measured on first use
func (l *Layer) offset() int64 {
	return l.cal.Offset(
		func() int64 { return l.readClock(unix.CLOCK_REALTIME) },
		func() int64 { return l.readClock(unix.CLOCK_MONOTONIC) },
	)
}

// outcome maps a Block error to the result of the call. It returns true when the call must be delegated.
func outcome(kind registry.Kind, pid int, err error) (bool, error) {
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, registry.ErrRegistryFull):
		log.Warningf("pid %d: %s: %v, using the real call", pid, kind, err)
		return true, nil
	case errors.Is(err, registry.ErrAlreadyRegistered):
		log.Errorf("pid %d: %v", pid, err)
		return false, unix.EBUSY
	}
	return false, unix.EINTR
}

func validTimespec(ts *unix.Timespec) bool {
	return ts.Sec >= 0 && ts.Nsec >= 0 && ts.Nsec < 1e9
}

// Nanosleep sleeps for req on the virtual clock of t
func (l *Layer) Nanosleep(ctx context.Context, t task.Task, req, rem *unix.Timespec) error {
	if req == nil {
		return unix.EFAULT
	}
	tr, ok := l.exp.Participant(t)
	if !ok {
		l.count(registry.KindSleep, "delegated")
		return l.sys.Nanosleep(req, rem)
	}
	if !validTimespec(req) {
		return unix.EINVAL
	}
	now := t.Leader().Clock().Now()
	return l.sleepUntil(ctx, t, tr, now, now+req.Nano(), func() error {
		return l.sys.Nanosleep(req, rem)
	})
}

// ClockNanosleep sleeps on clockid, relative or, with TIMER_ABSTIME, until req
func (l *Layer) ClockNanosleep(ctx context.Context, t task.Task, clockid int32, flags int, req, rem *unix.Timespec) error {
	if req == nil {
		return unix.EFAULT
	}
	if !vclock.Virtualized(clockid) {
		return l.sys.ClockNanosleep(clockid, flags, req, rem)
	}
	tr, ok := l.exp.Participant(t)
	if !ok {
		l.count(registry.KindSleep, "delegated")
		return l.sys.ClockNanosleep(clockid, flags, req, rem)
	}
	if !validTimespec(req) {
		return unix.EINVAL
	}
	now := t.Leader().Clock().Now()
	wakeup := now + req.Nano()
	if flags&unix.TIMER_ABSTIME != 0 {
		wakeup = req.Nano()
		if vclock.IsMonotonic(clockid) {
			wakeup += l.offset()
		}
	}
	return l.sleepUntil(ctx, t, tr, now, wakeup, func() error {
		return l.sys.ClockNanosleep(clockid, flags, req, rem)
	})
}

func (l *Layer) sleepUntil(ctx context.Context, t task.Task, tr *tracer.Tracer, now, wakeup int64, real func() error) error {
	if wakeup <= now || wakeup-now < tr.FreezeQuantum {
		l.count(registry.KindSleep, "skipped")
		return nil
	}
	h := registry.NewSleepHandle(t.PID(), wakeup)
	t.Clock().SetWakeup(wakeup)
	err := l.exp.Block(ctx, t, h, h.Due)
	t.Clock().SetWakeup(0)
	delegate, err := outcome(registry.KindSleep, t.PID(), err)
	if delegate {
		return real()
	}
	return err
}

// ClockGettime reads clockid. Realtime and monotonic clocks of dilated tasks read virtual time.
func (l *Layer) ClockGettime(t task.Task, clockid int32, ts *unix.Timespec) error {
	if ts == nil {
		return unix.EFAULT
	}
	if !vclock.Virtualized(clockid) {
		return l.sys.ClockGettime(clockid, ts)
	}
	if _, ok := l.exp.Participant(t); !ok {
		return l.sys.ClockGettime(clockid, ts)
	}
	v := t.Leader().Clock().Now()
	if vclock.IsMonotonic(clockid) {
		v -= l.offset()
	}
	*ts = unix.NsecToTimespec(v)
	return nil
}

// Poll waits up to timeout milliseconds of virtual time for fds to become ready
func (l *Layer) Poll(ctx context.Context, t task.Task, fds []unix.PollFd, timeout int) (int, error) {
	if timeout <= 0 {
		return l.sys.Poll(fds, timeout)
	}
	tr, ok := l.exp.Participant(t)
	if !ok {
		l.count(registry.KindPoll, "delegated")
		return l.sys.Poll(fds, timeout)
	}
	now := t.Leader().Clock().Now()
	wakeup := now + int64(timeout)*1e6

	n, err := l.ready.poll(fds)
	if err != nil || n > 0 || wakeup-now < tr.FreezeQuantum {
		return n, err
	}

	h := registry.NewPollHandle(t.PID(), wakeup, fds)
	check := func(now int64) bool {
		h.Ready, h.Err = l.ready.poll(h.Fds)
		return h.Err != nil || h.Ready > 0 || now >= h.Wakeup
	}
	t.Clock().SetWakeup(wakeup)
	err = l.exp.Block(ctx, t, h, check)
	t.Clock().SetWakeup(0)
	delegate, err := outcome(registry.KindPoll, t.PID(), err)
	if delegate {
		return l.sys.Poll(fds, timeout)
	}
	if err != nil {
		return -1, err
	}
	copy(fds, h.Fds)
	if h.Err != nil {
		return -1, h.Err
	}
	return h.Ready, nil
}

// Select waits up to timeout of virtual time for the first n descriptors of the sets to become ready.
// The remaining timeout is always written back as zero.
func (l *Layer) Select(ctx context.Context, t task.Task, n int, r, w, e *unix.FdSet, timeout *unix.Timeval) (int, error) {
	if timeout == nil {
		return l.sys.Select(n, r, w, e, timeout)
	}
	if n < 0 || timeout.Sec < 0 || timeout.Usec < 0 {
		return -1, unix.EINVAL
	}
	tr, ok := l.exp.Participant(t)
	if !ok {
		l.count(registry.KindSelect, "delegated")
		return l.sys.Select(n, r, w, e, timeout)
	}
	n = min(n, l.fdLimit)
	now := t.Leader().Clock().Now()
	wakeup := now + timeout.Nano()

	h := registry.NewSelectHandle(t.PID(), wakeup, n, r, w, e)
	writeBack := func() {
		if r != nil {
			*r = h.ResIn
		}
		if w != nil {
			*w = h.ResOut
		}
		if e != nil {
			*e = h.ResEx
		}
		*timeout = unix.Timeval{}
	}
	check := func(now int64) bool {
		h.Ready, h.Err = l.ready.sel(h.N, &h.In, &h.Out, &h.Ex, &h.ResIn, &h.ResOut, &h.ResEx)
		return h.Err != nil || h.Ready > 0 || now >= h.Wakeup
	}

	check(now)
	if h.Err != nil {
		return -1, h.Err
	}
	if h.Ready > 0 || wakeup <= now || wakeup-now < tr.FreezeQuantum {
		writeBack()
		return h.Ready, nil
	}

	t.Clock().SetWakeup(wakeup)
	err := l.exp.Block(ctx, t, h, check)
	t.Clock().SetWakeup(0)
	delegate, err := outcome(registry.KindSelect, t.PID(), err)
	if delegate {
		return l.sys.Select(n, r, w, e, timeout)
	}
	if err != nil {
		return -1, err
	}
	if h.Err != nil {
		return -1, h.Err
	}
	writeBack()
	return h.Ready, nil
}
