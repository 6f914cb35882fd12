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
Package registry keeps track of tasks parked in virtualized blocking calls,
so the synchronizer can find a specific call and wake it directly.
*/
package registry

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/facebook/dilation/rendezvous"
	"golang.org/x/sys/unix"
)

// Kind is the kind of blocking call a handle belongs to
type Kind int

// Supported blocking call kinds
const (
	KindSleep Kind = iota
	KindPoll
	KindSelect
)

func (k Kind) String() string {
	switch k {
	case KindSleep:
		return "sleep"
	case KindPoll:
		return "poll"
	case KindSelect:
		return "select"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Wake is what the synchronizer hands to a parked call
type Wake struct {
	// Now is the virtual time of the task's group at the moment of the wake
	Now int64
	// Forced is set when the experiment is stopping and deadlines no longer matter
	Forced bool
}

// Handle is a registered pending call
type Handle interface {
	PID() int
	Kind() Kind
	// Due reports whether the call has to be woken at virtual time now
	Due(now int64) bool
	call() *Call
}

// Call is the wait-channel part shared by every handle.
// The granted flag is only touched under the owning task's lock.
type Call struct {
	pid     int
	kind    Kind
	point   *rendezvous.Point[Wake]
	granted bool
	done    atomic.Bool
}

func (c *Call) init(pid int, kind Kind) {
	c.pid = pid
	c.kind = kind
	c.point = rendezvous.New[Wake]()
}

// PID of the task that owns the call
func (c *Call) PID() int { return c.pid }

// Kind of the call
func (c *Call) Kind() Kind { return c.kind }

func (c *Call) call() *Call { return c }

// Done reports whether the call was signaled and has not consumed the signal yet
func (c *Call) Done() bool { return c.done.Load() }

// Signal marks the call done and wakes it. Caller holds the task lock.
// It returns false if the previous signal was not consumed yet.
func Signal(ctx context.Context, h Handle, w Wake) (bool, error) {
	c := h.call()
	if c.granted {
		return false, nil
	}
	c.granted = true
	c.done.Store(true)
	if err := c.point.Grant(ctx, w); err != nil {
		c.granted = false
		c.done.Store(false)
		return false, err
	}
	return true, nil
}

// Consume clears the outstanding signal. Caller holds the task lock.
func Consume(h Handle) {
	c := h.call()
	c.granted = false
	c.done.Store(false)
}

// Wait parks the calling task until the synchronizer signals the call
func Wait(ctx context.Context, h Handle) (Wake, error) {
	return h.call().point.Await(ctx)
}

// Yield hands control back to the synchronizer after a wake
func Yield(h Handle) {
	h.call().point.Release()
}

// AwaitYield blocks the synchronizer until the woken task yields
func AwaitYield(ctx context.Context, h Handle) error {
	return h.call().point.AwaitRelease(ctx)
}

// Abandon unblocks both sides of the call for good
func Abandon(h Handle) {
	h.call().point.Close()
}

// SleepHandle is a pending sleep or timed wait
type SleepHandle struct {
	Call
	Wakeup int64
}

// NewSleepHandle returns a sleep handle with the given virtual deadline
func NewSleepHandle(pid int, wakeup int64) *SleepHandle {
	h := &SleepHandle{Wakeup: wakeup}
	h.init(pid, KindSleep)
	return h
}

// Due implements Handle
func (h *SleepHandle) Due(now int64) bool { return now >= h.Wakeup }

// PollHandle is a pending poll. Fds hold the caller's descriptors and receive revents.
type PollHandle struct {
	Call
	Wakeup int64
	Fds    []unix.PollFd
	Ready  int
	Err    error
}

// NewPollHandle returns a poll handle over a private copy of fds
func NewPollHandle(pid int, wakeup int64, fds []unix.PollFd) *PollHandle {
	own := make([]unix.PollFd, len(fds))
	copy(own, fds)
	h := &PollHandle{Wakeup: wakeup, Fds: own}
	h.init(pid, KindPoll)
	return h
}

// Due implements Handle. Readiness can change at any time, so a poll is woken every round.
func (h *PollHandle) Due(int64) bool { return true }

// SelectHandle is a pending select. The Res* sets receive the ready descriptors.
type SelectHandle struct {
	Call
	Wakeup int64
	N      int
	In     unix.FdSet
	Out    unix.FdSet
	Ex     unix.FdSet
	ResIn  unix.FdSet
	ResOut unix.FdSet
	ResEx  unix.FdSet
	Ready  int
	Err    error
}

// NewSelectHandle returns a select handle over copies of the requested sets. Nil sets are empty.
func NewSelectHandle(pid int, wakeup int64, n int, in, out, ex *unix.FdSet) *SelectHandle {
	h := &SelectHandle{Wakeup: wakeup, N: n}
	h.init(pid, KindSelect)
	if in != nil {
		h.In = *in
	}
	if out != nil {
		h.Out = *out
	}
	if ex != nil {
		h.Ex = *ex
	}
	return h
}

// Due implements Handle. Like poll, select re-evaluates readiness every round.
func (h *SelectHandle) Due(int64) bool { return true }
