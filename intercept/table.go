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
	"context"
	"errors"
	"sync"

	"github.com/facebook/dilation/task"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Table is the dispatch table of the time related calls. Entries go to the real
// system calls until Patch swaps in the dilated Layer.
type Table struct {
	real Syscalls

	mu      sync.RWMutex
	layer   *Layer
	patched bool
}

// NewTable returns an unpatched table over real
func NewTable(real Syscalls) *Table {
	return &Table{real: real}
}

// Bind sets the layer installed on Patch
func (d *Table) Bind(l *Layer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.layer = l
}

// Patch installs the dilated entries
func (d *Table) Patch() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.layer == nil {
		return errors.New("no dilation layer bound")
	}
	if d.patched {
		return errors.New("already patched")
	}
	d.patched = true
	log.Info("syscall table patched")
	return nil
}

// Restore puts the real entries back
func (d *Table) Restore() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.patched {
		return errors.New("not patched")
	}
	d.patched = false
	log.Info("syscall table restored")
	return nil
}

// Patched reports whether the dilated entries are installed
func (d *Table) Patched() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.patched
}

func (d *Table) entry() *Layer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.patched {
		return d.layer
	}
	return nil
}

// Nanosleep entry
func (d *Table) Nanosleep(ctx context.Context, t task.Task, req, rem *unix.Timespec) error {
	if l := d.entry(); l != nil {
		return l.Nanosleep(ctx, t, req, rem)
	}
	return d.real.Nanosleep(req, rem)
}

// ClockNanosleep entry
func (d *Table) ClockNanosleep(ctx context.Context, t task.Task, clockid int32, flags int, req, rem *unix.Timespec) error {
	if l := d.entry(); l != nil {
		return l.ClockNanosleep(ctx, t, clockid, flags, req, rem)
	}
	return d.real.ClockNanosleep(clockid, flags, req, rem)
}

// ClockGettime entry
func (d *Table) ClockGettime(t task.Task, clockid int32, ts *unix.Timespec) error {
	if l := d.entry(); l != nil {
		return l.ClockGettime(t, clockid, ts)
	}
	return d.real.ClockGettime(clockid, ts)
}

// Poll entry
func (d *Table) Poll(ctx context.Context, t task.Task, fds []unix.PollFd, timeout int) (int, error) {
	if l := d.entry(); l != nil {
		return l.Poll(ctx, t, fds, timeout)
	}
	return d.real.Poll(fds, timeout)
}

// Select entry
func (d *Table) Select(ctx context.Context, t task.Task, n int, r, w, e *unix.FdSet, timeout *unix.Timeval) (int, error) {
	if l := d.entry(); l != nil {
		return l.Select(ctx, t, n, r, w, e, timeout)
	}
	return d.real.Select(n, r, w, e, timeout)
}
