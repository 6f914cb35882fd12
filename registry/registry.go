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

package registry

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrAlreadyRegistered is returned when the pid already has a live handle
	ErrAlreadyRegistered = errors.New("pid already has a pending blocking call")
	// ErrRegistryFull is returned when a table reached its capacity
	ErrRegistryFull = errors.New("registry is full")
)

// Table is a pid-keyed table of handles of one kind
type Table[H Handle] struct {
	mu       sync.Mutex
	handles  map[int]H
	capacity int
}

// NewTable returns an empty table. Zero capacity means unlimited.
func NewTable[H Handle](capacity int) *Table[H] {
	return &Table[H]{handles: map[int]H{}, capacity: capacity}
}

// Register adds h. It fails if the pid already has a handle in this table.
func (t *Table[H]) Register(h H) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, found := t.handles[h.PID()]; found {
		return fmt.Errorf("%s %d: %w", h.Kind(), h.PID(), ErrAlreadyRegistered)
	}
	if t.capacity > 0 && len(t.handles) >= t.capacity {
		return fmt.Errorf("%s: %w", h.Kind(), ErrRegistryFull)
	}
	t.handles[h.PID()] = h
	return nil
}

// Lookup returns the live handle of the pid
func (t *Table[H]) Lookup(pid int) (H, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, found := t.handles[pid]
	return h, found
}

// Remove drops the handle of the pid. Removing a missing pid is fine.
func (t *Table[H]) Remove(pid int) {
	t.mu.Lock()
	delete(t.handles, pid)
	t.mu.Unlock()
}

// Len returns the number of live handles
func (t *Table[H]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}

// Handles returns the live handles
func (t *Table[H]) Handles() []H {
	t.mu.Lock()
	defer t.mu.Unlock()
	res := make([]H, 0, len(t.handles))
	for _, h := range t.handles {
		res = append(res, h)
	}
	return res
}

// Reset drops all handles
func (t *Table[H]) Reset() {
	t.mu.Lock()
	t.handles = map[int]H{}
	t.mu.Unlock()
}

// Registries are the three blocked-call tables
type Registries struct {
	Sleep  *Table[*SleepHandle]
	Poll   *Table[*PollHandle]
	Select *Table[*SelectHandle]
}

// New returns empty registries, each table limited to capacity handles
func New(capacity int) *Registries {
	return &Registries{
		Sleep:  NewTable[*SleepHandle](capacity),
		Poll:   NewTable[*PollHandle](capacity),
		Select: NewTable[*SelectHandle](capacity),
	}
}

// Lookup returns the pending call of the pid in any table, nil if there is none.
// Tables are consulted one at a time, never nested.
func (r *Registries) Lookup(pid int) Handle {
	if h, found := r.Sleep.Lookup(pid); found {
		return h
	}
	if h, found := r.Poll.Lookup(pid); found {
		return h
	}
	if h, found := r.Select.Lookup(pid); found {
		return h
	}
	return nil
}

// Blocked reports whether the pid is parked in a virtualized call
func (r *Registries) Blocked(pid int) bool {
	return r.Lookup(pid) != nil
}

// Register adds h to its table. A pid may only be in one virtualized call at a time.
// Only the owning task registers for its own pid, so the check across tables cannot race.
func (r *Registries) Register(h Handle) error {
	if other := r.Lookup(h.PID()); other != nil {
		return fmt.Errorf("%s %d already in %s: %w", h.Kind(), h.PID(), other.Kind(), ErrAlreadyRegistered)
	}
	switch v := h.(type) {
	case *SleepHandle:
		return r.Sleep.Register(v)
	case *PollHandle:
		return r.Poll.Register(v)
	case *SelectHandle:
		return r.Select.Register(v)
	}
	return fmt.Errorf("unsupported handle type %T", h)
}

// Remove drops h from its table
func (r *Registries) Remove(h Handle) {
	switch h.Kind() {
	case KindSleep:
		r.Sleep.Remove(h.PID())
	case KindPoll:
		r.Poll.Remove(h.PID())
	case KindSelect:
		r.Select.Remove(h.PID())
	}
}

// Len returns the number of live handles across all tables
func (r *Registries) Len() int {
	return r.Sleep.Len() + r.Poll.Len() + r.Select.Len()
}

// Handles returns the live handles of all tables
func (r *Registries) Handles() []Handle {
	var res []Handle
	for _, h := range r.Sleep.Handles() {
		res = append(res, h)
	}
	for _, h := range r.Poll.Handles() {
		res = append(res, h)
	}
	for _, h := range r.Select.Handles() {
		res = append(res, h)
	}
	return res
}

// Reset drops every handle
func (r *Registries) Reset() {
	r.Sleep.Reset()
	r.Poll.Reset()
	r.Select.Reset()
}
