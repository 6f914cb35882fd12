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
Package vclock holds the per-task dilated clock state.

All values are virtual nanoseconds on the realtime scale. A zero virtual start
time means the task does not participate in dilation.
*/
package vclock

import (
	"sync"
)

// NotSet is the value of VirtualStart for a task that is not dilated
const NotSet = 0

// State is a copy of the clock fields
type State struct {
	VirtualStart int64
	Frozen       int64
	PastPhysical int64
	PastVirtual  int64
	Wakeup       int64
}

// Clock is the dilation state of a single task.
// For multi-threaded processes the clock of the thread group leader is authoritative.
type Clock struct {
	mu    sync.Mutex
	state State
}

// Lock acquires the task lock. The synchronizer holds it while it inspects and signals the task.
func (c *Clock) Lock() { c.mu.Lock() }

// Unlock releases the task lock
func (c *Clock) Unlock() { c.mu.Unlock() }

// Dilated reports whether the task participates in dilation
func (c *Clock) Dilated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.VirtualStart != NotSet
}

// Now returns the current virtual time of the task
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Frozen
}

// Freeze sets the task clock to the common reference instant
func (c *Clock) Freeze(ref int64) {
	c.mu.Lock()
	c.state = State{VirtualStart: ref, Frozen: ref}
	c.mu.Unlock()
}

// Reset takes the task out of dilation
func (c *Clock) Reset() {
	c.mu.Lock()
	c.state = State{}
	c.mu.Unlock()
}

// AdvanceTo moves virtual now forward. It never goes backwards.
func (c *Clock) AdvanceTo(v int64) {
	c.mu.Lock()
	c.advanceTo(v)
	c.mu.Unlock()
}

func (c *Clock) advanceTo(v int64) {
	if c.state.VirtualStart == NotSet {
		return
	}
	if v > c.state.Frozen {
		c.state.Frozen = v
	}
}

// Account adds one round worth of elapsed time and moves virtual now to v
func (c *Clock) Account(virtual, physical, v int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.VirtualStart == NotSet {
		return
	}
	c.state.PastVirtual += virtual
	c.state.PastPhysical += physical
	c.advanceTo(v)
}

// SetWakeup records the deadline of the blocking call the task is in
func (c *Clock) SetWakeup(v int64) {
	c.mu.Lock()
	c.state.Wakeup = v
	c.mu.Unlock()
}

// Snapshot returns a copy of the clock fields
func (c *Clock) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
