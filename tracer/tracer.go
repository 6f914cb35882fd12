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

package tracer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/davecgh/go-spew/spew"
	"github.com/facebook/dilation/rendezvous"
	"github.com/facebook/dilation/task"
	log "github.com/sirupsen/logrus"
)

// StopLog is written to the run log when the experiment is torn down
const StopLog = "STOP"

// Tracer owns a group of dilated processes rooted at its own task.
// The root is the tracer task: it never sits in the schedule queue and
// is the one handed control every round to run the granted budgets.
type Tracer struct {
	ID            int
	Lane          int
	Quantum       int64
	FreezeQuantum int64

	root    task.Task
	share   ShareFunc
	control *rendezvous.Point[string]

	mu      sync.Mutex
	queue   Queue
	valid   map[int]struct{}
	ignored map[int]struct{}
	runLog  string
	now     int64
}

// New returns a tracer for the process tree under root
func New(id int, root task.Task, lane int, quantum, freezeQuantum int64) *Tracer {
	return &Tracer{
		ID:            id,
		Lane:          lane,
		Quantum:       quantum,
		FreezeQuantum: freezeQuantum,
		root:          root,
		share:         EvenShare,
		control:       rendezvous.New[string](),
		valid:         map[int]struct{}{},
		ignored:       map[int]struct{}{},
	}
}

func (t *Tracer) String() string {
	return fmt.Sprintf("tracer %d (pid %d, lane %d)", t.ID, t.root.PID(), t.Lane)
}

// SetShare sets the share function used on refresh
func (t *Tracer) SetShare(f ShareFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.share = f
}

// Root returns the tracer task
func (t *Tracer) Root() task.Task {
	return t.root
}

// Control is where the synchronizer hands the tracer task its turn
func (t *Tracer) Control() *rendezvous.Point[string] {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.control
}

// Ignore excludes pid from scheduling. The entry is purged on the next refresh.
func (t *Tracer) Ignore(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ignored[pid] = struct{}{}
}

// Owns tells whether pid is the tracer task or a known member of its group
func (t *Tracer) Owns(pid int) bool {
	if pid == t.root.PID() {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.valid[pid]
	return ok
}

// Refresh discovers newly spawned processes and purges exited or ignored ones.
// It returns the number of processes in the queue.
func (t *Tracer) Refresh() int {
	alive := map[int]struct{}{}
	rootPID := t.root.PID()

	t.mu.Lock()
	defer t.mu.Unlock()

	for p := range task.Processes(t.root) {
		pid := p.PID()
		if pid == rootPID {
			continue
		}
		alive[pid] = struct{}{}
		if _, ok := t.ignored[pid]; ok {
			continue
		}
		if _, ok := t.valid[pid]; ok {
			continue
		}
		t.valid[pid] = struct{}{}
		t.queue.Elems = append(t.queue.Elems, &Elem{PID: pid})
		// spawned after the freeze, joins the group at its current virtual time
		if t.now != 0 {
			for _, th := range p.Threads() {
				if !th.Clock().Dilated() {
					th.Clock().Freeze(t.now)
				}
			}
		}
		log.Debugf("%s: added pid %d", t, pid)
	}

	kept := t.queue.Elems[:0]
	for _, e := range t.queue.Elems {
		_, isAlive := alive[e.PID]
		_, isIgnored := t.ignored[e.PID]
		if isAlive && !isIgnored {
			kept = append(kept, e)
			continue
		}
		delete(t.valid, e.PID)
		log.Debugf("%s: purged pid %d", t, e.PID)
	}
	clear(t.queue.Elems[len(kept):])
	t.queue.Elems = kept

	share := t.share(t.Quantum, len(t.queue.Elems))
	for _, e := range t.queue.Elems {
		e.InsnsShare = share
	}
	return len(t.queue.Elems)
}

// Queue returns a copy of the schedule queue
func (t *Tracer) Queue() []Elem {
	t.mu.Lock()
	defer t.mu.Unlock()
	res := make([]Elem, 0, len(t.queue.Elems))
	for _, e := range t.queue.Elems {
		res = append(res, *e)
	}
	return res
}

// Schedule computes the budgets for the coming round and records them in the run log.
// blocked is evaluated once per entry. It returns true if any entry got a nonzero budget.
func (t *Tracer) Schedule(p Policy, blocked func(pid int) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	runnable := make([]bool, len(t.queue.Elems))
	for i, e := range t.queue.Elems {
		runnable[i] = !blocked(e.PID)
	}
	p.Allocate(&t.queue, t.Quantum, runnable)

	if log.IsLevelEnabled(log.DebugLevel) {
		log.Debugf("%s: %s queue: %s", t, p.Name(), spew.Sdump(t.queue.Elems))
	}

	var b strings.Builder
	scheduled := false
	for _, e := range t.queue.Elems {
		if e.InsnsCurrRound <= 0 {
			continue
		}
		fmt.Fprintf(&b, "|%d,%d", e.PID, e.InsnsCurrRound)
		e.InsnsCurrRound = 0
		scheduled = true
	}
	t.runLog = b.String()
	return scheduled
}

// RunLog returns the run log of the last scheduled round
func (t *Tracer) RunLog() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runLog
}

// SetRunLog overwrites the run log
func (t *Tracer) SetRunLog(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.runLog = s
}

// Now returns the group virtual time at the start of the current round
func (t *Tracer) Now() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now
}

// Freeze pins the group virtual time
func (t *Tracer) Freeze(now int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Advance moves the group virtual time forward by one quantum and returns it
func (t *Tracer) Advance() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now += t.Quantum
	return t.now
}

// Reset drops all scheduling state
func (t *Tracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue = Queue{}
	t.valid = map[int]struct{}{}
	t.ignored = map[int]struct{}{}
	t.runLog = ""
	t.now = 0
}
