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
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash"
	"github.com/facebook/dilation/task"
	"golang.org/x/exp/maps"
)

// AssignLane picks a stable lane for a tracer id
func AssignLane(id, lanes int) int {
	if lanes <= 1 {
		return 0
	}
	return int(xxhash.Sum64String(strconv.Itoa(id)) % uint64(lanes))
}

// Directory indexes tracers by id and by the pid of their tracer task
type Directory struct {
	mu    sync.RWMutex
	byID  map[int]*Tracer
	byPID map[int]*Tracer
}

// NewDirectory returns an empty directory
func NewDirectory() *Directory {
	return &Directory{
		byID:  map[int]*Tracer{},
		byPID: map[int]*Tracer{},
	}
}

// Add registers a tracer
func (d *Directory) Add(t *Tracer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byID[t.ID]; ok {
		return fmt.Errorf("tracer %d already registered", t.ID)
	}
	pid := t.Root().PID()
	if other, ok := d.byPID[pid]; ok {
		return fmt.Errorf("pid %d already traced by tracer %d", pid, other.ID)
	}
	d.byID[t.ID] = t
	d.byPID[pid] = t
	return nil
}

// IsTracerTask tells whether t is the root task of a tracer
func (d *Directory) IsTracerTask(t task.Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.byPID[t.Leader().PID()]
	return ok
}

// ForTask returns the tracer whose group t belongs to
func (d *Directory) ForTask(t task.Task) (*Tracer, bool) {
	pid := t.Leader().PID()
	all := d.All()
	for _, tr := range all {
		if tr.Owns(pid) {
			return tr, true
		}
	}
	// not discovered yet, look it up in the trees
	for _, tr := range all {
		for p := range task.Processes(tr.Root()) {
			if p.PID() == pid {
				return tr, true
			}
		}
	}
	return nil, false
}

// Count returns the number of tracers
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

// IDs returns the sorted tracer ids
func (d *Directory) IDs() []int {
	d.mu.RLock()
	ids := maps.Keys(d.byID)
	d.mu.RUnlock()
	sort.Ints(ids)
	return ids
}

// All returns the tracers ordered by id
func (d *Directory) All() []*Tracer {
	ids := d.IDs()
	d.mu.RLock()
	defer d.mu.RUnlock()
	res := make([]*Tracer, 0, len(ids))
	for _, id := range ids {
		if t, ok := d.byID[id]; ok {
			res = append(res, t)
		}
	}
	return res
}

// Lanes groups tracers by lane, ordered by id within a lane
func (d *Directory) Lanes() map[int][]*Tracer {
	res := map[int][]*Tracer{}
	for _, t := range d.All() {
		res[t.Lane] = append(res[t.Lane], t)
	}
	return res
}

// Reset drops all tracers
func (d *Directory) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.byID)
	clear(d.byPID)
}
