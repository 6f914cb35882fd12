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
)

// Elem is one process in a tracer schedule queue
type Elem struct {
	PID int
	// InsnsLeft is budget owed from previous rounds
	InsnsLeft int64
	// InsnsCurrRound is budget granted for this round
	InsnsCurrRound int64
	// InsnsShare is the proportional share used to hand out the remainder of a quantum
	InsnsShare int64
}

// Queue is an ordered, wrap-around schedule queue. Insertion order is discovery order.
type Queue struct {
	Elems []*Elem
	// LastRun is the pid of the entry that ran last, 0 if none
	LastRun int
}

func (q *Queue) index(pid int) int {
	for i, e := range q.Elems {
		if e.PID == pid {
			return i
		}
	}
	return -1
}

// Policy hands out a tracer quantum to the runnable entries of its queue.
// runnable[i] tells whether q.Elems[i] may run this round.
type Policy interface {
	Name() string
	Allocate(q *Queue, quantum int64, runnable []bool)
}

// Policy names
const (
	PolicySingle = "single"
	PolicyMulti  = "multi"
)

// NewPolicy returns the policy by name
func NewPolicy(name string) (Policy, error) {
	switch name {
	case PolicySingle:
		return SingleCore{}, nil
	case PolicyMulti:
		return MultiCore{}, nil
	}
	return nil, fmt.Errorf("unknown scheduling policy %q", name)
}

// SingleCore grants at most one quantum per round across the whole queue.
// Carried-over budget is honoured first, the rest goes round-robin in shares,
// starting right after the entry that ran last.
type SingleCore struct{}

// Name implements Policy
func (SingleCore) Name() string { return PolicySingle }

// Allocate implements Policy
func (SingleCore) Allocate(q *Queue, quantum int64, runnable []bool) {
	var allotted int64
	anyRunnable := false

	for i, e := range q.Elems {
		e.InsnsCurrRound = 0
		if !runnable[i] {
			e.InsnsLeft = 0
			continue
		}
		anyRunnable = true
		if e.InsnsLeft == 0 || allotted >= quantum {
			continue
		}
		if allotted+e.InsnsLeft > quantum {
			e.InsnsCurrRound = quantum - allotted
			e.InsnsLeft -= e.InsnsCurrRound
			allotted = quantum
		} else {
			e.InsnsCurrRound = e.InsnsLeft
			e.InsnsLeft = 0
			allotted += e.InsnsCurrRound
		}
		q.LastRun = e.PID
	}

	if allotted >= quantum || !anyRunnable {
		return
	}

	// resume right after the last entry that ran. If it is gone, or was the tail, start from the head.
	i := 0
	if q.LastRun != 0 {
		if idx := q.index(q.LastRun); idx >= 0 && idx+1 < len(q.Elems) {
			i = idx + 1
		}
	}

	for allotted < quantum {
		e := q.Elems[i]
		if runnable[i] {
			share := e.InsnsShare
			if share <= 0 {
				share = 1
			}
			if allotted+share > quantum {
				e.InsnsCurrRound += quantum - allotted
				e.InsnsLeft = share - (quantum - allotted)
				allotted = quantum
			} else {
				e.InsnsCurrRound += share
				e.InsnsLeft = 0
				allotted += share
			}
			if allotted == quantum {
				q.LastRun = e.PID
				return
			}
		} else {
			e.InsnsCurrRound = 0
			e.InsnsLeft = 0
		}
		i = (i + 1) % len(q.Elems)
	}
}

// MultiCore grants the full quantum to every runnable entry
type MultiCore struct{}

// Name implements Policy
func (MultiCore) Name() string { return PolicyMulti }

// Allocate implements Policy
func (MultiCore) Allocate(q *Queue, quantum int64, runnable []bool) {
	for i, e := range q.Elems {
		if runnable[i] {
			e.InsnsCurrRound = quantum
		} else {
			e.InsnsCurrRound = 0
			e.InsnsLeft = 0
		}
	}
}
