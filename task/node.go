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

package task

import (
	"sync"

	"github.com/facebook/dilation/vclock"
)

// Node is an in-memory Task. It backs in-process dilation groups and tests.
type Node struct {
	mu       sync.Mutex
	pid      int
	leader   *Node
	threads  []*Node
	children []*Node
	exited   bool
	clock    vclock.Clock
}

// NewProcess creates a single-threaded process
func NewProcess(pid int) *Node {
	n := &Node{pid: pid}
	n.leader = n
	return n
}

// Spawn creates a child process of n's thread group
func (n *Node) Spawn(pid int) *Node {
	c := NewProcess(pid)
	l := n.leader
	l.mu.Lock()
	l.children = append(l.children, c)
	l.mu.Unlock()
	return c
}

// NewThread adds a thread to n's thread group
func (n *Node) NewThread(tid int) *Node {
	l := n.leader
	t := &Node{pid: tid, leader: l}
	l.mu.Lock()
	l.threads = append(l.threads, t)
	l.mu.Unlock()
	return t
}

// Exit marks the task as gone. Exiting a leader takes its threads with it.
func (n *Node) Exit() {
	n.mu.Lock()
	n.exited = true
	threads := n.threads
	n.mu.Unlock()
	for _, t := range threads {
		t.Exit()
	}
}

// PID implements Task
func (n *Node) PID() int { return n.pid }

// Leader implements Task
func (n *Node) Leader() Task { return n.leader }

// Threads implements Task
func (n *Node) Threads() []Task {
	l := n.leader
	l.mu.Lock()
	defer l.mu.Unlock()
	res := make([]Task, 0, len(l.threads)+1)
	if !l.exited {
		res = append(res, l)
	}
	for _, t := range l.threads {
		if t.Alive() {
			res = append(res, t)
		}
	}
	return res
}

// Children implements Task
func (n *Node) Children() []Task {
	l := n.leader
	l.mu.Lock()
	defer l.mu.Unlock()
	res := make([]Task, 0, len(l.children))
	for _, c := range l.children {
		if c.Alive() {
			res = append(res, c)
		}
	}
	return res
}

// Alive implements Task
func (n *Node) Alive() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.exited
}

// Clock implements Task
func (n *Node) Clock() *vclock.Clock { return &n.clock }
