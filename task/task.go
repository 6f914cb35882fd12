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
Package task describes the dilated processes and threads the engine drives.

Process discovery belongs to the caller. The engine only needs to walk a tree
of tasks, read their liveness and reach their dilated clocks.
*/
package task

import (
	"iter"

	"github.com/facebook/dilation/vclock"
)

// Task is a single schedulable thread
type Task interface {
	// PID is the thread id. For a thread group leader it is the process id.
	PID() int
	// Leader returns the thread group leader, the task itself for a leader
	Leader() Task
	// Threads returns all threads of the thread group, leader first
	Threads() []Task
	// Children returns child processes as their thread group leaders
	Children() []Task
	// Alive reports whether the task still exists
	Alive() bool
	// Clock is the dilation state of the task
	Clock() *vclock.Clock
}

// Processes iterates over the root and all its descendant processes, depth-first.
// It uses an explicit work list, so deep trees don't grow the stack.
func Processes(root Task) iter.Seq[Task] {
	return func(yield func(Task) bool) {
		if root == nil {
			return
		}
		stack := []Task{root}
		for len(stack) > 0 {
			p := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if !yield(p) {
				return
			}
			children := p.Children()
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, children[i])
			}
		}
	}
}

// Threads iterates over all threads of all processes in the tree rooted at root
func Threads(root Task) iter.Seq[Task] {
	return func(yield func(Task) bool) {
		for p := range Processes(root) {
			for _, t := range p.Threads() {
				if !yield(t) {
					return
				}
			}
		}
	}
}

// VirtualTime returns the virtual time of the task, or 0 for a task that is not dilated.
// All threads share the clock of their group leader.
func VirtualTime(t Task) int64 {
	if t == nil || !t.Clock().Dilated() {
		return 0
	}
	return t.Leader().Clock().Now()
}
