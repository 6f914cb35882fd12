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
Package proctree exposes live processes as dilation tasks.

Tasks are discovered through /proc and cached by thread id, so a task keeps
its dilated clock across tree walks for as long as it lives.
*/
package proctree

import (
	"fmt"
	"slices"
	"sync"

	"github.com/facebook/dilation/task"
	"github.com/facebook/dilation/vclock"
	"github.com/shirou/gopsutil/process"
	log "github.com/sirupsen/logrus"
)

// Tree is the cache of the tasks handed out so far
type Tree struct {
	mu    sync.Mutex
	tasks map[int]*Proc
}

// New returns an empty tree
func New() *Tree {
	return &Tree{tasks: map[int]*Proc{}}
}

// Process returns the task of the running process pid
func (t *Tree) Process(pid int) (*Proc, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, fmt.Errorf("process %d: %w", pid, err)
	}
	return t.get(pid, pid, p), nil
}

func (t *Tree) get(tid, tgid int, p *process.Process) *Proc {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pr, ok := t.tasks[tid]; ok {
		return pr
	}
	if p == nil {
		p = &process.Process{Pid: int32(tid)}
	}
	pr := &Proc{tree: t, tid: tid, tgid: tgid, proc: p}
	t.tasks[tid] = pr
	return pr
}

// Len returns the number of cached tasks
func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tasks)
}

// Prune drops the tasks that exited and returns how many were dropped
func (t *Tree) Prune() int {
	t.mu.Lock()
	cached := make([]*Proc, 0, len(t.tasks))
	for _, pr := range t.tasks {
		cached = append(cached, pr)
	}
	t.mu.Unlock()

	dropped := 0
	for _, pr := range cached {
		if pr.Alive() {
			continue
		}
		t.mu.Lock()
		delete(t.tasks, pr.tid)
		t.mu.Unlock()
		dropped++
	}
	return dropped
}

// Proc is a thread of a live process
type Proc struct {
	tree  *Tree
	tid   int
	tgid  int
	proc  *process.Process
	clock vclock.Clock
}

// PID returns the thread id
func (p *Proc) PID() int { return p.tid }

// Leader returns the thread group leader
func (p *Proc) Leader() task.Task {
	if p.tid == p.tgid {
		return p
	}
	return p.tree.get(p.tgid, p.tgid, nil)
}

// Threads lists /proc/<pid>/task, leader first
func (p *Proc) Threads() []task.Task {
	l := p.tree.get(p.tgid, p.tgid, nil)
	ths, err := l.proc.Threads()
	if err != nil {
		log.Debugf("pid %d: listing threads: %v", p.tgid, err)
		return nil
	}
	tids := make([]int, 0, len(ths))
	for tid := range ths {
		if int(tid) != p.tgid {
			tids = append(tids, int(tid))
		}
	}
	slices.Sort(tids)
	res := make([]task.Task, 0, len(tids)+1)
	res = append(res, l)
	for _, tid := range tids {
		res = append(res, p.tree.get(tid, p.tgid, nil))
	}
	return res
}

// Children scans /proc for processes whose parent is this thread group
func (p *Proc) Children() []task.Task {
	pids, err := process.Pids()
	if err != nil {
		log.Warningf("listing processes: %v", err)
		return nil
	}
	slices.Sort(pids)
	var res []task.Task
	for _, pid := range pids {
		if int(pid) == p.tgid {
			continue
		}
		c := &process.Process{Pid: pid}
		ppid, err := c.Ppid()
		if err != nil || int(ppid) != p.tgid {
			continue
		}
		res = append(res, p.tree.get(int(pid), int(pid), c))
	}
	return res
}

// Alive reports whether the thread still runs
func (p *Proc) Alive() bool {
	ok, err := p.proc.IsRunning()
	return err == nil && ok
}

// Clock returns the dilated clock of the thread
func (p *Proc) Clock() *vclock.Clock { return &p.clock }
