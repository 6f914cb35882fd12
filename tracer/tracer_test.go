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
	"testing"

	"github.com/facebook/dilation/task"
	"github.com/stretchr/testify/require"
)

func allRunnable(n int) []bool {
	res := make([]bool, n)
	for i := range res {
		res[i] = true
	}
	return res
}

func sumCurr(q *Queue) int64 {
	var sum int64
	for _, e := range q.Elems {
		sum += e.InsnsCurrRound
	}
	return sum
}

func TestSingleCoreOneProcess(t *testing.T) {
	q := &Queue{Elems: []*Elem{{PID: 10, InsnsShare: 1000}}}
	SingleCore{}.Allocate(q, 1000, allRunnable(1))
	require.Equal(t, int64(1000), q.Elems[0].InsnsCurrRound)
	require.Equal(t, int64(0), q.Elems[0].InsnsLeft)
	require.Equal(t, 10, q.LastRun)
}

func TestSingleCoreEvenSplit(t *testing.T) {
	q := &Queue{Elems: []*Elem{{PID: 10, InsnsShare: 500}, {PID: 11, InsnsShare: 500}}}
	SingleCore{}.Allocate(q, 1000, allRunnable(2))
	require.Equal(t, int64(500), q.Elems[0].InsnsCurrRound)
	require.Equal(t, int64(500), q.Elems[1].InsnsCurrRound)
	require.Equal(t, 11, q.LastRun)
}

func TestSingleCoreCarryOver(t *testing.T) {
	// share larger than what is left of the quantum
	q := &Queue{Elems: []*Elem{{PID: 10, InsnsShare: 700}, {PID: 11, InsnsShare: 700}}}
	SingleCore{}.Allocate(q, 1000, allRunnable(2))
	require.Equal(t, int64(700), q.Elems[0].InsnsCurrRound)
	require.Equal(t, int64(300), q.Elems[1].InsnsCurrRound)
	require.Equal(t, int64(400), q.Elems[1].InsnsLeft)
	require.Equal(t, 11, q.LastRun)

	// next round honours the debt first, then restarts from the head
	SingleCore{}.Allocate(q, 1000, allRunnable(2))
	require.Equal(t, int64(400), q.Elems[1].InsnsCurrRound)
	require.Equal(t, int64(0), q.Elems[1].InsnsLeft)
	require.Equal(t, int64(600), q.Elems[0].InsnsCurrRound)
	require.Equal(t, int64(100), q.Elems[0].InsnsLeft)
	require.Equal(t, int64(1000), sumCurr(q))
}

func TestSingleCoreBlockedGetsNothing(t *testing.T) {
	q := &Queue{Elems: []*Elem{{PID: 10, InsnsShare: 500, InsnsLeft: 200}, {PID: 11, InsnsShare: 500}}}
	SingleCore{}.Allocate(q, 1000, []bool{false, true})
	require.Equal(t, int64(0), q.Elems[0].InsnsCurrRound)
	require.Equal(t, int64(0), q.Elems[0].InsnsLeft)
	require.Equal(t, int64(1000), q.Elems[1].InsnsCurrRound)
}

func TestSingleCoreAllBlocked(t *testing.T) {
	q := &Queue{Elems: []*Elem{{PID: 10, InsnsShare: 500}, {PID: 11, InsnsShare: 500}}}
	SingleCore{}.Allocate(q, 1000, []bool{false, false})
	require.Equal(t, int64(0), sumCurr(q))
	require.Equal(t, 0, q.LastRun)
}

func TestSingleCoreResumesAfterLastRun(t *testing.T) {
	q := &Queue{
		Elems:   []*Elem{{PID: 10, InsnsShare: 400}, {PID: 11, InsnsShare: 400}, {PID: 12, InsnsShare: 400}},
		LastRun: 10,
	}
	SingleCore{}.Allocate(q, 400, allRunnable(3))
	require.Equal(t, int64(0), q.Elems[0].InsnsCurrRound)
	require.Equal(t, int64(400), q.Elems[1].InsnsCurrRound)
	require.Equal(t, 11, q.LastRun)
}

func TestSingleCoreLastRunGoneStartsAtHead(t *testing.T) {
	q := &Queue{
		Elems:   []*Elem{{PID: 10, InsnsShare: 400}, {PID: 11, InsnsShare: 400}},
		LastRun: 99,
	}
	SingleCore{}.Allocate(q, 400, allRunnable(2))
	require.Equal(t, int64(400), q.Elems[0].InsnsCurrRound)
	require.Equal(t, 10, q.LastRun)
}

func TestSingleCoreNeverExceedsQuantum(t *testing.T) {
	q := &Queue{}
	for pid := 1; pid <= 7; pid++ {
		q.Elems = append(q.Elems, &Elem{PID: pid, InsnsShare: 333})
	}
	runnable := []bool{true, false, true, true, false, true, true}
	for range 50 {
		SingleCore{}.Allocate(q, 1000, runnable)
		require.Equal(t, int64(1000), sumCurr(q))
		for i, e := range q.Elems {
			if !runnable[i] {
				require.Equal(t, int64(0), e.InsnsCurrRound)
			}
		}
	}
}

func TestSingleCoreZeroShare(t *testing.T) {
	q := &Queue{Elems: []*Elem{{PID: 10}}}
	SingleCore{}.Allocate(q, 5, allRunnable(1))
	require.Equal(t, int64(5), q.Elems[0].InsnsCurrRound)
}

func TestMultiCore(t *testing.T) {
	q := &Queue{Elems: []*Elem{{PID: 10}, {PID: 11, InsnsLeft: 5}, {PID: 12}}}
	MultiCore{}.Allocate(q, 1000, []bool{true, false, true})
	require.Equal(t, int64(1000), q.Elems[0].InsnsCurrRound)
	require.Equal(t, int64(0), q.Elems[1].InsnsCurrRound)
	require.Equal(t, int64(0), q.Elems[1].InsnsLeft)
	require.Equal(t, int64(1000), q.Elems[2].InsnsCurrRound)
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy("single")
	require.NoError(t, err)
	require.Equal(t, PolicySingle, p.Name())
	p, err = NewPolicy("multi")
	require.NoError(t, err)
	require.Equal(t, PolicyMulti, p.Name())
	_, err = NewPolicy("fair")
	require.Error(t, err)
}

func TestTracerRefresh(t *testing.T) {
	root := task.NewProcess(1)
	a := root.Spawn(2)
	b := root.Spawn(3)
	c := a.Spawn(4)
	tr := New(1, root, 0, 1000, 100)

	require.Equal(t, 3, tr.Refresh())
	q := tr.Queue()
	require.Equal(t, []int{2, 4, 3}, []int{q[0].PID, q[1].PID, q[2].PID})
	for _, e := range q {
		require.Equal(t, int64(333), e.InsnsShare)
	}
	require.True(t, tr.Owns(1))
	require.True(t, tr.Owns(4))

	c.Exit()
	tr.Ignore(3)
	require.Equal(t, 1, tr.Refresh())
	require.Equal(t, 2, tr.Queue()[0].PID)
	require.False(t, tr.Owns(4))
	require.False(t, tr.Owns(3))

	// ignored processes stay out
	b.Spawn(5)
	require.Equal(t, 2, tr.Refresh())
	require.Equal(t, 5, tr.Queue()[1].PID)
}

func TestTracerSchedule(t *testing.T) {
	root := task.NewProcess(1)
	root.Spawn(2)
	root.Spawn(3)
	tr := New(1, root, 0, 1000, 100)
	tr.Refresh()

	require.True(t, tr.Schedule(SingleCore{}, func(int) bool { return false }))
	require.Equal(t, "|2,500|3,500", tr.RunLog())
	for _, e := range tr.Queue() {
		require.Equal(t, int64(0), e.InsnsCurrRound)
	}

	require.True(t, tr.Schedule(SingleCore{}, func(pid int) bool { return pid == 2 }))
	require.Equal(t, "|3,1000", tr.RunLog())

	require.False(t, tr.Schedule(MultiCore{}, func(int) bool { return true }))
	require.Equal(t, "", tr.RunLog())
}

func TestTracerAdvance(t *testing.T) {
	tr := New(1, task.NewProcess(1), 0, 1000, 100)
	tr.Freeze(5000)
	require.Equal(t, int64(6000), tr.Advance())
	require.Equal(t, int64(6000), tr.Now())
	tr.Reset()
	require.Equal(t, int64(0), tr.Now())
}

func TestShareFormula(t *testing.T) {
	f, err := NewShareFormula(DefaultShareFormula)
	require.NoError(t, err)
	require.Equal(t, int64(500), f(1000, 2))
	require.Equal(t, int64(1000), f(1000, 0))
	require.Equal(t, int64(1), f(2, 5))

	f, err = NewShareFormula("max(quantum / (2 * n), 100)")
	require.NoError(t, err)
	require.Equal(t, int64(100), f(1000, 10))
	require.Equal(t, int64(250), f(1000, 2))

	_, err = NewShareFormula("quantum / procs")
	require.Error(t, err)
	_, err = NewShareFormula("quantum / ")
	require.Error(t, err)
}

func TestEvenShare(t *testing.T) {
	require.Equal(t, int64(333), EvenShare(1000, 3))
	require.Equal(t, int64(1), EvenShare(1, 3))
	require.Equal(t, int64(10), EvenShare(10, 0))
}

func TestDirectory(t *testing.T) {
	d := NewDirectory()
	r1 := task.NewProcess(100)
	child := r1.Spawn(101)
	r2 := task.NewProcess(200)
	t1 := New(1, r1, 0, 1000, 100)
	t2 := New(2, r2, 1, 1000, 100)
	require.NoError(t, d.Add(t2))
	require.NoError(t, d.Add(t1))
	require.Error(t, d.Add(New(1, task.NewProcess(300), 0, 1000, 100)))
	require.Error(t, d.Add(New(3, r1, 0, 1000, 100)))

	require.Equal(t, 2, d.Count())
	require.Equal(t, []int{1, 2}, d.IDs())
	require.True(t, d.IsTracerTask(r1))
	require.False(t, d.IsTracerTask(child))

	// found through the tree before the first refresh
	tr, ok := d.ForTask(child)
	require.True(t, ok)
	require.Equal(t, 1, tr.ID)
	_, ok = d.ForTask(task.NewProcess(999))
	require.False(t, ok)

	lanes := d.Lanes()
	require.Len(t, lanes, 2)
	require.Equal(t, 2, lanes[1][0].ID)

	d.Reset()
	require.Equal(t, 0, d.Count())
}

func TestAssignLane(t *testing.T) {
	require.Equal(t, 0, AssignLane(7, 1))
	for id := range 100 {
		l := AssignLane(id, 4)
		require.GreaterOrEqual(t, l, 0)
		require.Less(t, l, 4)
		require.Equal(t, l, AssignLane(id, 4))
	}
}
