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
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestTableRegisterTwice(t *testing.T) {
	tbl := NewTable[*SleepHandle](0)
	require.NoError(t, tbl.Register(NewSleepHandle(10, 100)))
	err := tbl.Register(NewSleepHandle(10, 200))
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	h, found := tbl.Lookup(10)
	require.True(t, found)
	require.Equal(t, int64(100), h.Wakeup)
}

func TestTableRemoveIdempotent(t *testing.T) {
	tbl := NewTable[*SleepHandle](0)
	require.NoError(t, tbl.Register(NewSleepHandle(10, 100)))
	tbl.Remove(10)
	tbl.Remove(10)
	_, found := tbl.Lookup(10)
	require.False(t, found)
	require.Equal(t, 0, tbl.Len())
}

func TestTableCapacity(t *testing.T) {
	tbl := NewTable[*PollHandle](1)
	require.NoError(t, tbl.Register(NewPollHandle(1, 0, nil)))
	require.ErrorIs(t, tbl.Register(NewPollHandle(2, 0, nil)), ErrRegistryFull)
}

func TestRegistriesOneCallPerPid(t *testing.T) {
	r := New(0)
	require.NoError(t, r.Register(NewSleepHandle(5, 100)))
	require.ErrorIs(t, r.Register(NewPollHandle(5, 100, nil)), ErrAlreadyRegistered)
	require.ErrorIs(t, r.Register(NewSelectHandle(5, 100, 0, nil, nil, nil)), ErrAlreadyRegistered)
	require.True(t, r.Blocked(5))
	require.Equal(t, KindSleep, r.Lookup(5).Kind())

	r.Remove(r.Lookup(5))
	require.False(t, r.Blocked(5))
	require.NoError(t, r.Register(NewSelectHandle(5, 100, 0, nil, nil, nil)))
	require.Equal(t, KindSelect, r.Lookup(5).Kind())
	require.Equal(t, 1, r.Len())

	r.Reset()
	require.Equal(t, 0, r.Len())
	require.Nil(t, r.Lookup(5))
}

func TestRegistriesConcurrent(t *testing.T) {
	r := New(0)
	var wg sync.WaitGroup
	for pid := 1; pid <= 100; pid++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			h := NewSleepHandle(pid, 1)
			if err := r.Register(h); err != nil {
				return
			}
			r.Lookup(pid)
			r.Remove(h)
		}(pid)
	}
	wg.Wait()
	require.Equal(t, 0, r.Len())
}

func TestHandleDue(t *testing.T) {
	s := NewSleepHandle(1, 1000)
	require.False(t, s.Due(999))
	require.True(t, s.Due(1000))
	require.True(t, NewPollHandle(1, 1000, nil).Due(0))
	require.True(t, NewSelectHandle(1, 1000, 0, nil, nil, nil).Due(0))
}

func TestNewPollHandleCopiesFds(t *testing.T) {
	fds := []unix.PollFd{{Fd: 3, Events: unix.POLLIN}}
	h := NewPollHandle(1, 0, fds)
	h.Fds[0].Revents = unix.POLLIN
	require.Equal(t, int16(0), fds[0].Revents)
}

func TestSignalWaitYield(t *testing.T) {
	ctx := context.Background()
	h := NewSleepHandle(1, 10)
	done := make(chan Wake)
	go func() {
		w, err := Wait(ctx, h)
		if err != nil {
			return
		}
		Consume(h)
		done <- w
		Yield(h)
	}()
	ok, err := Signal(ctx, h, Wake{Now: 10})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Wake{Now: 10}, <-done)
	require.NoError(t, AwaitYield(ctx, h))
	require.False(t, h.Done())
}

func TestSignalTwiceWithoutConsume(t *testing.T) {
	ctx := context.Background()
	h := NewSleepHandle(1, 10)
	ok, err := Signal(ctx, h, Wake{})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = Signal(ctx, h, Wake{})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestKindString(t *testing.T) {
	require.Equal(t, "sleep", KindSleep.String())
	require.Equal(t, "poll", KindPoll.String())
	require.Equal(t, "select", KindSelect.String())
	require.Equal(t, "kind(7)", Kind(7).String())
}

func TestRegistriesHandles(t *testing.T) {
	r := New(0)
	require.Empty(t, r.Handles())
	require.NoError(t, r.Register(NewSleepHandle(1, 10)))
	require.NoError(t, r.Register(NewPollHandle(2, 10, nil)))
	require.NoError(t, r.Register(NewSelectHandle(3, 10, 0, nil, nil, nil)))

	pids := []int{}
	for _, h := range r.Handles() {
		pids = append(pids, h.PID())
	}
	require.ElementsMatch(t, []int{1, 2, 3}, pids)

	r.Reset()
	require.Equal(t, 0, r.Len())
}
