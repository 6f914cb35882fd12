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

package proctree

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/facebook/dilation/task"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type recorder struct {
	events []string
	fail   map[int]error
}

func (r *recorder) kill(pid int, sig unix.Signal) error {
	if err, ok := r.fail[pid]; ok {
		return err
	}
	name := "CONT"
	if sig == unix.SIGSTOP {
		name = "STOP"
	}
	r.events = append(r.events, fmt.Sprintf("%s %d", name, pid))
	return nil
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.events = append(r.events, fmt.Sprintf("sleep %d", d))
	return nil
}

func newTestRepresentative(root task.Task, parallel bool) (*Representative, *recorder) {
	rec := &recorder{fail: map[int]error{}}
	r := NewRepresentative(root, parallel)
	r.kill = rec.kill
	r.sleep = rec.sleep
	return r, rec
}

func TestParseRunLog(t *testing.T) {
	b, err := ParseRunLog("")
	require.NoError(t, err)
	require.Empty(t, b)

	b, err = ParseRunLog("|2,500|3,250")
	require.NoError(t, err)
	require.Equal(t, []Budget{{PID: 2, Insns: 500}, {PID: 3, Insns: 250}}, b)

	for _, bad := range []string{"STOP", "|2", "|x,1", "|2,y", "2,500"} {
		_, err := ParseRunLog(bad)
		require.Error(t, err, bad)
	}
}

func TestRunSequential(t *testing.T) {
	r, rec := newTestRepresentative(task.NewProcess(1), false)
	require.NoError(t, r.Run(context.Background(), "|2,500|3,250"))
	require.Equal(t, []string{
		"CONT 2", "sleep 500", "STOP 2",
		"CONT 3", "sleep 250", "STOP 3",
	}, rec.events)
}

func TestRunParallel(t *testing.T) {
	r, rec := newTestRepresentative(task.NewProcess(1), true)
	require.NoError(t, r.Run(context.Background(), "|2,1000|3,400|4,1000"))
	require.Equal(t, []string{
		"CONT 3", "CONT 2", "CONT 4",
		"sleep 400", "STOP 3",
		"sleep 600", "STOP 2", "STOP 4",
	}, rec.events)
}

func TestRunVanishedProcess(t *testing.T) {
	r, rec := newTestRepresentative(task.NewProcess(1), false)
	rec.fail[2] = unix.ESRCH
	require.NoError(t, r.Run(context.Background(), "|2,500|3,500"))
	require.Equal(t, []string{"CONT 3", "sleep 500", "STOP 3"}, rec.events)

	rec.events = nil
	rec.fail[3] = unix.EPERM
	require.ErrorIs(t, r.Run(context.Background(), "|3,500"), unix.EPERM)
}

func TestRunBadLog(t *testing.T) {
	r, _ := newTestRepresentative(task.NewProcess(1), false)
	require.Error(t, r.Run(context.Background(), "|bogus"))
}

func TestRunCanceled(t *testing.T) {
	r, rec := newTestRepresentative(task.NewProcess(1), false)
	r.sleep = func(context.Context, time.Duration) error { return context.Canceled }
	err := r.Run(context.Background(), "|2,500|3,500")
	require.True(t, errors.Is(err, context.Canceled))
	// stopped again before giving up
	require.Equal(t, []string{"CONT 2", "STOP 2"}, rec.events)
}

func TestFreezeThawSkipsRoot(t *testing.T) {
	root := task.NewProcess(1)
	c := root.Spawn(2)
	c.Spawn(3)
	c.NewThread(4)
	r, rec := newTestRepresentative(root, false)
	require.NoError(t, r.Freeze())
	require.NoError(t, r.Thaw())
	require.Equal(t, []string{"STOP 2", "STOP 3", "CONT 2", "CONT 3"}, rec.events)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
