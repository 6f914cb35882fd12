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
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/facebook/dilation/task"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Budget is the time a process may run in a round
type Budget struct {
	PID   int
	Insns int64
}

// ParseRunLog reads the |pid,insns entries of a run log
func ParseRunLog(s string) ([]Budget, error) {
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "|") {
		return nil, fmt.Errorf("malformed run log %q", s)
	}
	var res []Budget
	for _, entry := range strings.Split(s[1:], "|") {
		pid, insns, ok := strings.Cut(entry, ",")
		if !ok {
			return nil, fmt.Errorf("malformed run log entry %q", entry)
		}
		var b Budget
		var err error
		if b.PID, err = strconv.Atoi(pid); err != nil {
			return nil, fmt.Errorf("malformed pid in %q: %w", entry, err)
		}
		if b.Insns, err = strconv.ParseInt(insns, 10, 64); err != nil {
			return nil, fmt.Errorf("malformed budget in %q: %w", entry, err)
		}
		res = append(res, b)
	}
	return res, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Representative runs the processes of a tracer by continuing them for their budget and stopping them again.
// Budgets are nanoseconds of wall time. The root is the tracer task and is never stopped.
type Representative struct {
	root task.Task
	// Parallel continues all processes of the round at once, each stopped after its own budget
	Parallel bool

	kill  func(pid int, sig unix.Signal) error
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRepresentative returns a representative for the group under root
func NewRepresentative(root task.Task, parallel bool) *Representative {
	return &Representative{
		root:     root,
		Parallel: parallel,
		kill:     unix.Kill,
		sleep:    sleepContext,
	}
}

// signal sends sig to pid and reports whether it was delivered. A process that is already gone is not an error.
func (r *Representative) signal(pid int, sig unix.Signal) (bool, error) {
	err := r.kill(pid, sig)
	if errors.Is(err, unix.ESRCH) {
		log.Warningf("pid %d vanished before %v", pid, sig)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sending %v to %d: %w", sig, pid, err)
	}
	return true, nil
}

func (r *Representative) signalGroup(sig unix.Signal) error {
	var errs []error
	for p := range task.Processes(r.root) {
		if p.PID() == r.root.PID() {
			continue
		}
		if _, err := r.signal(p.PID(), sig); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Freeze stops every process of the group
func (r *Representative) Freeze() error {
	return r.signalGroup(unix.SIGSTOP)
}

// Thaw lets every process of the group run freely
func (r *Representative) Thaw() error {
	return r.signalGroup(unix.SIGCONT)
}

// Run executes one round. It has the signature of experiment.RunFunc.
func (r *Representative) Run(ctx context.Context, runLog string) error {
	budgets, err := ParseRunLog(runLog)
	if err != nil {
		return err
	}
	// processes spawned during the last round are still running
	if err := r.Freeze(); err != nil {
		return err
	}
	if r.Parallel {
		return r.runParallel(ctx, budgets)
	}
	for _, b := range budgets {
		ok, err := r.signal(b.PID, unix.SIGCONT)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		serr := r.sleep(ctx, time.Duration(b.Insns))
		if _, err := r.signal(b.PID, unix.SIGSTOP); err != nil {
			return err
		}
		if serr != nil {
			return serr
		}
	}
	return nil
}

func (r *Representative) runParallel(ctx context.Context, budgets []Budget) error {
	slices.SortStableFunc(budgets, func(a, b Budget) int { return cmp.Compare(a.Insns, b.Insns) })
	for _, b := range budgets {
		if _, err := r.signal(b.PID, unix.SIGCONT); err != nil {
			return err
		}
	}
	var elapsed int64
	var serr error
	for _, b := range budgets {
		if serr == nil && b.Insns > elapsed {
			serr = r.sleep(ctx, time.Duration(b.Insns-elapsed))
			elapsed = b.Insns
		}
		if _, err := r.signal(b.PID, unix.SIGSTOP); err != nil {
			return err
		}
	}
	return serr
}
