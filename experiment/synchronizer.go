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

package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/facebook/dilation/registry"
	"github.com/facebook/dilation/rendezvous"
	"github.com/facebook/dilation/task"
	"github.com/facebook/dilation/tracer"
	log "github.com/sirupsen/logrus"
)

// roundReady must be called with mu held
func (e *Experiment) roundReady() bool {
	if e.state != Running {
		return false
	}
	if !e.progressEnabled && e.progressRounds == 0 {
		return false
	}
	return e.waitingTracers >= e.tracers.Count()
}

// controller drives rounds: wake every lane, wait for all of them, then account
func (e *Experiment) controller(ctx context.Context) error {
	defer func() {
		e.mu.Lock()
		e.controllerAlive = false
		e.cond.Broadcast()
		e.mu.Unlock()
	}()
	for {
		e.mu.Lock()
		for !e.stopRequested && !e.roundReady() && ctx.Err() == nil {
			e.cond.Wait()
		}
		if ctx.Err() != nil {
			e.mu.Unlock()
			return nil
		}
		if e.stopRequested {
			e.mu.Unlock()
			return e.stop(ctx)
		}

		start := time.Now()
		for lane := range e.laneRunnable {
			e.laneRunnable[lane] = true
		}
		e.workersRunning = e.lanes
		e.cond.Broadcast()
		for e.workersRunning > 0 {
			e.cond.Wait()
		}
		e.mu.Unlock()

		elapsed := time.Since(start)
		e.account(elapsed)

		e.mu.Lock()
		e.rounds++
		if !e.progressEnabled && e.progressRounds > 0 {
			e.progressRounds--
		}
		e.durations.Add(float64(elapsed.Nanoseconds()))
		e.stats.SetCounter(counterRounds, e.rounds)
		e.stats.SetCounter(counterRoundMean, int64(e.durations.Mean()))
		e.stats.SetCounter(counterRoundStddev, int64(e.durations.Stddev()))
		e.cond.Broadcast()
		e.mu.Unlock()
		log.Debugf("round %d took %v", e.Rounds(), elapsed)
	}
}

// worker runs the unfreeze step of every tracer on its lane, once per round
func (e *Experiment) worker(ctx context.Context, lane int) error {
	defer func() {
		e.mu.Lock()
		if e.laneRunnable[lane] {
			e.laneRunnable[lane] = false
			e.workersRunning--
		}
		e.workersAlive--
		e.cond.Broadcast()
		e.mu.Unlock()
	}()
	for {
		e.mu.Lock()
		for !e.laneRunnable[lane] && e.state != Stopping && ctx.Err() == nil {
			e.cond.Wait()
		}
		if e.state == Stopping || ctx.Err() != nil {
			e.mu.Unlock()
			return nil
		}
		e.mu.Unlock()

		for _, tr := range e.tracers.Lanes()[lane] {
			if err := e.unfreeze(ctx, tr); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				log.Errorf("lane %d: %s: %v", lane, tr, err)
			}
		}

		e.mu.Lock()
		e.laneRunnable[lane] = false
		e.workersRunning--
		e.cond.Broadcast()
		e.mu.Unlock()
	}
}

// unfreeze runs one round of a tracer: schedule, hand off to the tracer task, then wake due calls
func (e *Experiment) unfreeze(ctx context.Context, tr *tracer.Tracer) error {
	n := tr.Refresh()
	e.stats.SetCounter(fmt.Sprintf("tracer.%d.queue_len", tr.ID), int64(n))

	if tr.Schedule(e.policy, e.registries.Blocked) {
		ctrl := tr.Control()
		if err := ctrl.Grant(ctx, tr.RunLog()); err != nil {
			return fmt.Errorf("handing off to tracer task: %w", err)
		}
		if err := ctrl.AwaitRelease(ctx); err != nil {
			return fmt.Errorf("waiting for tracer task: %w", err)
		}
		e.stats.UpdateCounterBy(fmt.Sprintf("tracer.%d.handoffs", tr.ID), 1)
	}
	return e.resume(ctx, tr, tr.Now()+tr.Quantum, false)
}

// resume wakes, one at a time, every parked call under tr whose condition holds at now.
// With force every parked call is woken regardless of its deadline.
func (e *Experiment) resume(ctx context.Context, tr *tracer.Tracer, now int64, force bool) error {
	for th := range task.Threads(tr.Root()) {
		clk := th.Clock()
		clk.Lock()
		h := e.registries.Lookup(th.PID())
		if h == nil || !(force || h.Due(now)) {
			clk.Unlock()
			continue
		}
		signaled, err := registry.Signal(ctx, h, registry.Wake{Now: now, Forced: force})
		clk.Unlock()
		if err != nil {
			if errors.Is(err, rendezvous.ErrClosed) {
				continue
			}
			return err
		}
		if !signaled {
			continue
		}
		if force {
			e.stats.UpdateCounterBy(counterForcedWakeups, 1)
		}
		if err := registry.AwaitYield(ctx, h); err != nil && !errors.Is(err, rendezvous.ErrClosed) {
			return fmt.Errorf("waiting for pid %d to yield: %w", th.PID(), err)
		}
	}
	return nil
}

// account moves every group forward by one quantum after the barrier
func (e *Experiment) account(elapsed time.Duration) {
	for _, tr := range e.tracers.All() {
		now := tr.Advance()
		for th := range task.Threads(tr.Root()) {
			th.Clock().Account(tr.Quantum, elapsed.Nanoseconds(), now)
		}
		e.stats.SetCounter(fmt.Sprintf("tracer.%d.virtual_time", tr.ID), now)
	}
}

// stop resolves every parked call, waits for the lanes to exit and tears down
func (e *Experiment) stop(ctx context.Context) error {
	log.Info("stopping experiment")
	e.mu.Lock()
	e.progressRounds = 0
	e.progressEnabled = false
	e.cond.Broadcast()
	e.mu.Unlock()

	for _, tr := range e.tracers.All() {
		if err := e.resume(ctx, tr, tr.Now(), true); err != nil {
			log.Warningf("%s: forced wake: %v", tr, err)
		}
	}
	// calls of tasks no tree reaches anymore
	for _, h := range e.registries.Handles() {
		log.Warningf("abandoning %s call of pid %d", h.Kind(), h.PID())
		registry.Abandon(h)
		e.stats.UpdateCounterBy(counterAbandonedCalls, 1)
	}

	e.mu.Lock()
	for e.activeSyscalls > 0 && ctx.Err() == nil {
		e.cond.Wait()
	}
	e.setState(Stopping)
	for e.workersAlive > 0 {
		e.cond.Wait()
	}
	e.mu.Unlock()

	err := e.teardown()

	e.mu.Lock()
	e.setState(NotRunning)
	e.mu.Unlock()
	return err
}

// teardown drops all schedule queues, closes tracer hand-offs and restores the dispatch table
func (e *Experiment) teardown() error {
	for _, tr := range e.tracers.All() {
		for th := range task.Threads(tr.Root()) {
			th.Clock().Reset()
		}
		tr.Reset()
		tr.SetRunLog(tracer.StopLog)
		tr.Control().Close()
	}
	e.registries.Reset()

	e.mu.Lock()
	patched := e.patched
	e.patched = false
	e.workersRunning = 0
	e.progressRounds = 0
	e.mu.Unlock()

	if patched {
		if err := e.table.Restore(); err != nil {
			log.Errorf("restoring syscall table: %v", err)
			return fmt.Errorf("restoring syscall table: %w", err)
		}
	}
	return nil
}

// RunFunc executes the processes of a tracer for one round.
// runLog lists the budgets granted for the round as |pid,insns entries.
type RunFunc func(ctx context.Context, runLog string) error

// ServeTracer is the loop of a tracer task: report waiting, take a turn, run, hand control back.
// It returns nil once the experiment is torn down.
func (e *Experiment) ServeTracer(ctx context.Context, tr *tracer.Tracer, run RunFunc) error {
	ctrl := tr.Control()
	for {
		e.mu.Lock()
		e.waitingTracers++
		e.stats.SetCounter(counterWaitingTracers, int64(e.waitingTracers))
		e.cond.Broadcast()
		e.mu.Unlock()

		runLog, err := ctrl.Await(ctx)

		e.mu.Lock()
		e.waitingTracers--
		e.stats.SetCounter(counterWaitingTracers, int64(e.waitingTracers))
		e.mu.Unlock()

		if err != nil {
			if errors.Is(err, rendezvous.ErrClosed) {
				return nil
			}
			return err
		}
		err = run(ctx, runLog)
		ctrl.Release()
		if err != nil {
			return fmt.Errorf("%s: %w", tr, err)
		}
	}
}
