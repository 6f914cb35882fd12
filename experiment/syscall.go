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
	"time"

	"github.com/facebook/dilation/registry"
	"github.com/facebook/dilation/rendezvous"
	"github.com/facebook/dilation/task"
	"github.com/facebook/dilation/tracer"
	log "github.com/sirupsen/logrus"
)

// Check is evaluated every time a parked call is woken, with the virtual time of the round.
// It returns true once the call is complete.
type Check func(now int64) bool

// Participant returns the tracer of t when calls from t must be virtualized.
// Calls from the tracer task, from tasks that are not dilated, or made while the experiment
// is not running go to the real operation.
func (e *Experiment) Participant(t task.Task) (*tracer.Tracer, bool) {
	if t == nil || e.stopping.Load() || e.State() != Running {
		return nil, false
	}
	leader := t.Leader()
	if !leader.Clock().Dilated() {
		return nil, false
	}
	if e.tracers.IsTracerTask(t) {
		return nil, false
	}
	tr, ok := e.tracers.ForTask(t)
	if !ok {
		// lost the race with teardown
		log.Warningf("pid %d is dilated without a tracer, clearing its clock", leader.PID())
		for _, th := range leader.Threads() {
			th.Clock().Reset()
		}
		return nil, false
	}
	return tr, true
}

func (e *Experiment) syscallEnter() {
	e.mu.Lock()
	e.activeSyscalls++
	e.stats.SetCounter(counterActiveSyscalls, int64(e.activeSyscalls))
	e.mu.Unlock()
}

func (e *Experiment) syscallExit() {
	e.mu.Lock()
	e.activeSyscalls--
	e.stats.SetCounter(counterActiveSyscalls, int64(e.activeSyscalls))
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Block parks t in the virtualized call h until check holds or the experiment stops.
// Registration errors are returned untouched, callers delegate on registry.ErrRegistryFull.
func (e *Experiment) Block(ctx context.Context, t task.Task, h registry.Handle, check Check) error {
	e.syscallEnter()
	defer e.syscallExit()

	regs := e.Registries()
	lk := t.Clock()
	leader := t.Leader().Clock()

	lk.Lock()
	if err := regs.Register(h); err != nil {
		lk.Unlock()
		return err
	}
	// the forced wake may have walked past us already
	if e.stopping.Load() {
		regs.Remove(h)
		lk.Unlock()
		return nil
	}
	lk.Unlock()
	e.stats.UpdateCounterBy("syscall."+h.Kind().String()+".virtualized", 1)

	start := time.Now()
	for {
		w, err := registry.Wait(ctx, h)
		if err != nil {
			lk.Lock()
			regs.Remove(h)
			lk.Unlock()
			registry.Abandon(h)
			if errors.Is(err, rendezvous.ErrClosed) {
				return nil
			}
			return err
		}
		// the woken call reads its own deadline, siblings see it early too
		leader.AdvanceTo(w.Now)

		lk.Lock()
		registry.Consume(h)
		finished := w.Forced || e.stopping.Load() || check(w.Now)
		if finished {
			regs.Remove(h)
		}
		lk.Unlock()
		registry.Yield(h)

		if finished {
			if sh, ok := h.(*registry.SleepHandle); ok {
				log.Debugf("pid %d: sleep resumed at %d, overshoot %dns, forced %v, waited %v", h.PID(), w.Now, w.Now-sh.Wakeup, w.Forced, time.Since(start))
			}
			return nil
		}
	}
}
