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
Package experiment runs dilation experiments: the lifecycle state machine,
the round synchronizer with its lane workers, and the parking of virtualized
blocking calls.
*/
package experiment

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclesh/welford"
	"github.com/facebook/dilation/registry"
	"github.com/facebook/dilation/stats"
	"github.com/facebook/dilation/task"
	"github.com/facebook/dilation/tracer"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// counter names
const (
	counterState          = "experiment.state"
	counterRounds         = "experiment.rounds"
	counterActiveSyscalls = "experiment.active_syscalls"
	counterWaitingTracers = "experiment.waiting_tracers"
	counterRoundMean      = "experiment.round_duration.mean_ns"
	counterRoundStddev    = "experiment.round_duration.stddev_ns"
	counterForcedWakeups  = "experiment.forced_wakeups"
	counterAbandonedCalls = "experiment.abandoned_calls"
)

// Experiment is the dilation context shared by the synchronizer and the interception layer
type Experiment struct {
	table   SyscallTable
	stats   stats.StatsServer
	tracers *tracer.Directory
	realNow func() int64

	cfg        *Config
	registries *registry.Registries
	policy     tracer.Policy
	share      tracer.ShareFunc
	lanes      int

	mu              sync.Mutex
	cond            *sync.Cond
	state           State
	activeSyscalls  int
	waitingTracers  int
	workersRunning  int
	workersAlive    int
	controllerAlive bool
	progressRounds  int
	progressEnabled bool
	stopRequested   bool
	patched         bool
	laneRunnable    []bool
	rounds          int64
	durations       *welford.Stats

	stopping atomic.Bool
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// New returns an experiment in NotInitialized state.
// A nil table runs without touching the dispatch table, nil stats keeps counters in memory.
func New(table SyscallTable, st stats.StatsServer) *Experiment {
	if table == nil {
		table = nopTable{}
	}
	if st == nil {
		st = stats.NewStats()
	}
	e := &Experiment{
		table:      table,
		stats:      st,
		tracers:    tracer.NewDirectory(),
		realNow:    func() int64 { return time.Now().UnixNano() },
		registries: registry.New(0),
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// setState must be called with mu held
func (e *Experiment) setState(s State) {
	log.Infof("experiment state %s -> %s", e.state, s)
	e.state = s
	e.stats.SetCounter(counterState, int64(s))
	e.cond.Broadcast()
}

// State returns the current state
func (e *Experiment) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Tracers returns the tracer directory
func (e *Experiment) Tracers() *tracer.Directory {
	return e.tracers
}

// Registries returns the blocked-call registries
func (e *Experiment) Registries() *registry.Registries {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registries
}

// Rounds returns the number of completed rounds
func (e *Experiment) Rounds() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rounds
}

// ActiveSyscalls returns the number of calls parked or being resolved
func (e *Experiment) ActiveSyscalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeSyscalls
}

// Initialize allocates lanes, registries and counters and spawns the controller
func (e *Experiment) Initialize(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	policy, err := tracer.NewPolicy(cfg.Policy)
	if err != nil {
		return err
	}
	share, err := tracer.NewShareFormula(cfg.ShareFormula)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != NotInitialized {
		return badState("initialize", e.state)
	}
	e.cfg = cfg
	e.policy = policy
	e.share = share
	e.lanes = cfg.Lanes
	e.registries = registry.New(cfg.RegistryCapacity)
	e.laneRunnable = make([]bool, cfg.Lanes)
	e.durations = welford.New()
	e.activeSyscalls = 0
	e.workersRunning = 0
	e.progressRounds = 0
	e.progressEnabled = false
	e.stopRequested = false
	e.patched = false
	e.rounds = 0
	e.stopping.Store(false)

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.group, ctx = errgroup.WithContext(ctx)
	e.controllerAlive = true
	e.workersAlive = cfg.Lanes
	e.group.Go(func() error {
		return e.controller(ctx)
	})
	for lane := range cfg.Lanes {
		e.group.Go(func() error {
			return e.worker(ctx, lane)
		})
	}
	log.Infof("initialized experiment with %d lanes, %s policy", cfg.Lanes, policy.Name())
	e.setState(Initialized)
	return nil
}

// AddTracer registers the group rooted at root
func (e *Experiment) AddTracer(tc TracerConfig, root task.Task) (*tracer.Tracer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Initialized && e.state != NotRunning {
		return nil, badState("add tracer", e.state)
	}
	if err := tc.Validate(e.lanes); err != nil {
		return nil, fmt.Errorf("invalid tracer config: %w", err)
	}
	tr := tracer.New(tc.ID, root, e.cfg.LaneFor(tc), tc.Quantum.Nanoseconds(), tc.FreezeQuantum.Nanoseconds())
	tr.SetShare(e.share)
	if err := e.tracers.Add(tr); err != nil {
		return nil, err
	}
	log.Infof("registered %s", tr)
	return tr, nil
}

// SynchronizeAndFreeze patches the dispatch table and pins every process of every tracer
// to a common reference instant. It fails without side effects unless exactly expected tracers are registered.
func (e *Experiment) SynchronizeAndFreeze(expected int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Initialized && e.state != NotRunning {
		return badState("freeze", e.state)
	}
	n := e.tracers.Count()
	if n == 0 {
		return ErrNoTracers
	}
	if n != expected {
		return fmt.Errorf("%d registered, %d expected: %w", n, expected, ErrTracerCount)
	}
	if err := e.table.Patch(); err != nil {
		return fmt.Errorf("patching syscall table: %w", err)
	}
	e.patched = true

	ref := e.realNow()
	for _, tr := range e.tracers.All() {
		tr.Freeze(ref)
		for th := range task.Threads(tr.Root()) {
			th.Clock().Freeze(ref)
		}
		tr.Refresh()
		e.stats.SetCounter(fmt.Sprintf("tracer.%d.virtual_time", tr.ID), ref)
	}
	log.Infof("froze %d tracers at %d", n, ref)
	e.setState(Frozen)
	return nil
}

// Start lets the controller service rounds. It is a no-op when already running.
func (e *Experiment) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case Running:
		return nil
	case Frozen:
		e.setState(Running)
		return nil
	}
	return badState("start", e.state)
}

// ProgressFixedRounds runs n rounds, at least one, and waits for them to complete
func (e *Experiment) ProgressFixedRounds(n int) error {
	if n <= 0 {
		n = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case Frozen:
		e.setState(Running)
	case Running:
	default:
		return badState("progress", e.state)
	}
	if e.stopRequested {
		return badState("progress", e.state)
	}
	target := e.rounds + int64(n)
	e.progressEnabled = false
	e.progressRounds = n
	e.cond.Broadcast()
	for e.rounds < target && !e.stopRequested && e.controllerAlive {
		e.cond.Wait()
	}
	if e.rounds < target {
		return ErrStopped
	}
	return nil
}

// ResumeUnconstrained lets rounds run back to back once a fixed budget is consumed
func (e *Experiment) ResumeUnconstrained() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Running {
		return badState("resume", e.state)
	}
	if e.progressRounds > 0 {
		return ErrProgressPending
	}
	e.progressEnabled = true
	e.cond.Broadcast()
	return nil
}

// RequestStop forcibly resolves all parked calls, stops rounds and tears the experiment down
func (e *Experiment) RequestStop() error {
	e.mu.Lock()
	if e.state == NotInitialized || e.state == Stopping || e.stopRequested {
		defer e.mu.Unlock()
		return badState("stop", e.state)
	}
	e.stopRequested = true
	e.stopping.Store(true)
	e.cond.Broadcast()
	for e.state != NotRunning && e.controllerAlive {
		e.cond.Wait()
	}
	e.mu.Unlock()
	return e.cleanup()
}

// Cleanup tears down an experiment that is not running
func (e *Experiment) Cleanup() error {
	e.mu.Lock()
	switch e.state {
	case NotRunning:
		e.mu.Unlock()
		return e.cleanup()
	case Initialized, Frozen:
		e.mu.Unlock()
		return e.RequestStop()
	}
	defer e.mu.Unlock()
	return badState("cleanup", e.state)
}

func (e *Experiment) cleanup() error {
	e.cancel()
	e.mu.Lock()
	e.cond.Broadcast()
	e.mu.Unlock()
	err := e.group.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	// the controller went away without tearing down
	if e.patched {
		e.patched = false
		if rerr := e.table.Restore(); rerr != nil && err == nil {
			err = fmt.Errorf("restoring syscall table: %w", rerr)
		}
	}
	e.tracers.Reset()
	e.registries.Reset()
	e.progressRounds = 0
	e.progressEnabled = false
	e.stopRequested = false
	e.stopping.Store(false)
	e.setState(NotInitialized)
	return err
}

// GetVirtualTime returns the virtual time of t, 0 if t is not dilated
func (e *Experiment) GetVirtualTime(t task.Task) int64 {
	return task.VirtualTime(t)
}

// TracerInfo describes a tracer in Info
type TracerInfo struct {
	ID          int    `json:"id"`
	PID         int    `json:"pid"`
	Lane        int    `json:"lane"`
	VirtualTime int64  `json:"virtual_time"`
	Queue       int    `json:"queue"`
	RunLog      string `json:"run_log"`
}

// Info is a snapshot of the experiment for monitoring
type Info struct {
	State          string       `json:"state"`
	Rounds         int64        `json:"rounds"`
	ActiveSyscalls int          `json:"active_syscalls"`
	WaitingTracers int          `json:"waiting_tracers"`
	Tracers        []TracerInfo `json:"tracers"`
}

// Info returns a monitoring snapshot
func (e *Experiment) Info() Info {
	e.mu.Lock()
	info := Info{
		State:          e.state.String(),
		Rounds:         e.rounds,
		ActiveSyscalls: e.activeSyscalls,
		WaitingTracers: e.waitingTracers,
	}
	e.mu.Unlock()
	for _, tr := range e.tracers.All() {
		info.Tracers = append(info.Tracers, TracerInfo{
			ID:          tr.ID,
			PID:         tr.Root().PID(),
			Lane:        tr.Lane,
			VirtualTime: tr.Now(),
			Queue:       len(tr.Queue()),
			RunLog:      tr.RunLog(),
		})
	}
	return info
}
