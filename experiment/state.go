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
	"errors"
	"fmt"
)

// State of the experiment
type State int32

// Experiment states
const (
	NotInitialized State = iota
	Initialized
	NotRunning
	Frozen
	Running
	Stopping
)

var stateToString = map[State]string{
	NotInitialized: "NOT_INITIALIZED",
	Initialized:    "INITIALIZED",
	NotRunning:     "NOT_RUNNING",
	Frozen:         "FROZEN",
	Running:        "RUNNING",
	Stopping:       "STOPPING",
}

func (s State) String() string {
	if str, ok := stateToString[s]; ok {
		return str
	}
	return fmt.Sprintf("UNKNOWN(%d)", int32(s))
}

var (
	// ErrBadState is returned when an operation is not allowed in the current state
	ErrBadState = errors.New("operation not allowed in current state")
	// ErrTracerCount is returned when freezing with an unexpected number of tracers
	ErrTracerCount = errors.New("unexpected number of tracers")
	// ErrNoTracers is returned when freezing without any tracer registered
	ErrNoTracers = errors.New("no tracers registered")
	// ErrProgressPending is returned when resuming before a fixed round budget is consumed
	ErrProgressPending = errors.New("fixed round budget not consumed yet")
	// ErrStopped is returned to a fixed round run cut short by a stop
	ErrStopped = errors.New("experiment stopped")
)

func badState(op string, s State) error {
	return fmt.Errorf("%s in state %s: %w", op, s, ErrBadState)
}
