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

package vclock

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Calibration captures once the offset between the realtime and monotonic clocks.
// Virtual time lives on the realtime scale, so monotonic readings are translated with it.
type Calibration struct {
	once   sync.Once
	offset int64
}

// Offset returns realtime minus monotonic, measuring it on first use
func (c *Calibration) Offset(realNow, monoNow func() int64) int64 {
	c.once.Do(func() {
		c.offset = realNow() - monoNow()
	})
	return c.offset
}

// IsRealtime reports whether the clock id reads wall-clock time
func IsRealtime(clockid int32) bool {
	return clockid == unix.CLOCK_REALTIME || clockid == unix.CLOCK_REALTIME_COARSE
}

// IsMonotonic reports whether the clock id reads monotonic time
func IsMonotonic(clockid int32) bool {
	return clockid == unix.CLOCK_MONOTONIC || clockid == unix.CLOCK_MONOTONIC_RAW || clockid == unix.CLOCK_MONOTONIC_COARSE
}

// Virtualized reports whether reads of the clock id are served from virtual time
func Virtualized(clockid int32) bool {
	return IsRealtime(clockid) || IsMonotonic(clockid)
}
