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

// SyscallTable swaps the time related entries of the system call dispatch table
// between the real implementations and the dilated ones
type SyscallTable interface {
	Patch() error
	Restore() error
}

// nopTable is used when the experiment runs without interception
type nopTable struct{}

func (nopTable) Patch() error   { return nil }
func (nopTable) Restore() error { return nil }
