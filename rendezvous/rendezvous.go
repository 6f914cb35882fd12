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
Package rendezvous implements a single-slot hand-off between a granting side
and a running side: the granter passes a token and blocks until the runner
releases it back.
*/
package rendezvous

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by every blocking call once the point is closed
var ErrClosed = errors.New("rendezvous closed")

// Point is a single-slot rendezvous carrying a value of type T with each grant
type Point[T any] struct {
	grant     chan T
	release   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New returns an open Point
func New[T any]() *Point[T] {
	return &Point[T]{
		grant:   make(chan T, 1),
		release: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Grant hands the token to the runner. It blocks while a previous grant is still unclaimed.
func (p *Point[T]) Grant(ctx context.Context, v T) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.grant <- v:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Await blocks the runner until it is granted the token
func (p *Point[T]) Await(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-p.grant:
		return v, nil
	default:
	}
	select {
	case v := <-p.grant:
		return v, nil
	case <-p.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Release gives the token back to the granter
func (p *Point[T]) Release() {
	select {
	case p.release <- struct{}{}:
	case <-p.done:
	}
}

// AwaitRelease blocks the granter until the runner releases the token
func (p *Point[T]) AwaitRelease(ctx context.Context) error {
	select {
	case <-p.release:
		return nil
	default:
	}
	select {
	case <-p.release:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close unblocks both sides for good
func (p *Point[T]) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Closed reports whether Close was called
func (p *Point[T]) Closed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
