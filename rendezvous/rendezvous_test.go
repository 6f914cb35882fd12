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

package rendezvous

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGrantAwaitRelease(t *testing.T) {
	ctx := context.Background()
	p := New[int]()
	var got atomic.Int64
	go func() {
		v, err := p.Await(ctx)
		if err != nil {
			return
		}
		got.Store(int64(v))
		p.Release()
	}()
	require.NoError(t, p.Grant(ctx, 42))
	require.NoError(t, p.AwaitRelease(ctx))
	require.Equal(t, int64(42), got.Load())
}

func TestGrantBeforeAwait(t *testing.T) {
	ctx := context.Background()
	p := New[string]()
	require.NoError(t, p.Grant(ctx, "token"))
	v, err := p.Await(ctx)
	require.NoError(t, err)
	require.Equal(t, "token", v)
}

func TestCloseUnblocks(t *testing.T) {
	ctx := context.Background()
	p := New[int]()
	errs := make(chan error, 2)
	go func() {
		_, err := p.Await(ctx)
		errs <- err
	}()
	go func() {
		errs <- p.AwaitRelease(ctx)
	}()
	time.Sleep(10 * time.Millisecond)
	p.Close()
	require.ErrorIs(t, <-errs, ErrClosed)
	require.ErrorIs(t, <-errs, ErrClosed)
	require.True(t, p.Closed())
	require.ErrorIs(t, p.Grant(ctx, 1), ErrClosed)
	// second close is fine
	p.Close()
}

func TestAwaitContext(t *testing.T) {
	p := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGrantBlocksWhileSlotTaken(t *testing.T) {
	p := New[int]()
	require.NoError(t, p.Grant(context.Background(), 1))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, p.Grant(ctx, 2), context.DeadlineExceeded)
}
