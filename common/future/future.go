// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package future

import "context"

// Result is the outcome of an asynchronous operation: a value or an error.
type Result[T any] struct {
	Value T
	Error error
}

// Of combines the results of a call returning a value and an error.
func Of[T any](value T, err error) Result[T] {
	return Result[T]{Value: value, Error: err}
}

func (r Result[T]) Get() (T, error) {
	return r.Value, r.Error
}

// Promise is the producing end of a one-shot result channel. It must be
// fulfilled exactly once.
type Promise[T any] struct {
	channel chan<- Result[T]
}

// Future is the consuming end of a one-shot result channel.
type Future[T any] struct {
	channel <-chan Result[T]
}

// Create returns a connected promise/future pair.
func Create[T any]() (Promise[T], Future[T]) {
	channel := make(chan Result[T], 1)
	return Promise[T]{channel}, Future[T]{channel}
}

// Fulfill resolves the connected future. It never blocks.
func (p Promise[T]) Fulfill(result Result[T]) {
	p.channel <- result
	close(p.channel)
}

// Await blocks until the result is available.
func (f Future[T]) Await() (T, error) {
	return (<-f.channel).Get()
}

// AwaitContext blocks until the result is available or the context is done.
// In the latter case the context's error is returned; the producer still
// completes its work and, if release is not nil, the late result is handed
// to release from a background goroutine.
func (f Future[T]) AwaitContext(ctx context.Context, release func(T, error)) (T, error) {
	select {
	case res := <-f.channel:
		return res.Get()
	case <-ctx.Done():
		if release != nil {
			go func() {
				release((<-f.channel).Get())
			}()
		}
		var zero T
		return zero, ctx.Err()
	}
}
