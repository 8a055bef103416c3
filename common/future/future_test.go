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

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFuture_AwaitReturnsFulfilledValue(t *testing.T) {
	promise, future := Create[int]()
	go promise.Fulfill(Of(42, nil))
	value, err := future.Await()
	require.NoError(t, err)
	require.Equal(t, 42, value)
}

func TestFuture_AwaitReturnsFulfilledError(t *testing.T) {
	injected := errors.New("injected")
	promise, future := Create[int]()
	promise.Fulfill(Of(0, injected))
	_, err := future.Await()
	require.ErrorIs(t, err, injected)
}

func TestFuture_FulfillDoesNotBlockWithoutConsumer(t *testing.T) {
	promise, _ := Create[string]()
	done := make(chan struct{})
	go func() {
		promise.Fulfill(Of("value", nil))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fulfill blocked")
	}
}

func TestFuture_AwaitContextStopsOnCancellation(t *testing.T) {
	_, future := Create[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := future.AwaitContext(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFuture_AwaitContextReleasesLateResults(t *testing.T) {
	promise, future := Create[int]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	released := make(chan int, 1)
	_, err := future.AwaitContext(ctx, func(value int, err error) {
		require.NoError(t, err)
		released <- value
	})
	require.ErrorIs(t, err, context.Canceled)

	promise.Fulfill(Of(7, nil))
	select {
	case value := <-released:
		require.Equal(t, 7, value)
	case <-time.After(time.Second):
		t.Fatal("late result was not released")
	}
}

func TestFuture_AwaitContextDoesNotReleaseConsumedResults(t *testing.T) {
	promise, future := Create[int]()
	promise.Fulfill(Of(3, nil))
	value, err := future.AwaitContext(context.Background(), func(int, error) {
		t.Error("consumed result must not be released")
	})
	require.NoError(t, err)
	require.Equal(t, 3, value)
}

func TestResult_GetReturnsBothParts(t *testing.T) {
	value, err := Of("x", nil).Get()
	require.NoError(t, err)
	require.Equal(t, "x", value)
}

func TestResult_OfKeepsValueAndError(t *testing.T) {
	injected := errors.New("injected")
	value, err := Of(12, injected).Get()
	require.Equal(t, 12, value)
	require.ErrorIs(t, err, injected)
}
