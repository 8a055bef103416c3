// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/thefifthdev/stellarforge/common"
)

// ErrRetriesExhausted is reported when a transient failure persisted over
// all attempts of a retry policy.
const ErrRetriesExhausted = common.ConstError("retries exhausted")

// IsTransient reports whether err is an I/O failure that may succeed when
// retried: connection failures, timeouts and server side HTTP errors.
// Rejections by the network itself are never transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if common.KindOf(err) != "" {
		return errors.Is(err, common.ErrTimeout)
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) {
		return true
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= http.StatusInternalServerError
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// AsTimeout marks an expired deadline as a Timeout. Other errors are
// returned unchanged.
func AsTimeout(what string, err error) error {
	if err == nil || !errors.Is(err, context.DeadlineExceeded) || errors.Is(err, common.ErrTimeout) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", common.ErrTimeout, what, err)
}

// RetryPolicy is a bounded exponential backoff.
type RetryPolicy struct {
	Attempts int           `json:"attempts"`
	Initial  time.Duration `json:"initial"`
	Max      time.Duration `json:"max"`
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 5,
		Initial:  200 * time.Millisecond,
		Max:      5 * time.Second,
	}
}

// Delay is the pause before the given retry, starting at 1.
func (p RetryPolicy) Delay(retry int) time.Duration {
	delay := p.Initial
	for i := 1; i < retry && delay < p.Max; i++ {
		delay *= 2
	}
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	return delay
}

// Wait pauses before the given retry or returns early with the context's
// error.
func (p RetryPolicy) Wait(ctx context.Context, retry int) error {
	timer := time.NewTimer(p.Delay(retry))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Retry runs op until it succeeds or fails with an error that is not
// transient. If transient failures persist over all attempts, the last one
// is returned wrapped in ErrRetriesExhausted. Expired deadlines, of an
// attempt or of ctx, are reported as Timeout.
func Retry[T any](ctx context.Context, policy RetryPolicy, logger log.Logger, what string, op func(context.Context) (T, error)) (T, error) {
	attempts := max(policy.Attempts, 1)
	var zero T
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := policy.Wait(ctx, attempt-1); err != nil {
				return zero, AsTimeout(what, errors.Join(err, last))
			}
		}
		res, err := op(ctx)
		if err == nil {
			return res, nil
		}
		err = AsTimeout(what, err)
		if !IsTransient(err) {
			return zero, err
		}
		last = err
		logger.Warn("Transient failure, retrying", "operation", what, "attempt", attempt, "of", attempts, "err", err)
	}
	return zero, fmt.Errorf("%w: %s failed %d times: %w", ErrRetriesExhausted, what, attempts, last)
}
