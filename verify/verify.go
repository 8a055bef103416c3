// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package verify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/thefifthdev/stellarforge/build"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/network"
	"github.com/thefifthdev/stellarforge/records"
)

// Record is the durable outcome of a verification.
type Record = records.Verification

// Observer is informed about the progress of verifications.
type Observer interface {
	StartVerification(contract common.Hash, target network.Target)
	Progress(msg string)
	EndVerification(record *Record, err error)
}

// NilObserver ignores all events.
type NilObserver struct{}

func (NilObserver) StartVerification(common.Hash, network.Target) {}
func (NilObserver) Progress(string)                               {}
func (NilObserver) EndVerification(*Record, error)                {}

// LogObserver reports verification progress through a logger.
type LogObserver struct {
	Logger log.Logger
	start  time.Time
}

func (o *LogObserver) StartVerification(contract common.Hash, target network.Target) {
	o.start = time.Now()
	o.Logger.Info("Verification started", "contract", contract, "target", target)
}

func (o *LogObserver) Progress(msg string) {
	o.Logger.Info(msg, "elapsed", time.Since(o.start).Round(time.Millisecond))
}

func (o *LogObserver) EndVerification(record *Record, err error) {
	if err != nil {
		o.Logger.Error("Verification failed", "err", err)
		return
	}
	o.Logger.Info("Verification completed", "match", record.Match, "local", record.LocalHash, "remote", record.RemoteHash, "record", record.ID)
}

// Options configure verifications.
type Options struct {
	// Build is the configuration the contract was pinned to when deployed.
	Build   build.Config        `json:"build"`
	Timeout time.Duration       `json:"timeout"`
	Retry   network.RetryPolicy `json:"retry"`
}

func DefaultOptions() Options {
	return Options{
		Build:   build.DefaultConfig(),
		Timeout: 30 * time.Second,
		Retry:   network.DefaultRetryPolicy(),
	}
}

// Option customizes an Engine.
type Option func(*Engine)

func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		e.observer = observer
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine proves that sources correspond to deployed contracts by
// rebuilding them and comparing content hashes.
type Engine struct {
	builder  build.Builder
	networks network.Resolver
	records  *records.Store // < optional
	options  Options

	logger   log.Logger
	observer Observer
	now      func() time.Time
}

func New(builder build.Builder, networks network.Resolver, store *records.Store, options Options, opts ...Option) *Engine {
	res := &Engine{
		builder:  builder,
		networks: networks,
		records:  store,
		options:  options,
		logger:   log.Root(),
		observer: NilObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

// Verify rebuilds the sources at the given path and compares the result
// with the code of the contract on the target network. A mismatch is a
// conclusive result, reported through the record and not as an error.
func (e *Engine) Verify(ctx context.Context, contract common.Hash, sourcePath string, target network.Target) (*Record, error) {
	e.observer.StartVerification(contract, target)
	record, err := e.verify(ctx, contract, sourcePath, target)
	e.observer.EndVerification(record, err)
	return record, err
}

func (e *Engine) verify(ctx context.Context, contract common.Hash, sourcePath string, target network.Target) (*Record, error) {
	e.observer.Progress(fmt.Sprintf("Rebuilding %s with %v", sourcePath, e.options.Build))
	artifact, err := e.builder.Build(ctx, sourcePath, e.options.Build)
	if err != nil {
		if !errors.Is(err, common.ErrBuildFailed) {
			err = fmt.Errorf("%w: %w", common.ErrBuildFailed, err)
		}
		return nil, err
	}

	e.observer.Progress(fmt.Sprintf("Fetching code hash of %v from %v", contract, target))
	net, err := e.networks.Resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	defer net.Close()
	remote, err := network.Retry(ctx, e.options.Retry, e.logger, "fetch code hash", func(ctx context.Context) (common.Hash, error) {
		if e.options.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, e.options.Timeout)
			defer cancel()
		}
		return net.CodeHash(ctx, contract)
	})
	if errors.Is(err, network.ErrRetriesExhausted) {
		return nil, fmt.Errorf("%w: %w", common.ErrTimeout, err)
	}
	if err != nil {
		return nil, err
	}

	record := &Record{
		ID:         uuid.New(),
		ContractID: contract,
		LocalHash:  artifact.Hash,
		RemoteHash: remote,
		Match:      artifact.Hash == remote,
		Toolchain:  artifact.Config.String(),
		Target:     target.String(),
		Timestamp:  e.now().UTC(),
	}
	e.observer.Progress(fmt.Sprintf("Comparing local hash %v with remote hash %v", record.LocalHash, record.RemoteHash))
	if e.records != nil {
		if err := e.records.AddVerification(ctx, *record); err != nil {
			return nil, fmt.Errorf("failed to store verification record: %w", err)
		}
	}
	e.logger.Info("Contract verified", "contract", contract, "match", record.Match, "target", target)
	return record, nil
}
