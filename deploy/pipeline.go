// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/thefifthdev/stellarforge/build"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/executor"
	"github.com/thefifthdev/stellarforge/ledger/account"
	"github.com/thefifthdev/stellarforge/network"
	"github.com/thefifthdev/stellarforge/records"
)

// Receipt is the signed, durable record of a deployment.
type Receipt = records.Deployment

// Options configure deployments.
type Options struct {
	// Deployer is the account submitting and signing deployments.
	Deployer string       `json:"deployer"`
	Build    build.Config `json:"build"`
	// Timeout bounds every remote call.
	Timeout time.Duration       `json:"timeout"`
	Retry   network.RetryPolicy `json:"retry"`
	Limits  executor.Limits     `json:"limits"`
	Cost    executor.CostModel  `json:"cost"`
}

func DefaultOptions() Options {
	return Options{
		Build:   build.DefaultConfig(),
		Timeout: 30 * time.Second,
		Retry:   network.DefaultRetryPolicy(),
		Cost:    executor.DefaultConfig().Deploy,
	}
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

func WithLogger(logger log.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// Pipeline builds contracts and submits them to a network.
type Pipeline struct {
	builder  build.Builder
	networks network.Resolver
	records  *records.Store // < optional
	options  Options

	logger log.Logger
	now    func() time.Time
}

// New creates a deployment pipeline. Receipts are persisted if a records
// store is given.
func New(builder build.Builder, networks network.Resolver, store *records.Store, options Options, opts ...Option) *Pipeline {
	res := &Pipeline{
		builder:  builder,
		networks: networks,
		records:  store,
		options:  options,
		logger:   log.Root(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(res)
	}
	return res
}

// Deploy builds the sources at the given path and deploys the resulting
// binary to the target. Build errors and rejections by the network are
// returned immediately; transient failures are retried within the bounds
// of the retry policy.
func (p *Pipeline) Deploy(ctx context.Context, sourcePath string, target network.Target) (*Receipt, error) {
	if err := account.CheckHandle(p.options.Deployer); err != nil {
		return nil, fmt.Errorf("invalid deployer: %w", err)
	}
	artifact, err := p.builder.Build(ctx, sourcePath, p.options.Build)
	if err != nil {
		if !errors.Is(err, common.ErrBuildFailed) {
			err = fmt.Errorf("%w: %w", common.ErrBuildFailed, err)
		}
		return nil, err
	}
	estimate, err := p.options.Cost.Estimate(len(artifact.Binary))
	if err != nil {
		return nil, err
	}
	p.logger.Info("Deploying contract", "hash", artifact.Hash, "size", len(artifact.Binary), "estimate", estimate, "target", target)

	net, err := p.networks.Resolve(ctx, target)
	if err != nil {
		return nil, err
	}
	defer net.Close()

	result, err := p.submit(ctx, net, artifact)
	if err != nil {
		p.logger.Warn("Deployment failed", "hash", artifact.Hash, "target", target, "err", err)
		return nil, err
	}

	receipt := &Receipt{
		ID:         uuid.New(),
		ContractID: result.ContractID,
		CodeHash:   artifact.Hash,
		Target:     target.String(),
		Position:   result.Position,
		Cost:       estimate,
		Toolchain:  artifact.Config.String(),
		Signer:     p.options.Deployer,
		Timestamp:  p.now().UTC(),
	}
	if err := Sign(receipt, account.KeyFor(p.options.Deployer)); err != nil {
		return nil, err
	}
	if p.records != nil {
		if err := p.records.AddDeployment(ctx, *receipt); err != nil {
			return nil, fmt.Errorf("contract %v deployed but receipt could not be stored: %w", receipt.ContractID, err)
		}
	}
	p.logger.Info("Contract deployed", "contract", receipt.ContractID, "position", receipt.Position, "receipt", receipt.ID)
	return receipt, nil
}

// submit delivers the deploy transaction. The sequence number is fetched
// once and reused by all retries, so an attempt that landed despite
// failing on the client side can not land a second time.
func (p *Pipeline) submit(ctx context.Context, net network.Network, artifact *build.Artifact) (*network.DeployResult, error) {
	sequence, err := network.Retry(ctx, p.options.Retry, p.logger, "fetch sequence", func(ctx context.Context) (uint64, error) {
		ctx, cancel := p.bound(ctx)
		defer cancel()
		return net.NextSequence(ctx, p.options.Deployer)
	})
	if err != nil {
		return nil, p.exhausted(err)
	}

	request := network.DeployRequest{
		Source:   p.options.Deployer,
		Sequence: sequence,
		Binary:   artifact.Binary,
		Limits:   p.options.Limits,
	}
	attempts := max(p.options.Retry.Attempts, 1)
	ambiguous := false
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := p.options.Retry.Wait(ctx, attempt-1); err != nil {
				return nil, fmt.Errorf("%w: %w", common.ErrSubmissionFailed, network.AsTimeout("submit deploy", errors.Join(err, last)))
			}
		}
		result, err := p.attempt(ctx, net, request)
		err = network.AsTimeout("submit deploy", err)
		if err == nil {
			return result, nil
		}
		if ambiguous && errors.Is(err, common.ErrSequenceMismatch) {
			// The sequence was used up, possibly by an earlier attempt.
			landed, lookupErr := p.landed(ctx, net, artifact)
			if lookupErr != nil {
				return nil, errors.Join(err, lookupErr)
			}
			if landed != nil {
				return landed, nil
			}
			return nil, err
		}
		if !network.IsTransient(err) {
			return nil, err
		}
		ambiguous = true
		last = err
		p.logger.Warn("Deploy submission failed, retrying", "attempt", attempt, "of", attempts, "err", err)
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts: %w", common.ErrSubmissionFailed, attempts, last)
}

func (p *Pipeline) attempt(ctx context.Context, net network.Network, request network.DeployRequest) (*network.DeployResult, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	return net.SubmitDeploy(ctx, request)
}

// landed checks whether the contract of the artifact exists on the network.
func (p *Pipeline) landed(ctx context.Context, net network.Network, artifact *build.Artifact) (*network.DeployResult, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()
	hash, err := net.CodeHash(ctx, artifact.Hash)
	if errors.Is(err, common.ErrContractNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if hash != artifact.Hash {
		return nil, nil
	}
	p.logger.Info("Earlier deploy attempt landed", "contract", artifact.Hash)
	// the position of the earlier attempt is not known
	return &network.DeployResult{ContractID: artifact.Hash}, nil
}

func (p *Pipeline) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.options.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.options.Timeout)
}

func (p *Pipeline) exhausted(err error) error {
	if errors.Is(err, network.ErrRetriesExhausted) {
		return fmt.Errorf("%w: %w", common.ErrSubmissionFailed, err)
	}
	return err
}
