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
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/common/amount"
	"github.com/thefifthdev/stellarforge/devnet"
	"github.com/thefifthdev/stellarforge/executor"
)

//go:generate mockgen -source network.go -destination network_mocks.go -package network

// LocalTarget is the name of the in-process devnet target.
const LocalTarget = "local"

// DeployRequest submits a contract binary on behalf of an account.
type DeployRequest struct {
	Source   string          `json:"source"`
	Sequence uint64          `json:"sequence"`
	Binary   hexutil.Bytes   `json:"binary"`
	Limits   executor.Limits `json:"limits"`
}

// DeployResult describes a contract that landed on a network.
type DeployResult struct {
	ContractID common.Hash   `json:"contractId"`
	Position   uint64        `json:"position"`
	Cost       amount.Amount `json:"cost"`
}

// Network is the part of a ledger network the deployment and verification
// pipelines depend on. Rejections carry the error kinds of the common
// package, regardless of whether the network is local or remote.
type Network interface {
	// NextSequence returns the sequence the next transaction of the given
	// account has to claim.
	NextSequence(ctx context.Context, handle string) (uint64, error)
	// SubmitDeploy submits a deploy transaction.
	SubmitDeploy(ctx context.Context, request DeployRequest) (*DeployResult, error)
	// CodeHash returns the hash of the code of a deployed contract or fails
	// with common.ErrContractNotFound.
	CodeHash(ctx context.Context, contract common.Hash) (common.Hash, error)
	Close() error
}

// Target names a network: LocalTarget or the URL of a JSON-RPC endpoint.
type Target string

func (t Target) IsLocal() bool {
	return t == "" || t == LocalTarget
}

func (t Target) String() string {
	if t.IsLocal() {
		return LocalTarget
	}
	return string(t)
}

// Resolver provides access to the network behind a target.
type Resolver interface {
	Resolve(ctx context.Context, target Target) (Network, error)
}

// Dialer resolves the local target to an in-process devnet and every other
// target to a JSON-RPC client.
type Dialer struct {
	Devnet *devnet.Controller
}

func (d *Dialer) Resolve(ctx context.Context, target Target) (Network, error) {
	if target.IsLocal() {
		if d.Devnet == nil {
			return nil, fmt.Errorf("no local devnet available")
		}
		return NewLocal(d.Devnet), nil
	}
	if !strings.Contains(string(target), "://") {
		return nil, fmt.Errorf("invalid target %q, expected %q or an endpoint URL", target, LocalTarget)
	}
	return Dial(ctx, string(target))
}
