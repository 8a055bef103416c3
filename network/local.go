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

	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/devnet"
	"github.com/thefifthdev/stellarforge/executor"
)

// Local is a Network backed by an in-process devnet.
type Local struct {
	devnet *devnet.Controller
}

func NewLocal(controller *devnet.Controller) *Local {
	return &Local{devnet: controller}
}

func (l *Local) NextSequence(_ context.Context, handle string) (uint64, error) {
	engine, err := l.devnet.Ledger()
	if err != nil {
		return 0, err
	}
	return engine.Current().NextSequence(handle)
}

func (l *Local) SubmitDeploy(ctx context.Context, request DeployRequest) (*DeployResult, error) {
	tx := executor.NewDeploy(request.Source, request.Sequence, request.Binary)
	tx.Limits = request.Limits
	receipt, err := l.devnet.Submit(ctx, tx)
	if err != nil {
		return nil, err
	}
	return &DeployResult{
		ContractID: receipt.ContractID,
		Position:   receipt.Ledger,
		Cost:       receipt.Cost,
	}, nil
}

func (l *Local) CodeHash(_ context.Context, contract common.Hash) (common.Hash, error) {
	engine, err := l.devnet.Ledger()
	if err != nil {
		return common.Hash{}, err
	}
	instance, err := engine.Current().Instance(contract)
	if err != nil {
		return common.Hash{}, err
	}
	return instance.Code, nil
}

// Close does nothing, the devnet outlives its adapters.
func (l *Local) Close() error {
	return nil
}
