// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/thefifthdev/stellarforge/build"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/devnet"
	"github.com/urfave/cli/v2"
)

var Inspect = cli.Command{
	Action:    inspect,
	Name:      "inspect",
	Usage:     "disassembles a contract deployed on the devnet or built from sources",
	ArgsUsage: "<contract id | source directory>",
	Flags: []cli.Flag{
		&toolchainFlag,
		&optimizationFlag,
	},
}

func inspect(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return fmt.Errorf("missing contract id or source directory")
	}
	arg := ctx.Args().Get(0)
	if contract, err := common.HexToHash(arg); err == nil {
		return inspectInstance(ctx, contract)
	}

	config := buildConfig(ctx, configOf(ctx).Deploy.Build)
	artifact, err := build.NewAssembler(log.Root()).Build(ctx.Context, arg, config)
	if err != nil {
		return err
	}
	listing, err := build.Disassemble(artifact.Binary)
	if err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.Writer, "; code hash %v\n%s", artifact.Hash, listing)
	return nil
}

func inspectInstance(ctx *cli.Context, contract common.Hash) error {
	return withDevnet(ctx, func(_ context.Context, controller *devnet.Controller) error {
		engine, err := controller.Ledger()
		if err != nil {
			return err
		}
		instance, err := engine.Current().Instance(contract)
		if err != nil {
			return err
		}
		code, err := engine.Registry().Lookup(instance.Code)
		if err != nil {
			return err
		}
		listing, err := build.Disassemble(code.Binary)
		if err != nil {
			return err
		}
		out := ctx.App.Writer
		fmt.Fprintf(out, "; instance %v, owner %s, %v\n", instance.ID, instance.Owner, instance.Status)
		for _, key := range instance.Keys() {
			fmt.Fprintf(out, "; storage %s = %s\n", hexutil.Encode([]byte(key)), hexutil.Encode(instance.Storage[key]))
		}
		fmt.Fprintf(out, "; code hash %v\n%s", code.Hash, listing)
		return nil
	})
}
