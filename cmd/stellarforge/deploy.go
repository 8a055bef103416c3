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
	"errors"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/thefifthdev/stellarforge/build"
	"github.com/thefifthdev/stellarforge/deploy"
	"github.com/thefifthdev/stellarforge/devnet"
	"github.com/thefifthdev/stellarforge/network"
	"github.com/urfave/cli/v2"
)

var (
	targetFlag = cli.StringFlag{
		Name:  "target",
		Usage: fmt.Sprintf("network to use, %q or a JSON-RPC endpoint URL", network.LocalTarget),
		Value: network.LocalTarget,
	}
	deployerFlag = cli.StringFlag{
		Name:  "deployer",
		Usage: "account submitting and signing the deployment",
	}
	toolchainFlag = cli.StringFlag{
		Name:  "toolchain",
		Usage: "toolchain version to build with",
	}
	optimizationFlag = cli.IntFlag{
		Name:  "optimization",
		Usage: "optimization level to build with",
	}
)

var Deploy = cli.Command{
	Action:    deployContract,
	Name:      "deploy",
	Usage:     "builds a contract and deploys it to a network",
	ArgsUsage: "<source directory>",
	Flags: []cli.Flag{
		&targetFlag,
		&deployerFlag,
		&toolchainFlag,
		&optimizationFlag,
	},
}

// buildConfig applies the toolchain flags on top of the configured build.
func buildConfig(ctx *cli.Context, base build.Config) build.Config {
	if ctx.IsSet(toolchainFlag.Name) {
		base.Toolchain = ctx.String(toolchainFlag.Name)
	}
	if ctx.IsSet(optimizationFlag.Name) {
		base.Optimization = ctx.Int(optimizationFlag.Name)
	}
	return base
}

// withTarget provides a resolver for the selected target. The local devnet
// is only started if it is the target.
func withTarget(ctx *cli.Context, op func(context.Context, network.Target, network.Resolver) error) error {
	target := network.Target(ctx.String(targetFlag.Name))
	if !target.IsLocal() {
		return op(ctx.Context, target, &network.Dialer{})
	}
	return withDevnet(ctx, func(c context.Context, controller *devnet.Controller) error {
		return op(c, target, &network.Dialer{Devnet: controller})
	})
}

func deployContract(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return fmt.Errorf("missing contract source directory")
	}
	path := ctx.Args().Get(0)

	options := configOf(ctx).Deploy
	options.Build = buildConfig(ctx, options.Build)
	if ctx.IsSet(deployerFlag.Name) {
		options.Deployer = ctx.String(deployerFlag.Name)
	}

	store, err := openRecords(ctx)
	if err != nil {
		return err
	}
	err = withTarget(ctx, func(c context.Context, target network.Target, resolver network.Resolver) error {
		pipeline := deploy.New(build.NewAssembler(log.Root()), resolver, store, options, deploy.WithLogger(log.Root()))
		receipt, err := pipeline.Deploy(c, path, target)
		if err != nil {
			return err
		}
		printReceipt(ctx.App.Writer, receipt)
		return nil
	})
	return errors.Join(err, store.Close())
}

func printReceipt(out io.Writer, receipt *deploy.Receipt) {
	fmt.Fprintf(out, "receipt:     %v\n", receipt.ID)
	fmt.Fprintf(out, "contract:    %v\n", receipt.ContractID)
	fmt.Fprintf(out, "code hash:   %v\n", receipt.CodeHash)
	fmt.Fprintf(out, "target:      %v\n", receipt.Target)
	fmt.Fprintf(out, "position:    %d\n", receipt.Position)
	fmt.Fprintf(out, "cost:        %v\n", receipt.Cost)
	fmt.Fprintf(out, "toolchain:   %v\n", receipt.Toolchain)
	fmt.Fprintf(out, "signer:      %s (%v)\n", receipt.Signer, receipt.Address)
	fmt.Fprintf(out, "signature:   %s\n", hexutil.Encode(receipt.Signature))
}
