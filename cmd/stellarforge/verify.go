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

	"github.com/ethereum/go-ethereum/log"
	"github.com/thefifthdev/stellarforge/build"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/network"
	"github.com/thefifthdev/stellarforge/verify"
	"github.com/urfave/cli/v2"
)

// ErrMismatch is reported when the local build differs from the deployed
// code, so scripts can rely on the exit status.
const ErrMismatch = common.ConstError("deployed code does not match the local build")

var Verify = cli.Command{
	Action:    verifyContract,
	Name:      "verify",
	Usage:     "checks that a deployed contract was built from the given sources",
	ArgsUsage: "<contract id> <source directory>",
	Flags: []cli.Flag{
		&targetFlag,
		&toolchainFlag,
		&optimizationFlag,
	},
}

func verifyContract(ctx *cli.Context) error {
	if ctx.Args().Len() != 2 {
		return fmt.Errorf("expected a contract id and a source directory")
	}
	contract, err := common.HexToHash(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	path := ctx.Args().Get(1)

	options := configOf(ctx).Verify
	options.Build = buildConfig(ctx, options.Build)

	store, err := openRecords(ctx)
	if err != nil {
		return err
	}
	err = withTarget(ctx, func(c context.Context, target network.Target, resolver network.Resolver) error {
		engine := verify.New(build.NewAssembler(log.Root()), resolver, store, options,
			verify.WithLogger(log.Root()),
			verify.WithObserver(&verify.LogObserver{Logger: log.Root()}),
		)
		record, err := engine.Verify(c, contract, path, target)
		if err != nil {
			return err
		}
		out := ctx.App.Writer
		fmt.Fprintf(out, "record:      %v\n", record.ID)
		fmt.Fprintf(out, "contract:    %v\n", record.ContractID)
		fmt.Fprintf(out, "local hash:  %v\n", record.LocalHash)
		fmt.Fprintf(out, "remote hash: %v\n", record.RemoteHash)
		fmt.Fprintf(out, "toolchain:   %v\n", record.Toolchain)
		if !record.Match {
			return ErrMismatch
		}
		fmt.Fprintf(out, "Match!\n")
		return nil
	})
	return errors.Join(err, store.Close())
}
