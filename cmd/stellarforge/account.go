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
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/thefifthdev/stellarforge/common/amount"
	"github.com/thefifthdev/stellarforge/devnet"
	"github.com/thefifthdev/stellarforge/ledger/account"
	"github.com/urfave/cli/v2"
)

var Account = cli.Command{
	Name:  "account",
	Usage: "manages devnet accounts",
	Subcommands: []*cli.Command{
		{
			Name:      "create",
			Usage:     "creates a new account with a zero balance",
			ArgsUsage: "<handle>",
			Action:    accountCreate,
		},
		{
			Name:      "fund",
			Usage:     "mints the given amount into an account",
			ArgsUsage: "<handle> <amount>",
			Action:    accountFund,
		},
		{
			Name:      "show",
			Usage:     "prints an account",
			ArgsUsage: "<handle>",
			Action:    accountShow,
		},
	},
}

func accountCreate(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return fmt.Errorf("missing account handle")
	}
	handle := ctx.Args().Get(0)
	return withDevnet(ctx, func(_ context.Context, controller *devnet.Controller) error {
		created, err := controller.CreateAccount(handle)
		if err != nil {
			return err
		}
		printAccount(ctx.App.Writer, created)
		return nil
	})
}

func accountFund(ctx *cli.Context) error {
	if ctx.Args().Len() != 2 {
		return fmt.Errorf("expected an account handle and an amount")
	}
	handle := ctx.Args().Get(0)
	value, err := amount.Parse(ctx.Args().Get(1))
	if err != nil {
		return err
	}
	return withDevnet(ctx, func(_ context.Context, controller *devnet.Controller) error {
		funded, err := controller.Fund(handle, value)
		if err != nil {
			return err
		}
		printAccount(ctx.App.Writer, funded)
		return nil
	})
}

func accountShow(ctx *cli.Context) error {
	if ctx.Args().Len() != 1 {
		return fmt.Errorf("missing account handle")
	}
	handle := ctx.Args().Get(0)
	return withDevnet(ctx, func(_ context.Context, controller *devnet.Controller) error {
		engine, err := controller.Ledger()
		if err != nil {
			return err
		}
		current, err := engine.Current().Account(handle)
		if err != nil {
			return err
		}
		printAccount(ctx.App.Writer, current)
		return nil
	})
}

func printAccount(out io.Writer, a account.Account) {
	fmt.Fprintf(out, "handle:     %s\n", a.Handle)
	fmt.Fprintf(out, "public key: %s\n", hexutil.Encode(a.PublicKey))
	fmt.Fprintf(out, "balance:    %v\n", a.Balance)
	fmt.Fprintf(out, "sequence:   %d\n", a.Sequence)
}
