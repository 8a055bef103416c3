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

	"github.com/thefifthdev/stellarforge/devnet"
	"github.com/urfave/cli/v2"
)

var Devnet = cli.Command{
	Name:  "devnet",
	Usage: "manages the local development network",
	Subcommands: []*cli.Command{
		{
			Name:   "start",
			Usage:  "creates or resumes the devnet in the data directory",
			Action: devnetStart,
		},
		{
			Name:   "status",
			Usage:  "prints a summary of the devnet",
			Action: devnetStatus,
		},
		{
			Name:   "reset",
			Usage:  "discards all devnet state and recreates the genesis ledger",
			Action: devnetReset,
		},
	},
}

func devnetStart(ctx *cli.Context) error {
	return withDevnet(ctx, func(_ context.Context, controller *devnet.Controller) error {
		fmt.Fprintf(ctx.App.Writer, "Devnet ready\n")
		printStatus(ctx.App.Writer, controller.Status())
		return nil
	})
}

func devnetStatus(ctx *cli.Context) error {
	return withDevnet(ctx, func(_ context.Context, controller *devnet.Controller) error {
		printStatus(ctx.App.Writer, controller.Status())
		return nil
	})
}

func devnetReset(ctx *cli.Context) error {
	return withDevnet(ctx, func(c context.Context, controller *devnet.Controller) error {
		if err := controller.Reset(c); err != nil {
			return err
		}
		fmt.Fprintf(ctx.App.Writer, "Devnet reset\n")
		printStatus(ctx.App.Writer, controller.Status())
		return nil
	})
}

func printStatus(out io.Writer, status devnet.Status) {
	fmt.Fprintf(out, "state:      %v\n", status.State)
	fmt.Fprintf(out, "sequence:   %d\n", status.Sequence)
	fmt.Fprintf(out, "accounts:   %d\n", status.Accounts)
	fmt.Fprintf(out, "instances:  %d\n", status.Instances)
	fmt.Fprintf(out, "persistent: %t\n", status.Persistent)
}
