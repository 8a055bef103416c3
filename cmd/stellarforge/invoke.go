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
	"strings"
	"unicode"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/devnet"
	"github.com/thefifthdev/stellarforge/executor"
	"github.com/urfave/cli/v2"
)

var (
	sourceFlag = cli.StringFlag{
		Name:     "source",
		Usage:    "account sending the invocation",
		Required: true,
	}
	stepsFlag = cli.Uint64Flag{
		Name:  "steps",
		Usage: "step budget of the invocation, 0 for the configured default",
	}
	memoryFlag = cli.Uint64Flag{
		Name:  "memory",
		Usage: "memory budget of the invocation in bytes, 0 for the configured default",
	}
	simulateFlag = cli.BoolFlag{
		Name:  "simulate",
		Usage: "executes against the current ledger without committing",
	}
)

var Invoke = cli.Command{
	Action:    invokeContract,
	Name:      "invoke",
	Usage:     "calls a function of a contract deployed on the devnet",
	ArgsUsage: "<contract id> <function> [args...]",
	Flags: []cli.Flag{
		&sourceFlag,
		&stepsFlag,
		&memoryFlag,
		&simulateFlag,
	},
}

// parseArg reads 0x-prefixed arguments as hex, everything else as text.
func parseArg(arg string) ([]byte, error) {
	if strings.HasPrefix(arg, "0x") {
		return hexutil.Decode(arg)
	}
	return []byte(arg), nil
}

func invokeContract(ctx *cli.Context) error {
	if ctx.Args().Len() < 2 {
		return fmt.Errorf("expected a contract id and a function name")
	}
	contract, err := common.HexToHash(ctx.Args().Get(0))
	if err != nil {
		return err
	}
	function := ctx.Args().Get(1)
	var args [][]byte
	for _, arg := range ctx.Args().Slice()[2:] {
		value, err := parseArg(arg)
		if err != nil {
			return fmt.Errorf("invalid argument %q: %w", arg, err)
		}
		args = append(args, value)
	}
	source := ctx.String(sourceFlag.Name)

	return withDevnet(ctx, func(c context.Context, controller *devnet.Controller) error {
		exec, err := controller.Executor()
		if err != nil {
			return err
		}
		sequence, err := exec.Ledger().Current().NextSequence(source)
		if err != nil {
			return err
		}
		tx := executor.NewInvoke(source, sequence, contract, function, args...)
		tx.Limits = executor.Limits{
			Steps:  ctx.Uint64(stepsFlag.Name),
			Memory: ctx.Uint64(memoryFlag.Name),
		}
		var receipt *executor.Receipt
		if ctx.Bool(simulateFlag.Name) {
			receipt, err = exec.Simulate(c, tx)
		} else {
			receipt, err = controller.Submit(c, tx)
		}
		if err != nil {
			return err
		}
		printInvocation(ctx.App.Writer, receipt)
		return nil
	})
}

func printInvocation(out io.Writer, receipt *executor.Receipt) {
	fmt.Fprintf(out, "transaction: %v\n", receipt.TxHash)
	fmt.Fprintf(out, "ledger:      %d\n", receipt.Ledger)
	fmt.Fprintf(out, "steps:       %d\n", receipt.Steps)
	fmt.Fprintf(out, "memory:      %d\n", receipt.Memory)
	fmt.Fprintf(out, "return:      %s\n", renderReturn(receipt.Return))
}

func renderReturn(value []byte) string {
	if len(value) == 0 {
		return "<empty>"
	}
	for _, r := range string(value) {
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) {
			return hexutil.Encode(value)
		}
	}
	return fmt.Sprintf("%q (%s)", value, hexutil.Encode(value))
}
