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
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/thefifthdev/stellarforge/config"
	"github.com/thefifthdev/stellarforge/devnet"
	"github.com/thefifthdev/stellarforge/records"
	"github.com/urfave/cli/v2"
)

var (
	configFlag = cli.StringFlag{
		Name:    "config",
		Usage:   "configuration file (TOML, YAML or JSON)",
		EnvVars: []string{config.EnvPrefix + "_CONFIG"},
	}
	dataDirFlag = cli.StringFlag{
		Name:  "data-dir",
		Usage: "directory holding the devnet state and the records database",
		Value: config.DefaultDataDir,
	}
	logLevelFlag = cli.StringFlag{
		Name:  "log-level",
		Usage: "log level (trace, debug, info, warn, error, crit)",
		Value: "info",
	}
)

const configKey = "config"

func newApp() *cli.App {
	return &cli.App{
		Name:  "stellarforge",
		Usage: "local devnet, contract deployment and verification",
		Flags: []cli.Flag{
			&configFlag,
			&dataDirFlag,
			&logLevelFlag,
		},
		Before: setup,
		Commands: []*cli.Command{
			&Devnet,
			&Account,
			&Deploy,
			&Invoke,
			&Verify,
			&Inspect,
			&Serve,
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and installs the terminal log handler.
func setup(ctx *cli.Context) error {
	overrides := map[string]any{}
	if ctx.IsSet(dataDirFlag.Name) {
		overrides[config.DataDirKey] = ctx.String(dataDirFlag.Name)
	}
	if ctx.IsSet(logLevelFlag.Name) {
		overrides[config.LogLevelKey] = ctx.String(logLevelFlag.Name)
	}
	cfg, err := config.Load(ctx.String(configFlag.Name), overrides)
	if err != nil {
		return err
	}
	level, err := log.LvlFromString(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(ctx.App.ErrWriter, level, isTerminal(os.Stderr))))

	if ctx.App.Metadata == nil {
		ctx.App.Metadata = map[string]any{}
	}
	ctx.App.Metadata[configKey] = cfg
	return nil
}

func isTerminal(file *os.File) bool {
	info, err := file.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func configOf(ctx *cli.Context) config.Config {
	if cfg, ok := ctx.App.Metadata[configKey].(config.Config); ok {
		return cfg
	}
	return config.Default()
}

// withDevnet runs op against the devnet stored in the data directory. The
// network is stopped, and thereby persisted, once op returns.
func withDevnet(ctx *cli.Context, op func(context.Context, *devnet.Controller) error) (err error) {
	controller := devnet.New(devnet.WithLogger(log.Root()))
	if err := controller.Start(ctx.Context, configOf(ctx).Devnet); err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, controller.Stop(ctx.Context))
	}()
	return op(ctx.Context, controller)
}

func openRecords(ctx *cli.Context) (*records.Store, error) {
	cfg := configOf(ctx)
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return records.Open(cfg.RecordsFile())
}
