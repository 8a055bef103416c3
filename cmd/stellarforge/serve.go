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
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/thefifthdev/stellarforge/devnet"
	"github.com/thefifthdev/stellarforge/network"
	"github.com/urfave/cli/v2"
)

var (
	listenFlag = cli.StringFlag{
		Name:  "listen",
		Usage: "address the JSON-RPC endpoint listens on",
	}
	checkpointFlag = cli.DurationFlag{
		Name:  "checkpoint",
		Usage: "interval between saves of a persistent devnet, 0 to only save on shutdown",
		Value: time.Minute,
	}
)

var Serve = cli.Command{
	Action: serve,
	Name:   "serve",
	Usage:  "runs the devnet and exposes it as a JSON-RPC deployment target",
	Flags: []cli.Flag{
		&listenFlag,
		&checkpointFlag,
	},
}

func serve(ctx *cli.Context) error {
	address := configOf(ctx).Listen
	if ctx.IsSet(listenFlag.Name) {
		address = ctx.String(listenFlag.Name)
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	defer listener.Close()

	interrupted, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return withDevnet(ctx, func(_ context.Context, controller *devnet.Controller) error {
		return run(interrupted, controller, listener, ctx.Duration(checkpointFlag.Name))
	})
}

// run serves the devnet through the listener until ctx is cancelled.
func run(ctx context.Context, controller *devnet.Controller, listener net.Listener, checkpoint time.Duration) error {
	handler, err := network.NewServer(network.NewLocal(controller))
	if err != nil {
		return err
	}
	defer handler.Stop()

	server := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	served := make(chan error, 1)
	go func() {
		served <- server.Serve(listener)
	}()
	log.Info("Serving devnet", "endpoint", "http://"+listener.Addr().String())

	var ticks <-chan time.Time
	if checkpoint > 0 && controller.Status().Persistent {
		ticker := time.NewTicker(checkpoint)
		defer ticker.Stop()
		ticks = ticker.C
	}
	for {
		select {
		case <-ticks:
			if err := controller.Checkpoint(ctx); err != nil {
				log.Warn("Failed to save devnet", "err", err)
			}
		case err := <-served:
			return err
		case <-ctx.Done():
			log.Info("Shutting down devnet endpoint")
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := server.Shutdown(shutdown)
			if result := <-served; !errors.Is(result, http.ErrServerClosed) {
				err = errors.Join(err, result)
			}
			return err
		}
	}
}
