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

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/thefifthdev/stellarforge/common"
)

// Client is a Network reached through JSON-RPC.
type Client struct {
	endpoint string
	rpc      *rpc.Client
}

// Dial connects to a JSON-RPC endpoint. HTTP endpoints are connected to
// lazily, so failing to reach the server surfaces on the first call.
func Dial(ctx context.Context, endpoint string) (*Client, error) {
	client, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}
	return &Client{endpoint: endpoint, rpc: client}, nil
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return fromRPCError(c.rpc.CallContext(ctx, result, Namespace+"_"+method, args...))
}

func (c *Client) NextSequence(ctx context.Context, handle string) (uint64, error) {
	var next hexutil.Uint64
	if err := c.call(ctx, &next, "nextSequence", handle); err != nil {
		return 0, err
	}
	return uint64(next), nil
}

func (c *Client) SubmitDeploy(ctx context.Context, request DeployRequest) (*DeployResult, error) {
	var res DeployResult
	if err := c.call(ctx, &res, "submitDeploy", request); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) CodeHash(ctx context.Context, contract common.Hash) (common.Hash, error) {
	var hash common.Hash
	if err := c.call(ctx, &hash, "codeHash", contract); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (c *Client) Close() error {
	c.rpc.Close()
	return nil
}
