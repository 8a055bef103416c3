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
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/executor"
)

// Namespace is the JSON-RPC namespace of all network methods.
const Namespace = "forge"

// errorCode is the JSON-RPC error code of rejections carrying an error
// kind. The kind itself is transported in the error's data field.
const errorCode = -32010

// NewServer exposes a network through JSON-RPC. The server implements
// http.Handler.
func NewServer(network Network) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName(Namespace, &service{network: network}); err != nil {
		return nil, err
	}
	return server, nil
}

type service struct {
	network Network
}

func (s *service) NextSequence(ctx context.Context, handle string) (hexutil.Uint64, error) {
	next, err := s.network.NextSequence(ctx, handle)
	return hexutil.Uint64(next), toRPCError(err)
}

func (s *service) SubmitDeploy(ctx context.Context, request DeployRequest) (*DeployResult, error) {
	res, err := s.network.SubmitDeploy(ctx, request)
	return res, toRPCError(err)
}

func (s *service) CodeHash(ctx context.Context, contract common.Hash) (common.Hash, error) {
	hash, err := s.network.CodeHash(ctx, contract)
	return hash, toRPCError(err)
}

// rpcError carries an error kind over the JSON-RPC boundary.
type rpcError struct {
	kind    string
	message string
}

func (e *rpcError) Error() string {
	return e.message
}

func (e *rpcError) ErrorCode() int {
	return errorCode
}

func (e *rpcError) ErrorData() interface{} {
	return e.kind
}

// toRPCError returns err unchanged unless it carries an error kind. The
// rpc package inspects returned errors without unwrapping them.
func toRPCError(err error) error {
	if err == nil {
		return nil
	}
	kind := common.KindOf(err)
	if kind == "" {
		return err
	}
	message := err.Error()
	var failure *executor.Failure
	if errors.As(err, &failure) {
		message = failure.Cause
	}
	return &rpcError{kind: kind, message: strings.TrimPrefix(message, kind+": ")}
}

// fromRPCError restores the error kind of errors received from a server.
func fromRPCError(err error) error {
	if err == nil {
		return nil
	}
	var coded rpc.Error
	var data rpc.DataError
	if !errors.As(err, &coded) || coded.ErrorCode() != errorCode || !errors.As(err, &data) {
		return err
	}
	name, ok := data.ErrorData().(string)
	if !ok {
		return err
	}
	kind, found := common.ParseKind(name)
	if !found {
		return err
	}
	return &executor.Failure{Kind: kind, Cause: err.Error()}
}
