// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package deploy

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/common/amount"
	"github.com/thefifthdev/stellarforge/ledger/account"
)

func signedReceipt(t *testing.T) *Receipt {
	t.Helper()
	receipt := &Receipt{
		ID:         uuid.New(),
		ContractID: common.Keccak256([]byte("code")),
		CodeHash:   common.Keccak256([]byte("code")),
		Target:     "local",
		Position:   9,
		Cost:       amount.New(100),
		Toolchain:  "sfa-1.1.0/O1",
		Signer:     "alice",
		Timestamp:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, Sign(receipt, account.KeyFor("alice")))
	return receipt
}

func TestVerifySignature_AcceptsSignedReceipt(t *testing.T) {
	receipt := signedReceipt(t)
	require.NotEmpty(t, receipt.Address)
	require.NoError(t, VerifySignature(receipt))
}

func TestVerifySignature_DetectsTampering(t *testing.T) {
	tests := map[string]func(*Receipt){
		"position":  func(r *Receipt) { r.Position++ },
		"cost":      func(r *Receipt) { r.Cost = amount.New(1) },
		"code hash": func(r *Receipt) { r.CodeHash = common.Keccak256([]byte("other")) },
		"timestamp": func(r *Receipt) { r.Timestamp = r.Timestamp.Add(time.Second) },
		"signer":    func(r *Receipt) { r.Signer = "bob" },
		"signature": func(r *Receipt) { r.Signature = r.Signature[:10] },
	}
	for name, tamper := range tests {
		t.Run(name, func(t *testing.T) {
			receipt := signedReceipt(t)
			tamper(receipt)
			require.ErrorIs(t, VerifySignature(receipt), ErrInvalidSignature)
		})
	}
}

func TestVerifySignature_RejectsForeignKeys(t *testing.T) {
	receipt := signedReceipt(t)
	require.NoError(t, Sign(receipt, account.KeyFor("mallory")))
	require.ErrorIs(t, VerifySignature(receipt), ErrInvalidSignature)
}

func TestDigest_IgnoresSignature(t *testing.T) {
	receipt := signedReceipt(t)
	digest := Digest(receipt)
	receipt.Signature = nil
	require.Equal(t, digest, Digest(receipt))
}
