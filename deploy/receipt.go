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
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/ledger/account"
)

const ErrInvalidSignature = common.ConstError("invalid receipt signature")

type receiptRecord struct {
	ID         [16]byte
	ContractID common.Hash
	CodeHash   common.Hash
	Target     string
	Position   uint64
	Cost       [32]byte
	Toolchain  string
	Signer     string
	Address    string
	Timestamp  uint64
}

// Digest is the hash signed by the deployer. It covers all receipt
// fields except the signature itself.
func Digest(receipt *Receipt) common.Hash {
	data, err := rlp.EncodeToBytes(&receiptRecord{
		ID:         receipt.ID,
		ContractID: receipt.ContractID,
		CodeHash:   receipt.CodeHash,
		Target:     receipt.Target,
		Position:   receipt.Position,
		Cost:       receipt.Cost.Bytes32(),
		Toolchain:  receipt.Toolchain,
		Signer:     receipt.Signer,
		Address:    receipt.Address,
		Timestamp:  uint64(receipt.Timestamp.UnixNano()),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to encode receipt: %v", err))
	}
	return common.Keccak256(data)
}

// Sign records the signer's address in the receipt and signs it.
func Sign(receipt *Receipt, key *ecdsa.PrivateKey) error {
	receipt.Address = crypto.PubkeyToAddress(key.PublicKey).Hex()
	digest := Digest(receipt)
	signature, err := crypto.Sign(digest[:], key)
	if err != nil {
		return fmt.Errorf("failed to sign receipt: %w", err)
	}
	receipt.Signature = signature
	return nil
}

// VerifySignature checks that the receipt was signed by the devnet key of
// its signer and has not been modified since.
func VerifySignature(receipt *Receipt) error {
	if len(receipt.Signature) != crypto.SignatureLength {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, crypto.SignatureLength, len(receipt.Signature))
	}
	digest := Digest(receipt)
	key, err := crypto.SigToPub(digest[:], receipt.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	recovered := crypto.PubkeyToAddress(*key).Hex()
	if recovered != receipt.Address {
		return fmt.Errorf("%w: signed by %s, receipt names %s", ErrInvalidSignature, recovered, receipt.Address)
	}
	expected := crypto.PubkeyToAddress(account.KeyFor(receipt.Signer).PublicKey).Hex()
	if recovered != expected {
		return fmt.Errorf("%w: %s is not the key of %q", ErrInvalidSignature, recovered, receipt.Signer)
	}
	return nil
}
