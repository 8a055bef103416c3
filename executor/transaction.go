// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package executor

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/common/amount"
	"github.com/thefifthdev/stellarforge/runtime"
)

// Kind is the operation performed by a transaction.
type Kind uint8

const (
	Fund Kind = iota + 1
	Deploy
	Invoke
	Archive
)

func (k Kind) String() string {
	switch k {
	case Fund:
		return "fund"
	case Deploy:
		return "deploy"
	case Invoke:
		return "invoke"
	case Archive:
		return "archive"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind resolves the name of a transaction kind.
func ParseKind(name string) (Kind, error) {
	for _, kind := range []Kind{Fund, Deploy, Invoke, Archive} {
		if kind.String() == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown transaction kind %q", common.ErrInvalidTransaction, name)
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(data []byte) error {
	kind, err := ParseKind(string(data))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// Limits is the resource budget claimed by a transaction. Zero fields are
// replaced by the configured defaults.
type Limits = runtime.Limits

// Transaction is a single operation submitted by a source account. Only the
// payload fields of its kind are considered.
type Transaction struct {
	Kind     Kind
	Source   string
	Sequence uint64 // < must be the source's current sequence + 1
	Limits   Limits

	// fund
	To     string
	Amount amount.Amount

	// deploy
	Binary []byte

	// invoke and archive
	Contract common.Hash
	Function string
	Args     [][]byte
}

func NewFund(source string, sequence uint64, to string, value amount.Amount) *Transaction {
	return &Transaction{Kind: Fund, Source: source, Sequence: sequence, To: to, Amount: value}
}

func NewDeploy(source string, sequence uint64, binary []byte) *Transaction {
	return &Transaction{Kind: Deploy, Source: source, Sequence: sequence, Binary: binary}
}

func NewInvoke(source string, sequence uint64, contract common.Hash, function string, args ...[]byte) *Transaction {
	return &Transaction{Kind: Invoke, Source: source, Sequence: sequence, Contract: contract, Function: function, Args: args}
}

func NewArchive(source string, sequence uint64, contract common.Hash) *Transaction {
	return &Transaction{Kind: Archive, Source: source, Sequence: sequence, Contract: contract}
}

type transactionRecord struct {
	Kind     uint8
	Source   string
	Sequence uint64
	Steps    uint64
	Memory   uint64
	To       string
	Amount   [32]byte
	Binary   []byte
	Contract common.Hash
	Function string
	Args     [][]byte
}

// Hash identifies the transaction by its canonical encoding.
func (tx *Transaction) Hash() common.Hash {
	data, err := rlp.EncodeToBytes(&transactionRecord{
		Kind:     uint8(tx.Kind),
		Source:   tx.Source,
		Sequence: tx.Sequence,
		Steps:    tx.Limits.Steps,
		Memory:   tx.Limits.Memory,
		To:       tx.To,
		Amount:   tx.Amount.Bytes32(),
		Binary:   tx.Binary,
		Contract: tx.Contract,
		Function: tx.Function,
		Args:     tx.Args,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to encode transaction: %v", err))
	}
	return common.Keccak256(data)
}

// Receipt describes the effect of a successfully executed transaction.
type Receipt struct {
	TxHash     common.Hash
	Kind       Kind
	Source     string
	Sequence   uint64 // < source sequence consumed by the transaction
	Ledger     uint64 // < ledger sequence the transaction was applied at
	ContractID common.Hash
	Return     []byte
	Cost       amount.Amount
	Steps      uint64
	Memory     uint64
	Accounts   []string
	Instances  []common.Hash
}

// Failure is the error produced for rejected transactions. It matches its
// Kind with errors.Is.
type Failure struct {
	Kind  error
	Cause string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%v: %s", f.Kind, f.Cause)
}

func (f *Failure) Unwrap() error {
	return f.Kind
}

func fail(kind error, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Cause: fmt.Sprintf(format, args...)}
}
