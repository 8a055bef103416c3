// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package amount

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Amount is a non-negative 256-bit quantity of the smallest currency unit.
// The zero value is a valid zero amount.
type Amount struct {
	internal uint256.Int
}

// New creates an amount from a uint64 value.
func New(value uint64) Amount {
	return Amount{internal: *uint256.NewInt(value)}
}

// NewFromUint256 creates an amount from a uint256 value.
func NewFromUint256(value *uint256.Int) Amount {
	return Amount{internal: *value}
}

// NewFromBytes interprets the given bytes as a big-endian unsigned integer.
// Inputs longer than 32 bytes keep their least significant 32 bytes.
func NewFromBytes(data ...byte) Amount {
	result := Amount{}
	if len(data) > 32 {
		data = data[len(data)-32:]
	}
	result.internal.SetBytes(data)
	return result
}

// Parse reads a decimal representation of an amount.
func Parse(s string) (Amount, error) {
	value, err := uint256.FromDecimal(s)
	if err != nil {
		return Amount{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return NewFromUint256(value), nil
}

// Add returns a + b and whether the result overflowed.
func (a Amount) Add(b Amount) (Amount, bool) {
	var res Amount
	_, overflow := res.internal.AddOverflow(&a.internal, &b.internal)
	return res, overflow
}

// Sub returns a - b and whether the result underflowed.
func (a Amount) Sub(b Amount) (Amount, bool) {
	var res Amount
	_, underflow := res.internal.SubOverflow(&a.internal, &b.internal)
	return res, underflow
}

// Mul returns a * b and whether the result overflowed.
func (a Amount) Mul(b Amount) (Amount, bool) {
	var res Amount
	_, overflow := res.internal.MulOverflow(&a.internal, &b.internal)
	return res, overflow
}

func (a Amount) Cmp(b Amount) int {
	return a.internal.Cmp(&b.internal)
}

func (a Amount) IsZero() bool {
	return a.internal.IsZero()
}

func (a Amount) IsUint64() bool {
	return a.internal.IsUint64()
}

func (a Amount) Uint64() uint64 {
	return a.internal.Uint64()
}

func (a Amount) Uint256() uint256.Int {
	return a.internal
}

// Bytes32 returns the big-endian 32 byte representation of the amount.
func (a Amount) Bytes32() [32]byte {
	return a.internal.Bytes32()
}

// Bytes returns the minimal big-endian representation; zero is empty.
func (a Amount) Bytes() []byte {
	return a.internal.Bytes()
}

func (a Amount) String() string {
	return a.internal.Dec()
}

func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) UnmarshalText(data []byte) error {
	res, err := Parse(string(data))
	if err != nil {
		return err
	}
	*a = res
	return nil
}
