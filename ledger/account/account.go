// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package account

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/common/amount"
)

// Account is a devnet test identity. Sequence starts at 0 and is increased
// by one for every successfully executed transaction sent by the account.
type Account struct {
	Handle    string
	PublicKey []byte // compressed secp256k1 key
	Balance   amount.Amount
	Sequence  uint64
}

// New creates an account for the given handle with a zero balance and the
// devnet key derived from the handle.
func New(handle string) (Account, error) {
	if err := CheckHandle(handle); err != nil {
		return Account{}, err
	}
	key := KeyFor(handle)
	return Account{
		Handle:    handle,
		PublicKey: crypto.CompressPubkey(&key.PublicKey),
	}, nil
}

// CheckHandle verifies that a handle is usable as an account identity.
func CheckHandle(handle string) error {
	if len(handle) == 0 {
		return fmt.Errorf("%w: empty handle", common.ErrInvalidHandle)
	}
	if len(handle) > 64 {
		return fmt.Errorf("%w: handle longer than 64 bytes", common.ErrInvalidHandle)
	}
	for _, r := range handle {
		if r <= ' ' || r == 0x7f {
			return fmt.Errorf("%w: handle %q contains whitespace or control characters", common.ErrInvalidHandle, handle)
		}
	}
	return nil
}

// KeyFor derives the deterministic devnet signing key of a handle. Devnet
// identities are test identities; the key is not a secret.
func KeyFor(handle string) *ecdsa.PrivateKey {
	seed := crypto.Keccak256([]byte("stellarforge/devnet/" + handle))
	for {
		key, err := crypto.ToECDSA(seed)
		if err == nil {
			return key
		}
		// Out of curve range; practically unreachable.
		seed = crypto.Keccak256(seed)
	}
}

// Clone returns a copy of the account that shares no memory with a.
func (a Account) Clone() Account {
	a.PublicKey = bytes.Clone(a.PublicKey)
	return a
}
