// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import (
	"bytes"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/sha3"
)

// HashSize is the length of a content hash in bytes.
const HashSize = 32

// Hash is a Keccak-256 digest. It identifies contract code and instances.
type Hash [HashSize]byte

// Keccak256 computes the Keccak-256 hash of the concatenation of data.
func Keccak256(data ...[]byte) Hash {
	hasher := sha3.NewLegacyKeccak256()
	for _, cur := range data {
		hasher.Write(cur)
	}
	var res Hash
	hasher.Sum(res[:0])
	return res
}

// HexToHash parses a 0x-prefixed hex string into a hash.
func HexToHash(s string) (Hash, error) {
	var res Hash
	data, err := hexutil.Decode(s)
	if err != nil {
		return res, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(data) != HashSize {
		return res, fmt.Errorf("invalid hash %q: expected %d bytes, got %d", s, HashSize, len(data))
	}
	copy(res[:], data)
	return res, nil
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) Hex() string {
	return hexutil.Encode(h[:])
}

func (h Hash) String() string {
	return h.Hex()
}

// Compare orders hashes by their byte representation.
func (h Hash) Compare(other Hash) int {
	return bytes.Compare(h[:], other[:])
}

func (h Hash) MarshalText() ([]byte, error) {
	return hexutil.Bytes(h[:]).MarshalText()
}

func (h *Hash) UnmarshalText(input []byte) error {
	res, err := HexToHash(string(input))
	if err != nil {
		return err
	}
	*h = res
	return nil
}
