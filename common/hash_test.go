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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeccak256_MatchesKnownDigest(t *testing.T) {
	// Keccak-256 of the empty input.
	want, err := HexToHash("0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470")
	require.NoError(t, err)
	require.Equal(t, want, Keccak256())
	require.Equal(t, want, Keccak256(nil, []byte{}))
}

func TestKeccak256_ConcatenatesInputs(t *testing.T) {
	require.Equal(t, Keccak256([]byte("abc")), Keccak256([]byte("a"), []byte("bc")))
	require.NotEqual(t, Keccak256([]byte("abc")), Keccak256([]byte("abd")))
}

func TestHexToHash_RejectsInvalidInput(t *testing.T) {
	for _, input := range []string{"", "0x", "0x12", "zz", "0x" + string(make([]byte, 64))} {
		_, err := HexToHash(input)
		require.Error(t, err, "input %q", input)
	}
}

func TestHash_JsonEncodingRoundTrips(t *testing.T) {
	require := require.New(t)
	hash := Keccak256([]byte("contract"))
	data, err := json.Marshal(hash)
	require.NoError(err)
	require.Equal(`"`+hash.Hex()+`"`, string(data))

	var restored Hash
	require.NoError(json.Unmarshal(data, &restored))
	require.Equal(hash, restored)
}
