// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thefifthdev/stellarforge/common"
)

func TestRegistry_LookupReturnsRegisteredBytes(t *testing.T) {
	require := require.New(t)
	registry := New()
	binary := []byte("SFC1 some contract")
	iface := []Function{{Name: "transfer", Params: []string{"from", "to", "amount"}}}

	code, err := registry.Register(binary, iface, "alice")
	require.NoError(err)
	require.Equal(common.Keccak256(binary), code.Hash)

	got, err := registry.Lookup(Hash(binary))
	require.NoError(err)
	require.Equal(binary, got.Binary)
	require.Equal(iface, got.Interface)
	require.Equal("alice", got.Deployer)
}

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	require := require.New(t)
	registry := New()
	first, err := registry.Register([]byte{1, 2, 3}, nil, "alice")
	require.NoError(err)
	second, err := registry.Register([]byte{1, 2, 3}, nil, "bob")
	require.NoError(err)
	require.Equal(first, second)
	require.Equal("alice", second.Deployer)
	require.Equal(1, registry.Len())
}

func TestRegistry_RejectsEmptyCode(t *testing.T) {
	_, err := New().Register(nil, nil, "alice")
	require.ErrorIs(t, err, ErrEmptyCode)
}

func TestRegistry_LookupOfUnknownHashFails(t *testing.T) {
	_, err := New().Lookup(Hash([]byte("missing")))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_StoredBytesCannotBeAliased(t *testing.T) {
	require := require.New(t)
	registry := New()
	binary := []byte{1, 2, 3}
	iface := []Function{{Name: "f", Params: []string{"a"}}}
	code, err := registry.Register(binary, iface, "alice")
	require.NoError(err)

	binary[0] = 9
	iface[0].Params[0] = "changed"
	code.Binary[1] = 9

	got, err := registry.Lookup(code.Hash)
	require.NoError(err)
	require.Equal([]byte{1, 2, 3}, got.Binary)
	require.Equal("a", got.Interface[0].Params[0])
}

func TestRegistry_RestoreChecksHash(t *testing.T) {
	require := require.New(t)
	registry := New()
	code := ContractCode{Hash: Hash([]byte{1}), Binary: []byte{1}, Deployer: "alice"}
	require.NoError(registry.Restore(code))
	require.True(registry.Contains(code.Hash))

	code.Binary = []byte{2}
	require.ErrorIs(registry.Restore(code), common.ErrInvalidCode)
}

func TestRegistry_AllIsSortedByHash(t *testing.T) {
	registry := New()
	for i := 0; i < 10; i++ {
		_, err := registry.Register([]byte(fmt.Sprintf("code-%d", i)), nil, "alice")
		require.NoError(t, err)
	}
	all := registry.All()
	require.Len(t, all, 10)
	for i := 1; i < len(all); i++ {
		require.Negative(t, all[i-1].Hash.Compare(all[i].Hash))
	}
}

func TestRegistry_ConcurrentRegistrationsAreSafe(t *testing.T) {
	registry := New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := registry.Register([]byte(fmt.Sprintf("code-%d", j)), nil, fmt.Sprintf("user-%d", i))
				require.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 50, registry.Len())
}
