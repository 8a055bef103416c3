// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/common/amount"
	"github.com/thefifthdev/stellarforge/ledger"
	"github.com/thefifthdev/stellarforge/ledger/account"
	"github.com/thefifthdev/stellarforge/ledger/registry"
)

func makeState(t *testing.T) (*ledger.Snapshot, []registry.ContractCode) {
	t.Helper()
	codes := registry.New()
	code, err := codes.Register([]byte("binary"), []registry.Function{{Name: "get", Params: []string{"key"}}}, "alice")
	require.NoError(t, err)

	alice, err := account.New("alice")
	require.NoError(t, err)
	alice.Balance = amount.New(9_900)
	alice.Sequence = 1
	instance := ledger.NewInstance(code.Hash, code.Hash, "alice")
	instance.Storage["counter"] = []byte{7}

	snapshot, err := ledger.NewSnapshot(3, time.Unix(1_700_000_000, 42), []account.Account{alice}, []*ledger.Instance{instance})
	require.NoError(t, err)
	return snapshot, codes.All()
}

func testStores(t *testing.T, test func(t *testing.T, store Store)) {
	t.Run("leveldb", func(t *testing.T) {
		store, err := Open(t.TempDir())
		require.NoError(t, err)
		defer func() { require.NoError(t, store.Close()) }()
		test(t, store)
	})
	t.Run("memory", func(t *testing.T) {
		test(t, NewInMemory())
	})
}

func TestStore_SaveAndLoadRoundTripsExactly(t *testing.T) {
	testStores(t, func(t *testing.T, store Store) {
		require := require.New(t)
		snapshot, codes := makeState(t)
		require.NoError(store.Save(snapshot, codes))

		loaded, err := store.Load(3)
		require.NoError(err)
		require.Equal(snapshot.Hash(), loaded.Hash())
		require.Equal(snapshot.Accounts(), loaded.Accounts())
		require.Equal(snapshot.Instances(), loaded.Instances())
		require.Equal(snapshot.Timestamp(), loaded.Timestamp())

		latest, err := store.Latest()
		require.NoError(err)
		require.Equal(snapshot.Hash(), latest.Hash())

		restored, err := store.Codes()
		require.NoError(err)
		require.Len(restored, 1)
		require.Equal(codes[0].Hash, restored[0].Hash)
		require.Equal(codes[0].Binary, restored[0].Binary)
		require.Equal(codes[0].Interface, restored[0].Interface)
		require.Equal("alice", restored[0].Deployer)
	})
}

func TestStore_LatestFollowsLastSave(t *testing.T) {
	testStores(t, func(t *testing.T, store Store) {
		require := require.New(t)
		_, err := store.Latest()
		require.ErrorIs(err, ErrNotFound)

		for _, sequence := range []uint64{1, 5, 2} {
			snapshot, err := ledger.NewSnapshot(sequence, time.Unix(0, 0), nil, nil)
			require.NoError(err)
			require.NoError(store.Save(snapshot, nil))
		}
		latest, err := store.Latest()
		require.NoError(err)
		require.Equal(uint64(2), latest.Sequence())

		sequences, err := store.Sequences()
		require.NoError(err)
		require.Equal([]uint64{1, 2, 5}, sequences)
	})
}

func TestStore_LoadOfMissingSequenceFails(t *testing.T) {
	testStores(t, func(t *testing.T, store Store) {
		_, err := store.Load(12)
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ClearRemovesEverything(t *testing.T) {
	testStores(t, func(t *testing.T, store Store) {
		require := require.New(t)
		snapshot, codes := makeState(t)
		require.NoError(store.Save(snapshot, codes))
		require.NoError(store.Clear())

		_, err := store.Latest()
		require.ErrorIs(err, ErrNotFound)
		restored, err := store.Codes()
		require.NoError(err)
		require.Empty(restored)
		sequences, err := store.Sequences()
		require.NoError(err)
		require.Empty(sequences)
	})
}

func TestStore_LevelDbDataSurvivesReopening(t *testing.T) {
	require := require.New(t)
	dir := t.TempDir()
	snapshot, codes := makeState(t)

	store, err := Open(dir)
	require.NoError(err)
	require.NoError(store.Save(snapshot, codes))
	require.NoError(store.Close())

	store, err = Open(dir)
	require.NoError(err)
	defer store.Close()
	latest, err := store.Latest()
	require.NoError(err)
	require.Equal(snapshot.Hash(), latest.Hash())

	instance, err := latest.Instance(codes[0].Hash)
	require.NoError(err)
	require.Equal([]byte{7}, instance.Get([]byte("counter")))
	_, err = latest.Instance(common.Hash{})
	require.ErrorIs(err, common.ErrContractNotFound)
}
