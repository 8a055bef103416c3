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

	"github.com/stretchr/testify/require"
)

var _ keyValueStore = (*levelDbStore)(nil)
var _ keyValueStore = (*memoryStore)(nil)

func testKeyValueStores(t *testing.T, test func(t *testing.T, open func() keyValueStore)) {
	t.Run("leveldb", func(t *testing.T) {
		dir := t.TempDir()
		test(t, func() keyValueStore {
			store, err := newLevelDbStore(dir)
			require.NoError(t, err)
			return store
		})
	})
	t.Run("memory", func(t *testing.T) {
		store := newMemoryStore()
		test(t, func() keyValueStore { return store })
	})
}

func TestKeyValueStore_CanKeepDataPersistent(t *testing.T) {
	testKeyValueStores(t, func(t *testing.T, open func() keyValueStore) {
		store := open()
		require.NoError(t, store.Write(map[string][]byte{
			"key1": []byte("value1"),
			"key2": []byte("value2"),
		}, nil))
		require.NoError(t, store.Close())

		store = open()
		val, err := store.Get([]byte("key1"))
		require.NoError(t, err)
		require.Equal(t, []byte("value1"), val)

		val, err = store.Get([]byte("key2"))
		require.NoError(t, err)
		require.Equal(t, []byte("value2"), val)
		require.NoError(t, store.Close())
	})
}

func TestKeyValueStore_ReturnsNotFoundForMissingKey(t *testing.T) {
	testKeyValueStores(t, func(t *testing.T, open func() keyValueStore) {
		store := open()
		_, err := store.Get([]byte("nonexistent"))
		require.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, store.Close())
	})
}

func TestKeyValueStore_WriteAppliesDeletesAndPuts(t *testing.T) {
	testKeyValueStores(t, func(t *testing.T, open func() keyValueStore) {
		require := require.New(t)
		store := open()
		defer store.Close()
		require.NoError(store.Write(map[string][]byte{"a": {1}, "b": {2}}, nil))
		require.NoError(store.Write(map[string][]byte{"c": {3}}, [][]byte{[]byte("a")}))

		_, err := store.Get([]byte("a"))
		require.ErrorIs(err, ErrNotFound)
		val, err := store.Get([]byte("c"))
		require.NoError(err)
		require.Equal([]byte{3}, val)
	})
}

func TestKeyValueStore_KeysListsPrefixInOrder(t *testing.T) {
	testKeyValueStores(t, func(t *testing.T, open func() keyValueStore) {
		require := require.New(t)
		store := open()
		defer store.Close()
		require.NoError(store.Write(map[string][]byte{
			"x2": {}, "x1": {}, "y1": {}, "x3": {},
		}, nil))
		keys, err := store.Keys([]byte("x"))
		require.NoError(err)
		require.Equal([][]byte{[]byte("x1"), []byte("x2"), []byte("x3")}, keys)
	})
}
