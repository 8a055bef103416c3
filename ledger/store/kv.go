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
	"bytes"
	"slices"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
	"golang.org/x/exp/maps"
)

// keyValueStore is the raw storage layer the snapshot store is built on.
type keyValueStore interface {
	Get(key []byte) ([]byte, error)
	// Write applies all puts and deletes atomically.
	Write(puts map[string][]byte, deletes [][]byte) error
	// Keys lists all keys with the given prefix in ascending order.
	Keys(prefix []byte) ([][]byte, error)
	Close() error
}

// levelDbStore implements keyValueStore on top of LevelDB.
type levelDbStore struct {
	db *leveldb.DB
}

func newLevelDbStore(path string) (*levelDbStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &levelDbStore{db: db}, nil
}

func (s *levelDbStore) Get(key []byte) ([]byte, error) {
	data, err := s.db.Get(key, &opt.ReadOptions{})
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *levelDbStore) Write(puts map[string][]byte, deletes [][]byte) error {
	batch := new(leveldb.Batch)
	for _, key := range deletes {
		batch.Delete(key)
	}
	for key, value := range puts {
		batch.Put([]byte(key), value)
	}
	return s.db.Write(batch, &opt.WriteOptions{Sync: true})
}

func (s *levelDbStore) Keys(prefix []byte) ([][]byte, error) {
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	var keys [][]byte
	for iter.Next() {
		keys = append(keys, bytes.Clone(iter.Key()))
	}
	return keys, iter.Error()
}

func (s *levelDbStore) Close() error {
	return s.db.Close()
}

// memoryStore is an in-memory implementation of keyValueStore for testing
// and for devnets without a data directory.
type memoryStore struct {
	mu    sync.Mutex
	store map[string][]byte
}

func newMemoryStore() *memoryStore {
	return &memoryStore{store: make(map[string][]byte)}
}

func (s *memoryStore) Get(key []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.store[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(value), nil
}

func (s *memoryStore) Write(puts map[string][]byte, deletes [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range deletes {
		delete(s.store, string(key))
	}
	for key, value := range puts {
		s.store[key] = bytes.Clone(value)
	}
	return nil
}

func (s *memoryStore) Keys(prefix []byte) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := maps.Keys(s.store)
	slices.Sort(names)
	var keys [][]byte
	for _, name := range names {
		if strings.HasPrefix(name, string(prefix)) {
			keys = append(keys, []byte(name))
		}
	}
	return keys, nil
}

func (s *memoryStore) Close() error {
	// No resources to clean up for in-memory store.
	return nil
}
