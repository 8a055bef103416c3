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
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/golang/snappy"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/ledger"
	"github.com/thefifthdev/stellarforge/ledger/registry"
)

//go:generate mockgen -source store.go -destination store_mocks.go -package store

const (
	ErrNotFound = common.ConstError("not found")
)

var (
	snapshotPrefix = []byte("s")
	codePrefix     = []byte("c")
	latestKey      = []byte("latest")
)

// Store persists ledger snapshots keyed by their sequence number together
// with the contract code they refer to.
type Store interface {
	// Save durably writes the snapshot and the given code entries and marks
	// the snapshot as the latest one.
	Save(snapshot *ledger.Snapshot, codes []registry.ContractCode) error
	// Load reads the snapshot with the given sequence number.
	Load(sequence uint64) (*ledger.Snapshot, error)
	// Latest reads the most recently saved snapshot or fails with
	// ErrNotFound if there is none.
	Latest() (*ledger.Snapshot, error)
	// Codes reads all saved contract code entries.
	Codes() ([]registry.ContractCode, error)
	// Sequences lists the sequence numbers of all saved snapshots.
	Sequences() ([]uint64, error)
	// Clear removes all saved data.
	Clear() error
	Close() error
}

// Open opens or creates a LevelDB backed store in the given directory.
func Open(directory string) (Store, error) {
	db, err := newLevelDbStore(directory)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store in %s: %w", directory, err)
	}
	return &snapshotStore{kv: db}, nil
}

// NewInMemory creates a store that keeps its data in memory only.
func NewInMemory() Store {
	return &snapshotStore{kv: newMemoryStore()}
}

type snapshotStore struct {
	kv keyValueStore
}

type codeRecord struct {
	Hash      common.Hash
	Binary    []byte
	Deployer  string
	Interface []functionRecord
}

type functionRecord struct {
	Name   string
	Params []string
}

func snapshotKey(sequence uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, snapshotPrefix...), sequence)
}

func codeKey(hash common.Hash) []byte {
	return append(append([]byte{}, codePrefix...), hash[:]...)
}

func (s *snapshotStore) Save(snapshot *ledger.Snapshot, codes []registry.ContractCode) error {
	data, err := snapshot.MarshalBinary()
	if err != nil {
		return err
	}
	puts := map[string][]byte{
		string(snapshotKey(snapshot.Sequence())): snappy.Encode(nil, data),
		string(latestKey):                         binary.BigEndian.AppendUint64(nil, snapshot.Sequence()),
	}
	for _, code := range codes {
		record := codeRecord{
			Hash:     code.Hash,
			Binary:   code.Binary,
			Deployer: code.Deployer,
		}
		for _, fn := range code.Interface {
			record.Interface = append(record.Interface, functionRecord{Name: fn.Name, Params: fn.Params})
		}
		encoded, err := rlp.EncodeToBytes(&record)
		if err != nil {
			return err
		}
		puts[string(codeKey(code.Hash))] = snappy.Encode(nil, encoded)
	}
	return s.kv.Write(puts, nil)
}

func (s *snapshotStore) Load(sequence uint64) (*ledger.Snapshot, error) {
	data, err := s.kv.Get(snapshotKey(sequence))
	if err != nil {
		return nil, fmt.Errorf("snapshot %d: %w", sequence, err)
	}
	decoded, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snapshot %d: %w", sequence, err)
	}
	return ledger.UnmarshalSnapshot(decoded)
}

func (s *snapshotStore) Latest() (*ledger.Snapshot, error) {
	data, err := s.kv.Get(latestKey)
	if err != nil {
		return nil, err
	}
	if len(data) != 8 {
		return nil, fmt.Errorf("corrupted latest snapshot marker")
	}
	return s.Load(binary.BigEndian.Uint64(data))
}

func (s *snapshotStore) Codes() ([]registry.ContractCode, error) {
	keys, err := s.kv.Keys(codePrefix)
	if err != nil {
		return nil, err
	}
	res := make([]registry.ContractCode, 0, len(keys))
	for _, key := range keys {
		data, err := s.kv.Get(key)
		if err != nil {
			return nil, err
		}
		decoded, err := snappy.Decode(nil, data)
		if err != nil {
			return nil, err
		}
		var record codeRecord
		if err := rlp.DecodeBytes(decoded, &record); err != nil {
			return nil, fmt.Errorf("failed to decode code entry: %w", err)
		}
		code := registry.ContractCode{
			Hash:      record.Hash,
			Binary:    record.Binary,
			Deployer:  record.Deployer,
			Interface: []registry.Function{},
		}
		for _, fn := range record.Interface {
			code.Interface = append(code.Interface, registry.Function{Name: fn.Name, Params: fn.Params})
		}
		res = append(res, code)
	}
	return res, nil
}

func (s *snapshotStore) Sequences() ([]uint64, error) {
	keys, err := s.kv.Keys(snapshotPrefix)
	if err != nil {
		return nil, err
	}
	res := make([]uint64, 0, len(keys))
	for _, key := range keys {
		if len(key) != len(snapshotPrefix)+8 {
			continue
		}
		res = append(res, binary.BigEndian.Uint64(key[len(snapshotPrefix):]))
	}
	return res, nil
}

func (s *snapshotStore) Clear() error {
	var deletes [][]byte
	for _, prefix := range [][]byte{snapshotPrefix, codePrefix, latestKey} {
		keys, err := s.kv.Keys(prefix)
		if err != nil {
			return err
		}
		deletes = append(deletes, keys...)
	}
	return s.kv.Write(nil, deletes)
}

func (s *snapshotStore) Close() error {
	return s.kv.Close()
}
