// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package ledger

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/common/amount"
	"github.com/thefifthdev/stellarforge/ledger/account"
)

// encodingVersion is bumped whenever the snapshot encoding changes.
const encodingVersion = 1

// The canonical snapshot encoding is RLP over ordered lists, so that equal
// states always produce equal bytes.
type snapshotRecord struct {
	Version   uint
	Sequence  uint64
	Timestamp uint64 // unix nanoseconds
	Accounts  []accountRecord
	Instances []instanceRecord
}

type accountRecord struct {
	Handle    string
	PublicKey []byte
	Balance   [32]byte
	Sequence  uint64
}

type instanceRecord struct {
	ID      common.Hash
	Code    common.Hash
	Owner   string
	Status  uint8
	Storage []slotRecord
}

type slotRecord struct {
	Key   []byte
	Value []byte
}

// MarshalBinary produces the canonical encoding of the snapshot.
func (s *Snapshot) MarshalBinary() ([]byte, error) {
	record := snapshotRecord{
		Version:   encodingVersion,
		Sequence:  s.sequence,
		Timestamp: uint64(s.timestamp.UnixNano()),
	}
	for _, cur := range s.accounts.All() {
		record.Accounts = append(record.Accounts, accountRecord{
			Handle:    cur.Handle,
			PublicKey: cur.PublicKey,
			Balance:   cur.Balance.Bytes32(),
			Sequence:  cur.Sequence,
		})
	}
	for _, cur := range s.Instances() {
		instance := instanceRecord{
			ID:     cur.ID,
			Code:   cur.Code,
			Owner:  cur.Owner,
			Status: uint8(cur.Status),
		}
		for _, key := range cur.Keys() {
			instance.Storage = append(instance.Storage, slotRecord{
				Key:   []byte(key),
				Value: cur.Storage[key],
			})
		}
		record.Instances = append(record.Instances, instance)
	}
	return rlp.EncodeToBytes(&record)
}

// UnmarshalSnapshot decodes a snapshot produced by MarshalBinary.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var record snapshotRecord
	if err := rlp.DecodeBytes(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if record.Version != encodingVersion {
		return nil, fmt.Errorf("unsupported snapshot encoding version %d", record.Version)
	}
	accounts := make([]account.Account, 0, len(record.Accounts))
	for _, cur := range record.Accounts {
		accounts = append(accounts, account.Account{
			Handle:    cur.Handle,
			PublicKey: cur.PublicKey,
			Balance:   amount.NewFromBytes(cur.Balance[:]...),
			Sequence:  cur.Sequence,
		})
	}
	instances := make([]*Instance, 0, len(record.Instances))
	for _, cur := range record.Instances {
		if cur.Status > uint8(Archived) {
			return nil, fmt.Errorf("invalid status %d of instance %v", cur.Status, cur.ID)
		}
		instance := NewInstance(cur.ID, cur.Code, cur.Owner)
		instance.Status = Status(cur.Status)
		for _, slot := range cur.Storage {
			instance.Storage[string(slot.Key)] = slot.Value
		}
		instances = append(instances, instance)
	}
	timestamp := time.Unix(0, int64(record.Timestamp))
	return NewSnapshot(record.Sequence, timestamp, accounts, instances)
}
