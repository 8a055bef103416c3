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
	"slices"
	"time"

	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/common/amount"
	"github.com/thefifthdev/stellarforge/ledger/account"
	"golang.org/x/exp/maps"
)

// Snapshot is an immutable version of the full ledger state at a ledger
// sequence number. Snapshots are created by the Engine only; all accessors
// return copies.
type Snapshot struct {
	sequence  uint64
	timestamp time.Time
	accounts  *account.Store
	instances map[common.Hash]*Instance
}

// NewSnapshot assembles a snapshot from its parts. It is used to restore
// persisted ledger states.
func NewSnapshot(sequence uint64, timestamp time.Time, accounts []account.Account, instances []*Instance) (*Snapshot, error) {
	store := account.NewStore()
	for _, cur := range accounts {
		if err := store.Insert(cur); err != nil {
			return nil, err
		}
	}
	table := make(map[common.Hash]*Instance, len(instances))
	for _, cur := range instances {
		if _, found := table[cur.ID]; found {
			return nil, fmt.Errorf("%w: instance %v listed twice", ErrInvalidDelta, cur.ID)
		}
		if !store.Exists(cur.Owner) {
			return nil, fmt.Errorf("%w: owner %q of instance %v", common.ErrUnknownAccount, cur.Owner, cur.ID)
		}
		table[cur.ID] = cur.Clone()
	}
	return &Snapshot{
		sequence:  sequence,
		timestamp: normalize(timestamp),
		accounts:  store,
		instances: table,
	}, nil
}

func genesis(timestamp time.Time) *Snapshot {
	return &Snapshot{
		timestamp: normalize(timestamp),
		accounts:  account.NewStore(),
		instances: map[common.Hash]*Instance{},
	}
}

// normalize strips location and monotonic clock readings so timestamps
// survive an encoding round trip unchanged.
func normalize(t time.Time) time.Time {
	return t.Round(0).UTC()
}

func (s *Snapshot) Sequence() uint64 {
	return s.sequence
}

func (s *Snapshot) Timestamp() time.Time {
	return s.timestamp
}

func (s *Snapshot) Account(handle string) (account.Account, error) {
	return s.accounts.Get(handle)
}

func (s *Snapshot) HasAccount(handle string) bool {
	return s.accounts.Exists(handle)
}

// NextSequence returns the sequence number the next transaction of the
// given account must claim.
func (s *Snapshot) NextSequence(handle string) (uint64, error) {
	return s.accounts.NextSequence(handle)
}

// Accounts lists all accounts ordered by handle.
func (s *Snapshot) Accounts() []account.Account {
	return s.accounts.All()
}

func (s *Snapshot) NumAccounts() int {
	return s.accounts.Len()
}

// TotalBalance is the sum of all account balances.
func (s *Snapshot) TotalBalance() amount.Amount {
	total, _ := s.accounts.TotalBalance()
	return total
}

// Instance returns a copy of the contract instance with the given ID.
func (s *Snapshot) Instance(id common.Hash) (*Instance, error) {
	instance, found := s.instances[id]
	if !found {
		return nil, fmt.Errorf("%w: no instance %v", common.ErrContractNotFound, id)
	}
	return instance.Clone(), nil
}

// Instances lists copies of all instances ordered by ID.
func (s *Snapshot) Instances() []*Instance {
	ids := maps.Keys(s.instances)
	slices.SortFunc(ids, func(a, b common.Hash) int { return a.Compare(b) })
	res := make([]*Instance, 0, len(ids))
	for _, id := range ids {
		res = append(res, s.instances[id].Clone())
	}
	return res
}

func (s *Snapshot) NumInstances() int {
	return len(s.instances)
}

// Hash is a digest over the canonical encoding of the snapshot. Two
// snapshots have the same hash if and only if they describe the same state.
func (s *Snapshot) Hash() common.Hash {
	data, err := s.MarshalBinary()
	if err != nil {
		// all snapshot fields are encodable
		panic(fmt.Sprintf("failed to encode snapshot: %v", err))
	}
	return common.Keccak256(data)
}
