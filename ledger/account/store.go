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
	"fmt"
	"slices"

	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/common/amount"
	"golang.org/x/exp/maps"
)

// ErrNotFound is returned by Get for handles not in the store.
const ErrNotFound = common.ConstError("account not found")

// Store is a table of accounts indexed by handle. A Store is not safe for
// concurrent modification; the ledger clones it for every new snapshot and
// never modifies a published one.
type Store struct {
	accounts map[string]Account
}

func NewStore() *Store {
	return &Store{accounts: map[string]Account{}}
}

// Create adds a new account with zero balance and sequence.
func (s *Store) Create(handle string) (Account, error) {
	if _, found := s.accounts[handle]; found {
		return Account{}, fmt.Errorf("%w: account %q already exists", common.ErrDuplicateHandle, handle)
	}
	account, err := New(handle)
	if err != nil {
		return Account{}, err
	}
	s.accounts[handle] = account
	return account.Clone(), nil
}

// Fund credits a positive amount to an existing account. The account's
// sequence is not affected.
func (s *Store) Fund(handle string, value amount.Amount) (Account, error) {
	account, found := s.accounts[handle]
	if !found {
		return Account{}, fmt.Errorf("%w: %q", common.ErrUnknownAccount, handle)
	}
	if value.IsZero() {
		return Account{}, fmt.Errorf("%w: fund amount must be positive", common.ErrInvalidAmount)
	}
	balance, overflow := account.Balance.Add(value)
	if overflow {
		return Account{}, fmt.Errorf("%w: balance of %q would exceed 256 bits", common.ErrInvalidAmount, handle)
	}
	account.Balance = balance
	s.accounts[handle] = account
	return account.Clone(), nil
}

// Get returns a copy of the account registered for the handle.
func (s *Store) Get(handle string) (Account, error) {
	account, found := s.accounts[handle]
	if !found {
		return Account{}, fmt.Errorf("%w: %q", ErrNotFound, handle)
	}
	return account.Clone(), nil
}

// Exists reports whether the handle is registered.
func (s *Store) Exists(handle string) bool {
	_, found := s.accounts[handle]
	return found
}

// NextSequence returns the sequence number the next transaction of the
// account has to claim.
func (s *Store) NextSequence(handle string) (uint64, error) {
	account, found := s.accounts[handle]
	if !found {
		return 0, fmt.Errorf("%w: %q", common.ErrUnknownAccount, handle)
	}
	return account.Sequence + 1, nil
}

// Insert adds a fully specified account, e.g. when restoring a snapshot.
func (s *Store) Insert(account Account) error {
	if err := CheckHandle(account.Handle); err != nil {
		return err
	}
	if _, found := s.accounts[account.Handle]; found {
		return fmt.Errorf("%w: account %q already exists", common.ErrDuplicateHandle, account.Handle)
	}
	s.accounts[account.Handle] = account.Clone()
	return nil
}

// Put replaces an existing account.
func (s *Store) Put(account Account) error {
	if _, found := s.accounts[account.Handle]; !found {
		return fmt.Errorf("%w: %q", common.ErrUnknownAccount, account.Handle)
	}
	s.accounts[account.Handle] = account.Clone()
	return nil
}

func (s *Store) Len() int {
	return len(s.accounts)
}

// Handles returns all registered handles in sorted order.
func (s *Store) Handles() []string {
	handles := maps.Keys(s.accounts)
	slices.Sort(handles)
	return handles
}

// All returns copies of all accounts ordered by handle.
func (s *Store) All() []Account {
	res := make([]Account, 0, len(s.accounts))
	for _, handle := range s.Handles() {
		res = append(res, s.accounts[handle].Clone())
	}
	return res
}

// TotalBalance sums up the balance of all accounts. The second result is
// true if the sum does not fit into 256 bits.
func (s *Store) TotalBalance() (amount.Amount, bool) {
	var total amount.Amount
	for _, account := range s.accounts {
		var overflow bool
		total, overflow = total.Add(account.Balance)
		if overflow {
			return total, true
		}
	}
	return total, false
}

// Clone creates an independent copy of the store.
func (s *Store) Clone() *Store {
	return &Store{accounts: maps.Clone(s.accounts)}
}
