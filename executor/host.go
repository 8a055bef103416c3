// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package executor

import (
	"fmt"
	"slices"

	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/common/amount"
	"github.com/thefifthdev/stellarforge/ledger"
	"github.com/thefifthdev/stellarforge/ledger/account"
	"github.com/thefifthdev/stellarforge/ledger/registry"
	"github.com/thefifthdev/stellarforge/runtime"
	"golang.org/x/exp/maps"
)

// host is a write buffer on top of a snapshot. All modifications are kept
// locally and only turned into a delta once a transaction succeeded, so a
// failed transaction leaves no trace.
type host struct {
	snapshot  *ledger.Snapshot
	codes     *registry.Registry
	accounts  map[string]account.Account
	instances map[common.Hash]*ledger.Instance
	programs  map[common.Hash]*runtime.Program
}

func newHost(snapshot *ledger.Snapshot, codes *registry.Registry) *host {
	return &host{
		snapshot:  snapshot,
		codes:     codes,
		accounts:  map[string]account.Account{},
		instances: map[common.Hash]*ledger.Instance{},
		programs:  map[common.Hash]*runtime.Program{},
	}
}

func (h *host) account(handle string) (account.Account, error) {
	if cur, found := h.accounts[handle]; found {
		return cur, nil
	}
	cur, err := h.snapshot.Account(handle)
	if err != nil {
		return account.Account{}, fmt.Errorf("%w: %q", common.ErrUnknownAccount, handle)
	}
	return cur, nil
}

func (h *host) putAccount(cur account.Account) {
	h.accounts[cur.Handle] = cur
}

// instance returns the buffered version of an instance. The result may be
// modified, changes become part of the delta.
func (h *host) instance(id common.Hash) (*ledger.Instance, error) {
	if cur, found := h.instances[id]; found {
		return cur, nil
	}
	cur, err := h.snapshot.Instance(id)
	if err != nil {
		return nil, err
	}
	h.instances[id] = cur
	return cur, nil
}

// peek reads an instance without marking it as modified.
func (h *host) peek(id common.Hash) (*ledger.Instance, error) {
	if cur, found := h.instances[id]; found {
		return cur, nil
	}
	return h.snapshot.Instance(id)
}

func (h *host) active(id common.Hash) (*ledger.Instance, error) {
	cur, err := h.peek(id)
	if err != nil {
		return nil, err
	}
	if cur.Status != ledger.Active {
		return nil, fmt.Errorf("%w: instance %v is %v", common.ErrContractNotFound, id, cur.Status)
	}
	return cur, nil
}

func (h *host) Load(contract common.Hash, key []byte) ([]byte, error) {
	cur, err := h.active(contract)
	if err != nil {
		return nil, err
	}
	return cur.Get(key), nil
}

func (h *host) Store(contract common.Hash, key, value []byte) error {
	if len(value) == 0 {
		return h.Delete(contract, key)
	}
	if _, err := h.active(contract); err != nil {
		return err
	}
	cur, err := h.instance(contract)
	if err != nil {
		return err
	}
	cur.Storage[string(key)] = slices.Clone(value)
	return nil
}

func (h *host) Delete(contract common.Hash, key []byte) error {
	if _, err := h.active(contract); err != nil {
		return err
	}
	cur, err := h.instance(contract)
	if err != nil {
		return err
	}
	delete(cur.Storage, string(key))
	return nil
}

func (h *host) Balance(handle string) (amount.Amount, error) {
	cur, err := h.account(handle)
	if err != nil {
		return amount.Amount{}, err
	}
	return cur.Balance, nil
}

func (h *host) Transfer(from, to string, value amount.Amount) error {
	sender, err := h.account(from)
	if err != nil {
		return err
	}
	receiver, err := h.account(to)
	if err != nil {
		return err
	}
	remaining, underflow := sender.Balance.Sub(value)
	if underflow {
		short, _ := value.Sub(sender.Balance)
		return fmt.Errorf("%w: transfer of %v from %q exceeds balance %v by %v", common.ErrInsufficientBalance, value, from, sender.Balance, short)
	}
	if from == to {
		return nil
	}
	credited, overflow := receiver.Balance.Add(value)
	if overflow {
		return fmt.Errorf("%w: balance of %q would overflow", common.ErrInvalidAmount, to)
	}
	sender.Balance = remaining
	receiver.Balance = credited
	h.putAccount(sender)
	h.putAccount(receiver)
	return nil
}

func (h *host) Program(contract common.Hash) (*runtime.Program, error) {
	cur, err := h.active(contract)
	if err != nil {
		return nil, err
	}
	if program, found := h.programs[cur.Code]; found {
		return program, nil
	}
	code, err := h.codes.Lookup(cur.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: code %v of instance %v", common.ErrContractNotFound, cur.Code, contract)
	}
	program, err := runtime.Decode(code.Binary)
	if err != nil {
		return nil, err
	}
	h.programs[cur.Code] = program
	return program, nil
}

// delta lists all buffered modifications in a deterministic order.
func (h *host) delta() *ledger.Delta {
	delta := &ledger.Delta{}
	handles := maps.Keys(h.accounts)
	slices.Sort(handles)
	for _, handle := range handles {
		delta.Accounts = append(delta.Accounts, h.accounts[handle])
	}
	ids := maps.Keys(h.instances)
	slices.SortFunc(ids, func(a, b common.Hash) int { return a.Compare(b) })
	for _, id := range ids {
		delta.Instances = append(delta.Instances, h.instances[id])
	}
	return delta
}
