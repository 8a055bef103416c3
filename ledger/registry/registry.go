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
	"bytes"
	"fmt"
	"slices"
	"sync"

	"github.com/thefifthdev/stellarforge/common"
	"golang.org/x/exp/maps"
)

const (
	ErrNotFound  = common.ConstError("code not found")
	ErrEmptyCode = common.ConstError("empty contract code")
)

// Function describes an entry point of a contract.
type Function struct {
	Name   string
	Params []string
}

// ContractCode is an immutable, content-addressed contract binary.
type ContractCode struct {
	Hash      common.Hash
	Binary    []byte
	Interface []Function
	Deployer  string
}

// Clone returns a deep copy of the code entry.
func (c ContractCode) Clone() ContractCode {
	c.Binary = bytes.Clone(c.Binary)
	iface := make([]Function, len(c.Interface))
	for i, fn := range c.Interface {
		iface[i] = Function{Name: fn.Name, Params: slices.Clone(fn.Params)}
	}
	c.Interface = iface
	return c
}

// Hash computes the content hash identifying a binary.
func Hash(binary []byte) common.Hash {
	return common.Keccak256(binary)
}

// Registry is an append-only arena of contract code shared by all ledger
// snapshots. Entries are never removed or modified. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	codes map[common.Hash]ContractCode
}

func New() *Registry {
	return &Registry{codes: map[common.Hash]ContractCode{}}
}

// Register adds a binary to the registry. Registering a binary that is
// already present returns the existing entry, including its original
// deployer attribution.
func (r *Registry) Register(binary []byte, iface []Function, deployer string) (ContractCode, error) {
	if len(binary) == 0 {
		return ContractCode{}, ErrEmptyCode
	}
	hash := Hash(binary)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, found := r.codes[hash]; found {
		return existing.Clone(), nil
	}
	entry := ContractCode{
		Hash:      hash,
		Binary:    binary,
		Interface: iface,
		Deployer:  deployer,
	}.Clone()
	r.codes[hash] = entry
	return entry.Clone(), nil
}

// Restore re-registers a previously persisted entry, checking that its
// content still matches its hash.
func (r *Registry) Restore(code ContractCode) error {
	if len(code.Binary) == 0 {
		return ErrEmptyCode
	}
	if got := Hash(code.Binary); got != code.Hash {
		return fmt.Errorf("%w: code hash mismatch, stored %v, computed %v", common.ErrInvalidCode, code.Hash, got)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.codes[code.Hash]; !found {
		r.codes[code.Hash] = code.Clone()
	}
	return nil
}

// Lookup returns a copy of the entry for the given hash.
func (r *Registry) Lookup(hash common.Hash) (ContractCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, found := r.codes[hash]
	if !found {
		return ContractCode{}, fmt.Errorf("%w: %v", ErrNotFound, hash)
	}
	return entry.Clone(), nil
}

func (r *Registry) Contains(hash common.Hash) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, found := r.codes[hash]
	return found
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.codes)
}

// All returns copies of all entries ordered by hash.
func (r *Registry) All() []ContractCode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hashes := maps.Keys(r.codes)
	slices.SortFunc(hashes, func(a, b common.Hash) int { return a.Compare(b) })
	res := make([]ContractCode, 0, len(hashes))
	for _, hash := range hashes {
		res = append(res, r.codes[hash].Clone())
	}
	return res
}
