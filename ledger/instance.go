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
	"bytes"
	"slices"

	"github.com/thefifthdev/stellarforge/common"
	"golang.org/x/exp/maps"
)

// Status is the lifecycle state of a contract instance. Instances are never
// removed from the ledger; archiving is the only way to retire one.
type Status uint8

const (
	Active Status = iota
	Archived
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Archived:
		return "archived"
	}
	return "unknown"
}

// Instance is a deployed contract with its own persistent storage.
type Instance struct {
	ID      common.Hash
	Code    common.Hash
	Owner   string
	Status  Status
	Storage map[string][]byte
}

// NewInstance creates an active instance with empty storage.
func NewInstance(id, code common.Hash, owner string) *Instance {
	return &Instance{
		ID:      id,
		Code:    code,
		Owner:   owner,
		Storage: map[string][]byte{},
	}
}

// Get returns the value stored under key, or nil if there is none.
func (i *Instance) Get(key []byte) []byte {
	return bytes.Clone(i.Storage[string(key)])
}

// Keys returns the storage keys in sorted order.
func (i *Instance) Keys() []string {
	keys := maps.Keys(i.Storage)
	slices.Sort(keys)
	return keys
}

// Clone creates a deep copy of the instance.
func (i *Instance) Clone() *Instance {
	res := *i
	res.Storage = make(map[string][]byte, len(i.Storage))
	for key, value := range i.Storage {
		res.Storage[key] = bytes.Clone(value)
	}
	return &res
}
