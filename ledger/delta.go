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
	"fmt"
	"time"

	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/ledger/account"
	"github.com/thefifthdev/stellarforge/ledger/registry"
	"golang.org/x/exp/maps"
)

// ErrInvalidDelta is returned for deltas that are internally inconsistent.
const ErrInvalidDelta = common.ConstError("invalid delta")

// Delta is a set of state changes that is applied atomically, producing the
// next ledger snapshot. Accounts and instances are listed with their full
// post-state.
type Delta struct {
	Created   []account.Account       // accounts to be added
	Accounts  []account.Account       // existing accounts to be replaced
	Instances []*Instance             // instances to be added or replaced
	Codes     []registry.ContractCode // code to be registered
}

func (d *Delta) IsEmpty() bool {
	return d == nil || (len(d.Created) == 0 && len(d.Accounts) == 0 && len(d.Instances) == 0 && len(d.Codes) == 0)
}

// Touched lists the handles and instance IDs modified by the delta.
func (d *Delta) Touched() ([]string, []common.Hash) {
	if d == nil {
		return nil, nil
	}
	handles := make([]string, 0, len(d.Created)+len(d.Accounts))
	for _, cur := range d.Created {
		handles = append(handles, cur.Handle)
	}
	for _, cur := range d.Accounts {
		handles = append(handles, cur.Handle)
	}
	ids := make([]common.Hash, 0, len(d.Instances))
	for _, cur := range d.Instances {
		ids = append(ids, cur.ID)
	}
	return handles, ids
}

// apply derives the successor of s by applying the delta. The delta is
// validated in full before the new snapshot is produced; s is never
// modified.
func (s *Snapshot) apply(delta *Delta, codes *registry.Registry, timestamp time.Time) (*Snapshot, error) {
	if delta == nil {
		delta = &Delta{}
	}

	for _, code := range delta.Codes {
		if len(code.Binary) == 0 {
			return nil, fmt.Errorf("%w: empty binary", common.ErrInvalidCode)
		}
		if got := registry.Hash(code.Binary); got != code.Hash {
			return nil, fmt.Errorf("%w: code hash %v does not match content hash %v", common.ErrInvalidCode, code.Hash, got)
		}
	}

	accounts := s.accounts.Clone()
	created := map[string]account.Account{}
	for _, cur := range delta.Created {
		if err := accounts.Insert(cur); err != nil {
			return nil, err
		}
		if cur.Sequence != 0 || !cur.Balance.IsZero() {
			return nil, fmt.Errorf("%w: account %q must be created empty", ErrInvalidDelta, cur.Handle)
		}
		created[cur.Handle] = cur
	}

	updated := map[string]bool{}
	for _, cur := range delta.Accounts {
		if updated[cur.Handle] {
			return nil, fmt.Errorf("%w: account %q updated twice", ErrInvalidDelta, cur.Handle)
		}
		updated[cur.Handle] = true
		base, isNew := created[cur.Handle]
		if !isNew {
			var err error
			if base, err = s.accounts.Get(cur.Handle); err != nil {
				return nil, fmt.Errorf("%w: %q", common.ErrUnknownAccount, cur.Handle)
			}
		}
		if cur.Sequence < base.Sequence {
			return nil, fmt.Errorf("%w: sequence of %q would regress from %d to %d", common.ErrSequenceMismatch, cur.Handle, base.Sequence, cur.Sequence)
		}
		if cur.Sequence > base.Sequence+1 {
			return nil, fmt.Errorf("%w: sequence of %q would skip from %d to %d", common.ErrSequenceMismatch, cur.Handle, base.Sequence, cur.Sequence)
		}
		if !bytes.Equal(cur.PublicKey, base.PublicKey) {
			return nil, fmt.Errorf("%w: public key of %q is immutable", ErrInvalidDelta, cur.Handle)
		}
		if err := accounts.Put(cur); err != nil {
			return nil, err
		}
	}

	pending := map[common.Hash]bool{}
	for _, code := range delta.Codes {
		pending[code.Hash] = true
	}
	instances := maps.Clone(s.instances)
	seen := map[common.Hash]bool{}
	for _, cur := range delta.Instances {
		if seen[cur.ID] {
			return nil, fmt.Errorf("%w: instance %v updated twice", ErrInvalidDelta, cur.ID)
		}
		seen[cur.ID] = true
		if cur.Status > Archived {
			return nil, fmt.Errorf("%w: invalid status of instance %v", ErrInvalidDelta, cur.ID)
		}
		if old, found := s.instances[cur.ID]; found {
			if old.Code != cur.Code {
				return nil, fmt.Errorf("%w: code of instance %v is immutable", ErrInvalidDelta, cur.ID)
			}
			if old.Owner != cur.Owner {
				return nil, fmt.Errorf("%w: owner of instance %v is immutable", ErrInvalidDelta, cur.ID)
			}
			if old.Status == Archived && cur.Status != Archived {
				return nil, fmt.Errorf("%w: archived instance %v cannot be reactivated", ErrInvalidDelta, cur.ID)
			}
		} else {
			if !pending[cur.Code] && !codes.Contains(cur.Code) {
				return nil, fmt.Errorf("%w: instance %v refers to unknown code %v", common.ErrInvalidCode, cur.ID, cur.Code)
			}
			if !accounts.Exists(cur.Owner) {
				return nil, fmt.Errorf("%w: owner %q of instance %v", common.ErrUnknownAccount, cur.Owner, cur.ID)
			}
		}
		instances[cur.ID] = cur.Clone()
	}

	if timestamp.Before(s.timestamp) {
		timestamp = s.timestamp
	}
	return &Snapshot{
		sequence:  s.sequence + 1,
		timestamp: normalize(timestamp),
		accounts:  accounts,
		instances: instances,
	}, nil
}
