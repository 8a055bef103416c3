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
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/common/amount"
	"github.com/thefifthdev/stellarforge/ledger/account"
	"github.com/thefifthdev/stellarforge/ledger/registry"
)

func newTestEngine(t *testing.T, options ...Option) *Engine {
	t.Helper()
	engine := NewEngine(registry.New(), options...)
	t.Cleanup(func() { require.NoError(t, engine.Close()) })
	return engine
}

func TestEngine_StartsAtSequenceZeroWithoutAccounts(t *testing.T) {
	engine := newTestEngine(t)
	current := engine.Current()
	require.Equal(t, uint64(0), current.Sequence())
	require.Equal(t, 0, current.NumAccounts())
	require.Equal(t, 0, current.NumInstances())
	require.Equal(t, []uint64{0}, engine.Sequences())
}

func TestEngine_ApplyAdvancesSequenceByOne(t *testing.T) {
	require := require.New(t)
	engine := newTestEngine(t)
	created, err := account.New("alice")
	require.NoError(err)

	snapshot, err := engine.Apply(&Delta{Created: []account.Account{created}})
	require.NoError(err)
	require.Equal(uint64(1), snapshot.Sequence())
	require.Same(snapshot, engine.Current())
	require.True(snapshot.HasAccount("alice"))

	snapshot, err = engine.Apply(nil)
	require.NoError(err)
	require.Equal(uint64(2), snapshot.Sequence())
}

func TestEngine_FailedApplyLeavesStateUnchanged(t *testing.T) {
	require := require.New(t)
	engine := newTestEngine(t)
	_, err := engine.CreateAccount("alice")
	require.NoError(err)
	_, err = engine.Fund("alice", amount.New(100))
	require.NoError(err)
	before := engine.Current()
	hash := before.Hash()

	alice, err := before.Account("alice")
	require.NoError(err)
	alice.Balance = amount.New(1)
	bob, err := account.New("bob")
	require.NoError(err)
	bob.Sequence = 1

	// The first changes are valid, the last one is not; nothing may land.
	snapshot, err := engine.Apply(&Delta{
		Accounts:  []account.Account{alice},
		Instances: []*Instance{NewInstance(common.Hash{1}, common.Hash{2}, "alice")},
	})
	require.ErrorIs(err, common.ErrInvalidCode)
	require.Same(before, snapshot)
	require.Same(before, engine.Current())
	require.Equal(hash, engine.Current().Hash())

	_, err = engine.Apply(&Delta{Created: []account.Account{bob}})
	require.ErrorIs(err, ErrInvalidDelta)
	require.Equal(hash, engine.Current().Hash())
}

func TestEngine_ApplyValidatesAccounts(t *testing.T) {
	require := require.New(t)
	engine := newTestEngine(t)
	_, err := engine.CreateAccount("alice")
	require.NoError(err)
	alice, err := engine.Current().Account("alice")
	require.NoError(err)

	ghost, err := account.New("ghost")
	require.NoError(err)
	_, err = engine.Apply(&Delta{Accounts: []account.Account{ghost}})
	require.ErrorIs(err, common.ErrUnknownAccount)

	skipped := alice
	skipped.Sequence = 2
	_, err = engine.Apply(&Delta{Accounts: []account.Account{skipped}})
	require.ErrorIs(err, common.ErrSequenceMismatch)

	rekeyed := alice
	rekeyed.PublicKey = []byte{1, 2, 3}
	_, err = engine.Apply(&Delta{Accounts: []account.Account{rekeyed}})
	require.ErrorIs(err, ErrInvalidDelta)

	_, err = engine.Apply(&Delta{Accounts: []account.Account{alice, alice}})
	require.ErrorIs(err, ErrInvalidDelta)

	_, err = engine.Apply(&Delta{Created: []account.Account{alice}})
	require.ErrorIs(err, common.ErrDuplicateHandle)

	bumped := alice
	bumped.Sequence = 1
	_, err = engine.Apply(&Delta{Accounts: []account.Account{bumped}})
	require.NoError(err)

	_, err = engine.Apply(&Delta{Accounts: []account.Account{alice}})
	require.ErrorIs(err, common.ErrSequenceMismatch)
}

func TestEngine_ApplyRegistersCodeAndInstances(t *testing.T) {
	require := require.New(t)
	engine := newTestEngine(t)
	_, err := engine.CreateAccount("alice")
	require.NoError(err)

	binary := []byte("code")
	code := registry.ContractCode{Hash: registry.Hash(binary), Binary: binary, Deployer: "alice"}
	instance := NewInstance(code.Hash, code.Hash, "alice")
	instance.Storage["k"] = []byte("v")

	snapshot, err := engine.Apply(&Delta{Codes: []registry.ContractCode{code}, Instances: []*Instance{instance}})
	require.NoError(err)

	got, err := engine.Registry().Lookup(code.Hash)
	require.NoError(err)
	require.Equal(binary, got.Binary)

	stored, err := snapshot.Instance(code.Hash)
	require.NoError(err)
	require.Equal([]byte("v"), stored.Get([]byte("k")))

	// mutating the input after the fact has no effect
	instance.Storage["k"] = []byte("changed")
	stored, err = engine.Current().Instance(code.Hash)
	require.NoError(err)
	require.Equal([]byte("v"), stored.Get([]byte("k")))

	changed := stored.Clone()
	changed.Code = common.Hash{42}
	_, err = engine.Apply(&Delta{Instances: []*Instance{changed}})
	require.ErrorIs(err, ErrInvalidDelta)

	archived := stored.Clone()
	archived.Status = Archived
	_, err = engine.Apply(&Delta{Instances: []*Instance{archived}})
	require.NoError(err)

	_, err = engine.Apply(&Delta{Instances: []*Instance{stored}})
	require.ErrorIs(err, ErrInvalidDelta)
}

func TestEngine_ApplyRejectsCodeWithWrongHash(t *testing.T) {
	engine := newTestEngine(t)
	code := registry.ContractCode{Hash: common.Hash{1}, Binary: []byte("code")}
	_, err := engine.Apply(&Delta{Codes: []registry.ContractCode{code}})
	require.ErrorIs(t, err, common.ErrInvalidCode)
	require.Equal(t, 0, engine.Registry().Len())
}

func TestEngine_RetentionPrunesOldestFirst(t *testing.T) {
	require := require.New(t)
	engine := newTestEngine(t, WithRetention(3))
	for i := 0; i < 5; i++ {
		_, err := engine.Apply(nil)
		require.NoError(err)
	}
	require.Equal([]uint64{3, 4, 5}, engine.Sequences())

	_, err := engine.At(2)
	require.ErrorIs(err, ErrNotFound)
	_, err = engine.At(6)
	require.ErrorIs(err, ErrNotFound)

	snapshot, err := engine.At(4)
	require.NoError(err)
	require.Equal(uint64(4), snapshot.Sequence())
}

func TestEngine_HistoricSnapshotsAreUnaffectedByLaterUpdates(t *testing.T) {
	require := require.New(t)
	engine := newTestEngine(t)
	_, err := engine.CreateAccount("alice")
	require.NoError(err)
	_, err = engine.Fund("alice", amount.New(10))
	require.NoError(err)
	_, err = engine.Fund("alice", amount.New(20))
	require.NoError(err)

	old, err := engine.At(2)
	require.NoError(err)
	alice, err := old.Account("alice")
	require.NoError(err)
	require.Equal(amount.New(10), alice.Balance)

	alice, err = engine.Current().Account("alice")
	require.NoError(err)
	require.Equal(amount.New(30), alice.Balance)
}

func TestEngine_FundConservesTotalBalance(t *testing.T) {
	require := require.New(t)
	engine := newTestEngine(t)
	handles := []string{"alice", "bob", "carol"}
	for _, handle := range handles {
		_, err := engine.CreateAccount(handle)
		require.NoError(err)
	}
	var funded amount.Amount
	for i := 1; i <= 30; i++ {
		value := amount.New(uint64(i * 37))
		_, err := engine.Fund(handles[i%len(handles)], value)
		require.NoError(err)
		funded, _ = funded.Add(value)
	}
	require.Equal(funded, engine.Current().TotalBalance())
}

func TestEngine_FundRequiresPositiveAmountAndKnownAccount(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.Fund("alice", amount.New(1))
	require.ErrorIs(t, err, common.ErrUnknownAccount)
	_, err = engine.CreateAccount("alice")
	require.NoError(t, err)
	_, err = engine.Fund("alice", amount.New(0))
	require.ErrorIs(t, err, common.ErrInvalidAmount)
	require.Equal(t, uint64(1), engine.Current().Sequence())
}

func TestEngine_ConcurrentUpdatesProduceContiguousSequences(t *testing.T) {
	require := require.New(t)
	engine := newTestEngine(t, WithRetention(1000))
	const workers, updates = 8, 25

	var wg sync.WaitGroup
	results := make(chan uint64, workers*updates)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < updates; j++ {
				handle := fmt.Sprintf("user-%d-%d", i, j)
				snapshot, err := engine.Update(context.Background(), func(prior *Snapshot) (*Delta, error) {
					created, err := account.New(handle)
					return &Delta{Created: []account.Account{created}}, err
				})
				require.NoError(err)
				results <- snapshot.Sequence()
			}
		}(i)
	}
	wg.Wait()
	close(results)

	seen := map[uint64]bool{}
	for sequence := range results {
		require.False(seen[sequence], "duplicate sequence %d", sequence)
		seen[sequence] = true
	}
	for i := uint64(1); i <= workers*updates; i++ {
		require.True(seen[i], "missing sequence %d", i)
	}

	sequences := engine.Sequences()
	for i := 1; i < len(sequences); i++ {
		require.Equal(sequences[i-1]+1, sequences[i])
	}
	require.Equal(workers*updates, engine.Current().NumAccounts())
}

func TestEngine_UpdateSeesExactPriorSnapshot(t *testing.T) {
	engine := newTestEngine(t)
	for i := 0; i < 3; i++ {
		expected := engine.Current()
		_, err := engine.Update(context.Background(), func(prior *Snapshot) (*Delta, error) {
			require.Same(t, expected, prior)
			return nil, nil
		})
		require.NoError(t, err)
	}
}

func TestEngine_UpdateErrorAbortsWithoutChange(t *testing.T) {
	engine := newTestEngine(t)
	injected := errors.New("injected")
	snapshot, err := engine.Update(context.Background(), func(*Snapshot) (*Delta, error) {
		return nil, injected
	})
	require.ErrorIs(t, err, injected)
	require.Equal(t, uint64(0), snapshot.Sequence())
}

func TestEngine_PanickingUpdateDoesNotKillTheWriter(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.Update(context.Background(), func(*Snapshot) (*Delta, error) {
		panic("boom")
	})
	require.ErrorContains(t, err, "boom")

	snapshot, err := engine.Apply(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1), snapshot.Sequence())
}

func TestEngine_UpdatesAfterCloseFail(t *testing.T) {
	engine := NewEngine(registry.New())
	require.NoError(t, engine.Close())
	require.NoError(t, engine.Close())

	_, err := engine.Apply(nil)
	require.ErrorIs(t, err, ErrClosed)
	require.Equal(t, uint64(0), engine.Current().Sequence())
}

func TestEngine_TimestampsNeverGoBackwards(t *testing.T) {
	require := require.New(t)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	engine := newTestEngine(t, WithClock(func() time.Time { return clock }))
	require.Equal(now, engine.Current().Timestamp())

	clock = now.Add(-time.Hour)
	snapshot, err := engine.Apply(nil)
	require.NoError(err)
	require.Equal(now, snapshot.Timestamp())

	clock = now.Add(time.Minute)
	snapshot, err = engine.Apply(nil)
	require.NoError(err)
	require.Equal(now.Add(time.Minute), snapshot.Timestamp())
}

func TestRestore_ResumesFromSnapshot(t *testing.T) {
	require := require.New(t)
	engine := newTestEngine(t)
	_, err := engine.CreateAccount("alice")
	require.NoError(err)
	saved := engine.Current()

	restored, err := Restore(saved, engine.Registry())
	require.NoError(err)
	defer restored.Close()
	require.Equal(saved.Hash(), restored.Current().Hash())

	snapshot, err := restored.Apply(nil)
	require.NoError(err)
	require.Equal(uint64(2), snapshot.Sequence())
}

func TestRestore_RejectsMissingCode(t *testing.T) {
	alice, err := account.New("alice")
	require.NoError(t, err)
	instance := NewInstance(common.Hash{1}, common.Hash{1}, "alice")
	snapshot, err := NewSnapshot(5, time.Now(), []account.Account{alice}, []*Instance{instance})
	require.NoError(t, err)

	_, err = Restore(snapshot, registry.New())
	require.ErrorIs(t, err, common.ErrInvalidCode)
}
