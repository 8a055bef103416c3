// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package records

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/common/amount"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func exampleDeployment(contract common.Hash, at time.Time) Deployment {
	return Deployment{
		ID:         uuid.New(),
		ContractID: contract,
		CodeHash:   contract,
		Target:     "local",
		Position:   42,
		Cost:       amount.New(100),
		Toolchain:  "sfa-1.1.0/O1",
		Signer:     "alice",
		Address:    "0x0000000000000000000000000000000000000001",
		Signature:  []byte{1, 2, 3},
		Timestamp:  at,
	}
}

func exampleVerification(contract common.Hash, match bool, at time.Time) Verification {
	remote := contract
	if !match {
		remote = common.Keccak256([]byte("other"))
	}
	return Verification{
		ID:         uuid.New(),
		ContractID: contract,
		LocalHash:  contract,
		RemoteHash: remote,
		Match:      match,
		Toolchain:  "sfa-1.1.0/O1",
		Target:     "local",
		Timestamp:  at,
	}
}

func TestStore_DeploymentRoundTrip(t *testing.T) {
	require := require.New(t)
	store := openStore(t)
	contract := common.Keccak256([]byte("code"))
	d := exampleDeployment(contract, time.Date(2024, 5, 1, 12, 0, 0, 123, time.UTC))

	require.NoError(store.AddDeployment(context.Background(), d))
	got, err := store.Deployment(context.Background(), d.ID)
	require.NoError(err)
	require.Equal(d, got)
}

func TestStore_VerificationRoundTrip(t *testing.T) {
	require := require.New(t)
	store := openStore(t)
	contract := common.Keccak256([]byte("code"))
	for _, match := range []bool{true, false} {
		v := exampleVerification(contract, match, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
		require.NoError(store.AddVerification(context.Background(), v))
		got, err := store.Verification(context.Background(), v.ID)
		require.NoError(err)
		require.Equal(v, got)
	}
}

func TestStore_MissingRecordsAreReported(t *testing.T) {
	store := openStore(t)
	_, err := store.Deployment(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Verification(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RecordsAreWrittenOnce(t *testing.T) {
	require := require.New(t)
	store := openStore(t)
	contract := common.Keccak256([]byte("code"))
	v := exampleVerification(contract, true, time.Now())
	require.NoError(store.AddVerification(context.Background(), v))
	require.Error(store.AddVerification(context.Background(), v))

	_, err := store.db.Exec(`UPDATE verifications SET matched = 0 WHERE id = ?`, v.ID.String())
	require.ErrorContains(err, "immutable")
	_, err = store.db.Exec(`DELETE FROM verifications`)
	require.ErrorContains(err, "immutable")

	d := exampleDeployment(contract, time.Now())
	require.NoError(store.AddDeployment(context.Background(), d))
	_, err = store.db.Exec(`UPDATE deployments SET position = 0`)
	require.ErrorContains(err, "immutable")

	got, err := store.Verification(context.Background(), v.ID)
	require.NoError(err)
	require.True(got.Match)
}

func TestStore_ListsRecordsOfContractInOrder(t *testing.T) {
	require := require.New(t)
	store := openStore(t)
	contract := common.Keccak256([]byte("code"))
	other := common.Keccak256([]byte("other code"))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var want []Deployment
	for i := 0; i < 3; i++ {
		d := exampleDeployment(contract, start.Add(time.Duration(2-i)*time.Hour))
		require.NoError(store.AddDeployment(context.Background(), d))
		want = append([]Deployment{d}, want...)
	}
	require.NoError(store.AddDeployment(context.Background(), exampleDeployment(other, start)))
	got, err := store.Deployments(context.Background(), contract)
	require.NoError(err)
	require.Equal(want, got)

	first := exampleVerification(contract, false, start)
	second := exampleVerification(contract, true, start.Add(time.Minute))
	require.NoError(store.AddVerification(context.Background(), second))
	require.NoError(store.AddVerification(context.Background(), first))
	verifications, err := store.Verifications(context.Background(), contract)
	require.NoError(err)
	require.Equal([]Verification{first, second}, verifications)

	none, err := store.Verifications(context.Background(), other)
	require.NoError(err)
	require.Empty(none)
}

func TestStore_RejectsUnstorablePositions(t *testing.T) {
	store := openStore(t)
	d := exampleDeployment(common.Keccak256([]byte("code")), time.Now())
	d.Position = math.MaxUint64
	require.Error(t, store.AddDeployment(context.Background(), d))
}

func TestStore_FileDatabaseSurvivesReopening(t *testing.T) {
	require := require.New(t)
	file := filepath.Join(t.TempDir(), "nested", DefaultFile)
	store, err := Open(file)
	require.NoError(err)
	d := exampleDeployment(common.Keccak256([]byte("code")), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(store.AddDeployment(context.Background(), d))
	require.NoError(store.Close())

	store, err = Open(file)
	require.NoError(err)
	defer store.Close()
	got, err := store.Deployment(context.Background(), d.ID)
	require.NoError(err)
	require.Equal(d, got)
}
