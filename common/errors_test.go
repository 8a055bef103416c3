// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf_FindsWrappedKinds(t *testing.T) {
	require := require.New(t)
	err := fmt.Errorf("deploying: %w", fmt.Errorf("%w: need 100, have 5", ErrInsufficientBalance))
	require.Equal("InsufficientBalance", KindOf(err))
	require.Equal("", KindOf(errors.New("plain")))
	require.Equal("", KindOf(nil))
}

func TestParseKind_RoundTripsAllKinds(t *testing.T) {
	for _, kind := range kinds {
		got, found := ParseKind(KindOf(kind))
		require.True(t, found, "kind %v", kind)
		require.Equal(t, error(kind), got)
	}
	_, found := ParseKind("NoSuchKind")
	require.False(t, found)
}
