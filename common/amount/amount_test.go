// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package amount

import (
	"encoding/json"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestAmount_ZeroValueIsZero(t *testing.T) {
	var a Amount
	require.True(t, a.IsZero())
	require.Equal(t, New(0), a)
	require.Equal(t, "0", a.String())
	require.Empty(t, a.Bytes())
}

func TestAmount_AddDetectsOverflow(t *testing.T) {
	require := require.New(t)
	sum, overflow := New(10_000).Add(New(500))
	require.False(overflow)
	require.Equal(New(10_500), sum)

	max := NewFromUint256(new(uint256.Int).SetAllOne())
	_, overflow = max.Add(New(1))
	require.True(overflow)
}

func TestAmount_SubDetectsUnderflow(t *testing.T) {
	require := require.New(t)
	diff, underflow := New(10_000).Sub(New(100))
	require.False(underflow)
	require.Equal(New(9_900), diff)

	_, underflow = New(5).Sub(New(6))
	require.True(underflow)
}

func TestAmount_MulDetectsOverflow(t *testing.T) {
	product, overflow := New(7).Mul(New(6))
	require.False(t, overflow)
	require.Equal(t, New(42), product)

	max := NewFromUint256(new(uint256.Int).SetAllOne())
	_, overflow = max.Mul(New(2))
	require.True(t, overflow)
}

func TestAmount_NewFromBytesIsBigEndian(t *testing.T) {
	require.Equal(t, New(0x0102), NewFromBytes(0x01, 0x02))
	require.Equal(t, New(0), NewFromBytes())
	require.Equal(t, []byte{0x01, 0x02}, New(0x0102).Bytes())
}

func TestAmount_CmpOrdersValues(t *testing.T) {
	require.Equal(t, -1, New(1).Cmp(New(2)))
	require.Equal(t, 0, New(2).Cmp(New(2)))
	require.Equal(t, 1, New(3).Cmp(New(2)))
}

func TestAmount_ParseRejectsNegativeAndGarbage(t *testing.T) {
	for _, input := range []string{"-1", "abc", "", "1.5"} {
		_, err := Parse(input)
		require.Error(t, err, "input %q", input)
	}
	value, err := Parse("10000")
	require.NoError(t, err)
	require.Equal(t, New(10_000), value)
}

func TestAmount_JsonEncodingIsDecimalString(t *testing.T) {
	require := require.New(t)
	data, err := json.Marshal(New(9_900))
	require.NoError(err)
	require.Equal(`"9900"`, string(data))

	var restored Amount
	require.NoError(json.Unmarshal(data, &restored))
	require.Equal(New(9_900), restored)
}
