// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package runtime

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/common/amount"
)

type codeWriter struct {
	code []byte
}

func (w *codeWriter) op(ops ...OpCode) *codeWriter {
	for _, op := range ops {
		w.code = append(w.code, byte(op))
	}
	return w
}

func (w *codeWriter) push(data []byte) *codeWriter {
	w.code = append(w.code, byte(PUSH))
	w.code = binary.AppendUvarint(w.code, uint64(len(data)))
	w.code = append(w.code, data...)
	return w
}

func (w *codeWriter) withByte(op OpCode, value byte) *codeWriter {
	w.code = append(w.code, byte(op), value)
	return w
}

func (w *codeWriter) jump(op OpCode, target uint32) *codeWriter {
	w.code = append(w.code, byte(op))
	w.code = binary.BigEndian.AppendUint32(w.code, target)
	return w
}

func (w *codeWriter) offset() uint32 {
	return uint32(len(w.code))
}

type testHost struct {
	programs map[common.Hash]*Program
	storage  map[common.Hash]map[string][]byte
	balances map[string]amount.Amount
}

func newTestHost() *testHost {
	return &testHost{
		programs: map[common.Hash]*Program{},
		storage:  map[common.Hash]map[string][]byte{},
		balances: map[string]amount.Amount{},
	}
}

func (h *testHost) Load(contract common.Hash, key []byte) ([]byte, error) {
	return h.storage[contract][string(key)], nil
}

func (h *testHost) Store(contract common.Hash, key, value []byte) error {
	if h.storage[contract] == nil {
		h.storage[contract] = map[string][]byte{}
	}
	h.storage[contract][string(key)] = value
	return nil
}

func (h *testHost) Delete(contract common.Hash, key []byte) error {
	delete(h.storage[contract], string(key))
	return nil
}

func (h *testHost) Balance(handle string) (amount.Amount, error) {
	balance, found := h.balances[handle]
	if !found {
		return amount.Amount{}, fmt.Errorf("%w: %q", common.ErrUnknownAccount, handle)
	}
	return balance, nil
}

func (h *testHost) Transfer(from, to string, value amount.Amount) error {
	if _, found := h.balances[to]; !found {
		return fmt.Errorf("%w: %q", common.ErrUnknownAccount, to)
	}
	balance, underflow := h.balances[from].Sub(value)
	if underflow {
		return common.ErrInsufficientBalance
	}
	h.balances[from] = balance
	h.balances[to], _ = h.balances[to].Add(value)
	return nil
}

func (h *testHost) Program(contract common.Hash) (*Program, error) {
	program, found := h.programs[contract]
	if !found {
		return nil, common.ErrContractNotFound
	}
	return program, nil
}

func (h *testHost) deploy(t *testing.T, id common.Hash, program *Program) {
	t.Helper()
	decoded, err := Decode(program.Encode())
	require.NoError(t, err)
	h.programs[id] = decoded
}

var unlimited = Limits{Steps: 1_000_000, Memory: 1 << 20}

func TestRun_StoreAndLoadRoundTrip(t *testing.T) {
	require := require.New(t)
	w := &codeWriter{}
	w.withByte(ARG, 0).withByte(ARG, 1).op(STORE).push([]byte{1}).op(RETURN)
	get := w.offset()
	w.withByte(ARG, 0).op(LOAD, RETURN)

	host := newTestHost()
	id := common.Hash{1}
	host.deploy(t, id, &Program{
		Functions: []Function{{Name: "set", Params: []string{"k", "v"}}, {Name: "get", Params: []string{"k"}, Offset: get}},
		Code:      w.code,
	})

	result, err := Run(host, NewMeter(unlimited), Call{Caller: "alice", Contract: id, Function: "set", Args: [][]byte{[]byte("key"), []byte("value")}})
	require.NoError(err)
	require.Equal([]byte{1}, result)

	result, err = Run(host, NewMeter(unlimited), Call{Caller: "alice", Contract: id, Function: "get", Args: [][]byte{[]byte("key")}})
	require.NoError(err)
	require.Equal([]byte("value"), result)
}

func TestRun_TransferMovesFundsOfCaller(t *testing.T) {
	require := require.New(t)
	w := &codeWriter{}
	w.withByte(ARG, 0).withByte(ARG, 1).withByte(ARG, 2).op(TRANSFER, STOP)
	host := newTestHost()
	host.balances["alice"] = amount.New(1000)
	host.balances["bob"] = amount.New(0)
	id := common.Hash{1}
	host.deploy(t, id, &Program{Functions: []Function{{Name: "transfer", Params: []string{"from", "to", "amount"}}}, Code: w.code})

	call := Call{Caller: "alice", Contract: id, Function: "transfer", Args: [][]byte{[]byte("alice"), []byte("bob"), {0x01, 0xf4}}}
	_, err := Run(host, NewMeter(unlimited), call)
	require.NoError(err)
	require.Equal(amount.New(500), host.balances["alice"])
	require.Equal(amount.New(500), host.balances["bob"])

	call.Caller = "bob"
	_, err = Run(host, NewMeter(unlimited), call)
	require.ErrorIs(err, common.ErrUnauthorized)

	call.Caller = "alice"
	call.Args[1] = []byte("carol")
	_, err = Run(host, NewMeter(unlimited), call)
	require.ErrorIs(err, common.ErrUnknownAccount)
}

func TestRun_LoopRunsOutOfSteps(t *testing.T) {
	w := &codeWriter{}
	w.jump(JUMP, 0)
	host := newTestHost()
	id := common.Hash{1}
	host.deploy(t, id, &Program{Functions: []Function{{Name: "spin"}}, Code: w.code})

	meter := NewMeter(Limits{Steps: 100, Memory: 1000})
	_, err := Run(host, meter, Call{Contract: id, Function: "spin"})
	require.ErrorIs(t, err, ErrExhausted)
	require.Equal(t, uint64(100), meter.Steps())
}

func TestRun_PushesRunOutOfMemory(t *testing.T) {
	w := &codeWriter{}
	start := w.offset()
	w.push(make([]byte, 100)).jump(JUMP, start)
	host := newTestHost()
	id := common.Hash{1}
	host.deploy(t, id, &Program{Functions: []Function{{Name: "grow"}}, Code: w.code})

	_, err := Run(host, NewMeter(Limits{Steps: 1_000_000, Memory: 1000}), Call{Contract: id, Function: "grow"})
	require.ErrorIs(t, err, ErrExhausted)
}

func TestRun_ArithmeticAndBranches(t *testing.T) {
	require := require.New(t)
	// max(a, b)
	w := &codeWriter{}
	w.withByte(ARG, 0).withByte(ARG, 1).op(LT)
	jumpAt := w.offset()
	w.jump(JUMPI, 0).withByte(ARG, 0).op(RETURN)
	second := w.offset()
	w.withByte(ARG, 1).op(RETURN)
	binary.BigEndian.PutUint32(w.code[jumpAt+1:], second)

	sum := w.offset()
	w.withByte(ARG, 0).withByte(ARG, 1).op(ADD, RETURN)
	diff := w.offset()
	w.withByte(ARG, 0).withByte(ARG, 1).op(SUB, RETURN)

	host := newTestHost()
	id := common.Hash{1}
	host.deploy(t, id, &Program{Functions: []Function{
		{Name: "max", Params: []string{"a", "b"}},
		{Name: "sum", Params: []string{"a", "b"}, Offset: sum},
		{Name: "diff", Params: []string{"a", "b"}, Offset: diff},
	}, Code: w.code})

	call := func(fn string, a, b byte) ([]byte, error) {
		return Run(host, NewMeter(unlimited), Call{Contract: id, Function: fn, Args: [][]byte{{a}, {b}}})
	}
	result, err := call("max", 3, 9)
	require.NoError(err)
	require.Equal([]byte{9}, result)
	result, err = call("max", 9, 3)
	require.NoError(err)
	require.Equal([]byte{9}, result)
	result, err = call("sum", 200, 100)
	require.NoError(err)
	require.Equal([]byte{0x01, 0x2c}, result)
	result, err = call("diff", 9, 3)
	require.NoError(err)
	require.Equal([]byte{6}, result)
	_, err = call("diff", 3, 9)
	require.ErrorIs(err, ErrTrap)
}

func TestRun_ReportsUnknownFunctionsAndArity(t *testing.T) {
	host := newTestHost()
	id := common.Hash{1}
	host.deploy(t, id, &Program{Functions: []Function{{Name: "f", Params: []string{"x"}}}, Code: []byte{byte(STOP)}})

	_, err := Run(host, NewMeter(unlimited), Call{Contract: id, Function: "g"})
	require.ErrorIs(t, err, ErrUnknownFunction)
	_, err = Run(host, NewMeter(unlimited), Call{Contract: id, Function: "f"})
	require.ErrorIs(t, err, ErrTrap)
	_, err = Run(host, NewMeter(unlimited), Call{Contract: common.Hash{2}, Function: "f"})
	require.ErrorIs(t, err, common.ErrContractNotFound)
}

func TestRun_RevertAndStackErrorsTrap(t *testing.T) {
	w := &codeWriter{}
	w.push([]byte("nope")).op(REVERT)
	underflow := w.offset()
	w.op(POP)
	host := newTestHost()
	id := common.Hash{1}
	host.deploy(t, id, &Program{Functions: []Function{{Name: "fail"}, {Name: "underflow", Offset: underflow}}, Code: w.code})

	_, err := Run(host, NewMeter(unlimited), Call{Contract: id, Function: "fail"})
	require.ErrorIs(t, err, ErrReverted)
	require.ErrorContains(t, err, "nope")
	_, err = Run(host, NewMeter(unlimited), Call{Contract: id, Function: "underflow"})
	require.ErrorIs(t, err, ErrTrap)
}

func TestRun_CrossContractCallsResolveAtCallTime(t *testing.T) {
	require := require.New(t)
	callee := common.Hash{2}
	caller := common.Hash{1}

	// callee.echo(x) returns x followed by its caller
	w := &codeWriter{}
	w.withByte(ARG, 0).op(RETURN)
	host := newTestHost()
	host.deploy(t, callee, &Program{Functions: []Function{{Name: "echo", Params: []string{"x"}}}, Code: w.code})

	w = &codeWriter{}
	w.withByte(ARG, 0).push([]byte("echo")).push(callee[:]).withByte(CALL, 1).op(RETURN)
	host.deploy(t, caller, &Program{Functions: []Function{{Name: "relay", Params: []string{"x"}}}, Code: w.code})

	result, err := Run(host, NewMeter(unlimited), Call{Caller: "alice", Contract: caller, Function: "relay", Args: [][]byte{[]byte("hi")}})
	require.NoError(err)
	require.Equal([]byte("hi"), result)
}

func TestRun_RecursionIsBoundedByCallDepth(t *testing.T) {
	id := common.Hash{1}
	w := &codeWriter{}
	w.push([]byte("loop")).push(id[:]).withByte(CALL, 0).op(RETURN)
	host := newTestHost()
	host.deploy(t, id, &Program{Functions: []Function{{Name: "loop"}}, Code: w.code})

	_, err := Run(host, NewMeter(unlimited), Call{Contract: id, Function: "loop"})
	require.ErrorIs(t, err, ErrTrap)
	require.ErrorContains(t, err, "call depth")
}

func TestDecode_RoundTripsPrograms(t *testing.T) {
	require := require.New(t)
	w := &codeWriter{}
	w.push([]byte("x")).jump(JUMPI, 0).op(STOP)
	program := &Program{
		Toolchain:    "sfa-1.0.0",
		Optimization: 1,
		Functions:    []Function{{Name: "main", Params: []string{"a", "b"}}},
		Code:         w.code,
	}
	decoded, err := Decode(program.Encode())
	require.NoError(err)
	require.Equal(program, decoded)
	require.Equal(program.Encode(), decoded.Encode())
}

func TestDecode_RejectsMalformedBinaries(t *testing.T) {
	valid := (&Program{Functions: []Function{{Name: "f"}}, Code: []byte{byte(STOP)}}).Encode()
	badJump := (&Program{Functions: []Function{{Name: "f"}}, Code: (&codeWriter{}).jump(JUMP, 7).code}).Encode()
	badOp := (&Program{Functions: []Function{{Name: "f"}}, Code: []byte{0xee}}).Encode()
	badOffset := (&Program{Functions: []Function{{Name: "f", Offset: 3}}, Code: []byte{byte(STOP)}}).Encode()
	duplicate := (&Program{Functions: []Function{{Name: "f"}, {Name: "f"}}, Code: []byte{byte(STOP)}}).Encode()
	truncatedPush := (&Program{Functions: []Function{{Name: "f"}}, Code: []byte{byte(PUSH), 5, 1}}).Encode()

	for name, binary := range map[string][]byte{
		"empty":          nil,
		"no magic":       []byte("XXXX"),
		"truncated":      valid[:len(valid)-1],
		"trailing":       append(append([]byte{}, valid...), 0),
		"bad jump":       badJump,
		"bad opcode":     badOp,
		"bad offset":     badOffset,
		"duplicate":      duplicate,
		"truncated push": truncatedPush,
	} {
		_, err := Decode(binary)
		require.ErrorIs(t, err, common.ErrInvalidCode, name)
	}
	_, err := Decode(valid)
	require.NoError(t, err)
}
