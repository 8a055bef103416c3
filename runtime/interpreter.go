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
	"bytes"
	"fmt"

	"github.com/0xsoniclabs/tracy"
	"github.com/holiman/uint256"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/common/amount"
)

const (
	ErrExhausted       = common.ConstError("execution budget exhausted")
	ErrUnknownFunction = common.ConstError("unknown function")
	ErrReverted        = common.ConstError("execution reverted")
	ErrTrap            = common.ConstError("execution trapped")
)

const (
	// MaxStackSize bounds the number of values on the stack of a frame.
	MaxStackSize = 1024
	// MaxCallDepth bounds the nesting of cross-contract calls.
	MaxCallDepth = 16
	// stackValueOverhead is the memory charged for every pushed value on top
	// of its length.
	stackValueOverhead = 8
)

// Host provides the state a contract operates on. Contracts are resolved
// by ID at call time, so contracts may call each other in any pattern.
type Host interface {
	Load(contract common.Hash, key []byte) ([]byte, error)
	// Store sets a storage slot; storing an empty value clears the slot.
	Store(contract common.Hash, key, value []byte) error
	Delete(contract common.Hash, key []byte) error
	Balance(handle string) (amount.Amount, error)
	Transfer(from, to string, value amount.Amount) error
	Program(contract common.Hash) (*Program, error)
}

// Call describes the invocation of a contract function.
type Call struct {
	Caller   string
	Contract common.Hash
	Function string
	Args     [][]byte
}

// Run executes a call against the host, charging all work to the meter.
// The host is not expected to undo writes of failed calls; callers buffer
// writes and discard them on error.
func Run(host Host, meter *Meter, call Call) ([]byte, error) {
	zone := tracy.ZoneBegin("runtime::run")
	defer zone.End()
	return run(host, meter, call, 0)
}

func run(host Host, meter *Meter, call Call, depth int) ([]byte, error) {
	if depth > MaxCallDepth {
		return nil, fmt.Errorf("%w: call depth limit of %d reached", ErrTrap, MaxCallDepth)
	}
	program, err := host.Program(call.Contract)
	if err != nil {
		return nil, err
	}
	fn, found := program.Function(call.Function)
	if !found {
		return nil, fmt.Errorf("%w: %q on contract %v", ErrUnknownFunction, call.Function, call.Contract)
	}
	if len(call.Args) != len(fn.Params) {
		return nil, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrTrap, fn.Name, len(fn.Params), len(call.Args))
	}
	f := &frame{
		host:    host,
		meter:   meter,
		call:    call,
		code:    program.Code,
		pc:      int(fn.Offset),
		depth:   depth,
		context: fn.Name,
	}
	return f.run()
}

type frame struct {
	host    Host
	meter   *Meter
	call    Call
	code    []byte
	pc      int
	stack   [][]byte
	depth   int
	context string
}

func (f *frame) trap(format string, args ...any) error {
	return fmt.Errorf("%w: %s at %d: %s", ErrTrap, f.context, f.pc, fmt.Sprintf(format, args...))
}

func (f *frame) push(value []byte) error {
	if len(f.stack) >= MaxStackSize {
		return f.trap("stack overflow")
	}
	if err := f.meter.chargeMemory(uint64(len(value)) + stackValueOverhead); err != nil {
		return err
	}
	f.stack = append(f.stack, value)
	return nil
}

func (f *frame) pop() ([]byte, error) {
	if len(f.stack) == 0 {
		return nil, f.trap("stack underflow")
	}
	value := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return value, nil
}

func (f *frame) popN(n int) ([][]byte, error) {
	if len(f.stack) < n {
		return nil, f.trap("stack underflow")
	}
	res := make([][]byte, n)
	copy(res, f.stack[len(f.stack)-n:])
	f.stack = f.stack[:len(f.stack)-n]
	return res, nil
}

func (f *frame) number(value []byte) (*uint256.Int, error) {
	if len(value) > 32 {
		return nil, f.trap("value of %d bytes is not a number", len(value))
	}
	return new(uint256.Int).SetBytes(value), nil
}

func truth(value []byte) bool {
	for _, b := range value {
		if b != 0 {
			return true
		}
	}
	return false
}

func boolean(value bool) []byte {
	if value {
		return []byte{1}
	}
	return []byte{}
}

func (f *frame) run() ([]byte, error) {
	for f.pc < len(f.code) {
		instruction, err := DecodeInstruction(f.code, f.pc)
		if err != nil {
			return nil, f.trap("%v", err)
		}
		if err := f.meter.chargeSteps(stepCosts[instruction.Op]); err != nil {
			return nil, err
		}
		jumped, result, done, err := f.step(instruction)
		if err != nil || done {
			return result, err
		}
		if !jumped {
			f.pc = instruction.Next
		}
	}
	return []byte{}, nil
}

// step executes a single instruction. It reports whether the program
// counter has been set by the instruction and whether the frame has ended.
func (f *frame) step(instruction Instruction) (jumped bool, result []byte, done bool, err error) {
	switch instruction.Op {
	case NOP:
	case STOP:
		return false, []byte{}, true, nil
	case PUSH:
		err = f.push(bytes.Clone(instruction.Operand))
	case ARG:
		index := int(instruction.Operand[0])
		if index >= len(f.call.Args) {
			return false, nil, false, f.trap("argument %d out of range", index)
		}
		err = f.push(bytes.Clone(f.call.Args[index]))
	case POP:
		_, err = f.pop()
	case DUP:
		if len(f.stack) == 0 {
			return false, nil, false, f.trap("stack underflow")
		}
		err = f.push(f.stack[len(f.stack)-1])
	case SWAP:
		if len(f.stack) < 2 {
			return false, nil, false, f.trap("stack underflow")
		}
		n := len(f.stack)
		f.stack[n-1], f.stack[n-2] = f.stack[n-2], f.stack[n-1]
	case LOAD:
		var key, value []byte
		if key, err = f.pop(); err != nil {
			return
		}
		if value, err = f.host.Load(f.call.Contract, key); err != nil {
			return
		}
		err = f.push(value)
	case STORE:
		var operands [][]byte
		if operands, err = f.popN(2); err != nil {
			return
		}
		if err = f.meter.chargeMemory(uint64(len(operands[0]) + len(operands[1]))); err != nil {
			return
		}
		err = f.host.Store(f.call.Contract, operands[0], operands[1])
	case DELETE:
		var key []byte
		if key, err = f.pop(); err != nil {
			return
		}
		err = f.host.Delete(f.call.Contract, key)
	case TRANSFER:
		var operands [][]byte
		if operands, err = f.popN(3); err != nil {
			return
		}
		var value *uint256.Int
		if value, err = f.number(operands[2]); err != nil {
			return
		}
		from, to := string(operands[0]), string(operands[1])
		if from != f.call.Caller {
			return false, nil, false, fmt.Errorf("%w: %s may not transfer funds of %q", common.ErrUnauthorized, f.call.Caller, from)
		}
		err = f.host.Transfer(from, to, amount.NewFromUint256(value))
	case BALANCE:
		var handle []byte
		if handle, err = f.pop(); err != nil {
			return
		}
		var balance amount.Amount
		if balance, err = f.host.Balance(string(handle)); err != nil {
			return
		}
		err = f.push(balance.Bytes())
	case CALLER:
		err = f.push([]byte(f.call.Caller))
	case SELF:
		err = f.push(bytes.Clone(f.call.Contract[:]))
	case ADD, SUB, LT:
		err = f.arithmetic(instruction.Op)
	case EQ:
		var operands [][]byte
		if operands, err = f.popN(2); err != nil {
			return
		}
		err = f.push(boolean(bytes.Equal(operands[0], operands[1])))
	case NOT:
		var value []byte
		if value, err = f.pop(); err != nil {
			return
		}
		err = f.push(boolean(!truth(value)))
	case JUMP:
		f.pc = int(instruction.Target())
		return true, nil, false, nil
	case JUMPI:
		var condition []byte
		if condition, err = f.pop(); err != nil {
			return
		}
		if truth(condition) {
			f.pc = int(instruction.Target())
			return true, nil, false, nil
		}
	case CALL:
		result, err = f.callContract(int(instruction.Operand[0]))
		if err == nil {
			err = f.push(result)
		}
		return false, nil, false, err
	case REVERT:
		var message []byte
		if message, err = f.pop(); err != nil {
			return
		}
		return false, nil, false, fmt.Errorf("%w: %s", ErrReverted, message)
	case RETURN:
		var value []byte
		if value, err = f.pop(); err != nil {
			return
		}
		return false, value, true, nil
	}
	return false, nil, false, err
}

func (f *frame) arithmetic(op OpCode) error {
	operands, err := f.popN(2)
	if err != nil {
		return err
	}
	a, err := f.number(operands[0])
	if err != nil {
		return err
	}
	b, err := f.number(operands[1])
	if err != nil {
		return err
	}
	var res uint256.Int
	switch op {
	case ADD:
		if _, overflow := res.AddOverflow(a, b); overflow {
			return f.trap("addition overflow")
		}
	case SUB:
		if _, underflow := res.SubOverflow(a, b); underflow {
			return f.trap("subtraction underflow")
		}
	case LT:
		return f.push(boolean(a.Lt(b)))
	}
	return f.push(res.Bytes())
}

// callContract pops the target contract ID, the function name and the
// given number of arguments and runs the nested call. The callee sees the
// calling contract as its caller.
func (f *frame) callContract(numArgs int) ([]byte, error) {
	target, err := f.pop()
	if err != nil {
		return nil, err
	}
	if len(target) != common.HashSize {
		return nil, f.trap("invalid contract id of %d bytes", len(target))
	}
	name, err := f.pop()
	if err != nil {
		return nil, err
	}
	args, err := f.popN(numArgs)
	if err != nil {
		return nil, err
	}
	return run(f.host, f.meter, Call{
		Caller:   f.call.Contract.Hex(),
		Contract: common.Hash(target),
		Function: string(name),
		Args:     args,
	}, f.depth+1)
}
