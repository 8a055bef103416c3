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

import "fmt"

// OpCode is a single instruction of the contract runtime.
type OpCode byte

const (
	NOP OpCode = iota
	STOP
	PUSH // <uvarint length> <data>
	ARG  // <index byte>
	POP
	DUP
	SWAP
	LOAD
	STORE
	DELETE
	TRANSFER
	BALANCE
	CALLER
	SELF
	ADD
	SUB
	EQ
	LT
	NOT
	JUMP  // <uint32 target>
	JUMPI // <uint32 target>
	CALL  // <argument count byte>
	REVERT
	RETURN
	numOpCodes
)

var opCodeNames = [numOpCodes]string{
	NOP:      "nop",
	STOP:     "stop",
	PUSH:     "push",
	ARG:      "arg",
	POP:      "pop",
	DUP:      "dup",
	SWAP:     "swap",
	LOAD:     "load",
	STORE:    "store",
	DELETE:   "delete",
	TRANSFER: "transfer",
	BALANCE:  "balance",
	CALLER:   "caller",
	SELF:     "self",
	ADD:      "add",
	SUB:      "sub",
	EQ:       "eq",
	LT:       "lt",
	NOT:      "not",
	JUMP:     "jump",
	JUMPI:    "jumpi",
	CALL:     "call",
	REVERT:   "revert",
	RETURN:   "return",
}

// stepCosts lists the step price of each instruction.
var stepCosts = [numOpCodes]uint64{
	NOP:      1,
	STOP:     1,
	PUSH:     1,
	ARG:      1,
	POP:      1,
	DUP:      1,
	SWAP:     1,
	LOAD:     5,
	STORE:    20,
	DELETE:   20,
	TRANSFER: 50,
	BALANCE:  5,
	CALLER:   1,
	SELF:     1,
	ADD:      3,
	SUB:      3,
	EQ:       3,
	LT:       3,
	NOT:      2,
	JUMP:     2,
	JUMPI:    3,
	CALL:     100,
	REVERT:   1,
	RETURN:   1,
}

func (op OpCode) String() string {
	if op < numOpCodes {
		return opCodeNames[op]
	}
	return fmt.Sprintf("op(0x%02x)", byte(op))
}

// ParseOpCode resolves the mnemonic of an instruction.
func ParseOpCode(name string) (OpCode, bool) {
	for i, cur := range opCodeNames {
		if cur == name {
			return OpCode(i), true
		}
	}
	return 0, false
}

// Size of fixed-width operands.
const (
	jumpOperandSize = 4
	byteOperandSize = 1
)
