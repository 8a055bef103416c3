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
	"encoding/binary"
	"fmt"

	"github.com/thefifthdev/stellarforge/common"
)

// Magic identifies contract binaries.
const Magic = "SFC1"

const (
	// MaxValueSize bounds the size of a single pushed constant.
	MaxValueSize = 4096
	// MaxFunctions bounds the number of entry points of a program.
	MaxFunctions = 256
	maxNameSize  = 64
	maxParams    = 16
)

// Function is an entry point of a program.
type Function struct {
	Name   string
	Params []string
	Offset uint32
}

// Program is a decoded contract binary.
type Program struct {
	Toolchain    string
	Optimization uint8
	Functions    []Function
	Code         []byte
}

// Function looks up an entry point by name.
func (p *Program) Function(name string) (Function, bool) {
	for _, fn := range p.Functions {
		if fn.Name == name {
			return fn, true
		}
	}
	return Function{}, false
}

// Encode produces the binary form of the program. The encoding of equal
// programs is byte-identical.
func (p *Program) Encode() []byte {
	var buf []byte
	buf = append(buf, Magic...)
	buf = appendString(buf, p.Toolchain)
	buf = append(buf, p.Optimization)
	buf = binary.AppendUvarint(buf, uint64(len(p.Functions)))
	for _, fn := range p.Functions {
		buf = appendString(buf, fn.Name)
		buf = binary.AppendUvarint(buf, uint64(len(fn.Params)))
		for _, param := range fn.Params {
			buf = appendString(buf, param)
		}
		buf = binary.AppendUvarint(buf, uint64(fn.Offset))
	}
	buf = binary.AppendUvarint(buf, uint64(len(p.Code)))
	return append(buf, p.Code...)
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// Decode parses and validates a contract binary. Every instruction of the
// code section is checked to be well formed and every jump to target the
// start of an instruction.
func Decode(data []byte) (*Program, error) {
	if !bytes.HasPrefix(data, []byte(Magic)) {
		return nil, fmt.Errorf("%w: missing %s header", common.ErrInvalidCode, Magic)
	}
	r := &reader{data: data, pos: len(Magic)}
	program := &Program{}
	program.Toolchain = r.string()
	program.Optimization = r.byte()
	numFunctions := r.uvarint(MaxFunctions)
	names := map[string]bool{}
	for i := uint64(0); i < numFunctions && r.err == nil; i++ {
		fn := Function{Name: r.string()}
		numParams := r.uvarint(maxParams)
		for j := uint64(0); j < numParams && r.err == nil; j++ {
			fn.Params = append(fn.Params, r.string())
		}
		fn.Offset = uint32(r.uvarint(1<<32 - 1))
		if r.err == nil && (fn.Name == "" || names[fn.Name]) {
			r.fail("invalid or duplicate function name %q", fn.Name)
		}
		names[fn.Name] = true
		program.Functions = append(program.Functions, fn)
	}
	size := r.uvarint(uint64(len(data)))
	program.Code = r.bytes(size)
	if r.err == nil && r.pos != len(data) {
		r.fail("%d trailing bytes", len(data)-r.pos)
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidCode, r.err)
	}
	if err := program.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidCode, err)
	}
	return program, nil
}

func (p *Program) validate() error {
	starts := map[uint32]bool{}
	var jumps []uint32
	for pc := 0; pc < len(p.Code); {
		instruction, err := DecodeInstruction(p.Code, pc)
		if err != nil {
			return err
		}
		starts[uint32(pc)] = true
		if instruction.Op == JUMP || instruction.Op == JUMPI {
			jumps = append(jumps, instruction.Target())
		}
		pc = instruction.Next
	}
	for _, target := range jumps {
		if !starts[target] {
			return fmt.Errorf("jump to invalid target %d", target)
		}
	}
	for _, fn := range p.Functions {
		if !starts[fn.Offset] {
			return fmt.Errorf("function %s starts at invalid offset %d", fn.Name, fn.Offset)
		}
	}
	return nil
}

// Instruction is a decoded instruction with its operand.
type Instruction struct {
	Op      OpCode
	Operand []byte
	Next    int // < offset of the following instruction
}

// Target is the destination of a jump instruction.
func (i Instruction) Target() uint32 {
	return binary.BigEndian.Uint32(i.Operand)
}

// DecodeInstruction decodes the instruction starting at pc.
func DecodeInstruction(code []byte, pc int) (Instruction, error) {
	op := OpCode(code[pc])
	if op >= numOpCodes {
		return Instruction{}, fmt.Errorf("invalid opcode 0x%02x at %d", byte(op), pc)
	}
	next := pc + 1
	var size int
	switch op {
	case PUSH:
		length, n := binary.Uvarint(code[next:])
		if n <= 0 || length > MaxValueSize {
			return Instruction{}, fmt.Errorf("invalid push length at %d", pc)
		}
		next += n
		size = int(length)
	case ARG, CALL:
		size = byteOperandSize
	case JUMP, JUMPI:
		size = jumpOperandSize
	}
	if next+size > len(code) {
		return Instruction{}, fmt.Errorf("truncated %v instruction at %d", op, pc)
	}
	return Instruction{Op: op, Operand: code[next : next+size], Next: next + size}, nil
}

type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf(format, args...)
	}
}

func (r *reader) uvarint(limit uint64) uint64 {
	if r.err != nil {
		return 0
	}
	value, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		r.fail("invalid varint at %d", r.pos)
		return 0
	}
	if value > limit {
		r.fail("value %d at %d exceeds limit %d", value, r.pos, limit)
		return 0
	}
	r.pos += n
	return value
}

func (r *reader) byte() byte {
	res := r.bytes(1)
	if len(res) == 0 {
		return 0
	}
	return res[0]
}

func (r *reader) bytes(size uint64) []byte {
	if r.err != nil {
		return nil
	}
	if uint64(len(r.data)-r.pos) < size {
		r.fail("truncated binary at %d", r.pos)
		return nil
	}
	res := bytes.Clone(r.data[r.pos : r.pos+int(size)])
	r.pos += int(size)
	return res
}

func (r *reader) string() string {
	return string(r.bytes(r.uvarint(maxNameSize)))
}
