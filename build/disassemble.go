// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package build

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/thefifthdev/stellarforge/runtime"
)

// Disassemble renders a contract binary as a human readable listing.
func Disassemble(binary []byte) (string, error) {
	program, err := runtime.Decode(binary)
	if err != nil {
		return "", err
	}
	entries := map[int][]string{}
	for _, fn := range program.Functions {
		entries[int(fn.Offset)] = append(entries[int(fn.Offset)], fn.Name)
	}

	var out strings.Builder
	fmt.Fprintf(&out, "; toolchain %s, optimization %d, %d bytes of code\n", program.Toolchain, program.Optimization, len(program.Code))
	for _, fn := range program.Functions {
		fmt.Fprintf(&out, "; func %s(%s) @%04x\n", fn.Name, strings.Join(fn.Params, ", "), fn.Offset)
	}
	for pc := 0; pc < len(program.Code); {
		instruction, err := runtime.DecodeInstruction(program.Code, pc)
		if err != nil {
			return "", err
		}
		for _, name := range entries[pc] {
			fmt.Fprintf(&out, "%s:\n", name)
		}
		fmt.Fprintf(&out, "  %04x  %s", pc, instruction.Op)
		switch instruction.Op {
		case runtime.PUSH:
			fmt.Fprintf(&out, " %s", renderValue(instruction.Operand))
		case runtime.ARG, runtime.CALL:
			fmt.Fprintf(&out, " %d", instruction.Operand[0])
		case runtime.JUMP, runtime.JUMPI:
			fmt.Fprintf(&out, " @%04x", instruction.Target())
		}
		out.WriteByte('\n')
		pc = instruction.Next
	}
	return out.String(), nil
}

func renderValue(value []byte) string {
	if len(value) > 0 && utf8.Valid(value) {
		printable := true
		for _, r := range string(value) {
			if !strconv.IsPrint(r) {
				printable = false
				break
			}
		}
		if printable {
			return strconv.Quote(string(value))
		}
	}
	if len(value) == 0 {
		return "0x"
	}
	return hexutil.Encode(value)
}
