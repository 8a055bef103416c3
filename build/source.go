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

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/thefifthdev/stellarforge/runtime"
)

// Assembly sources consist of function blocks:
//
//	; comment
//	func transfer from to amount
//	    arg from
//	    arg to
//	    arg amount
//	    transfer
//	    push 1
//	    return
//	end
//
// Labels are written as `name:` and are local to their function.

type function struct {
	name   string
	params []string
	body   []item
	file   string
	line   int
}

// item is either an instruction or a label definition.
type item struct {
	op      runtime.OpCode
	operand []byte
	target  string // < label referenced by a jump
	label   string // < label defined at this position
	line    int
}

func (i item) isLabel() bool {
	return i.label != ""
}

type parser struct {
	file        string
	diagnostics []string
}

func (p *parser) errorf(line int, format string, args ...any) {
	p.diagnostics = append(p.diagnostics, fmt.Sprintf("%s:%d: %s", p.file, line, fmt.Sprintf(format, args...)))
}

func (p *parser) parse(source string) []*function {
	var functions []*function
	var current *function
	lines := strings.Split(source, "\n")
	for i, text := range lines {
		line := i + 1
		tokens, err := tokenize(text)
		if err != nil {
			p.errorf(line, "%v", err)
			continue
		}
		if len(tokens) == 0 {
			continue
		}
		keyword := tokens[0]
		switch {
		case keyword == "func":
			if current != nil {
				p.errorf(line, "function %s is not terminated by end", current.name)
			}
			if len(tokens) < 2 {
				p.errorf(line, "missing function name")
				current = nil
				continue
			}
			current = &function{name: tokens[1], params: tokens[2:], file: p.file, line: line}
			p.checkIdentifiers(line, tokens[1:])
		case keyword == "end":
			if current == nil {
				p.errorf(line, "end outside of function")
				continue
			}
			if len(tokens) > 1 {
				p.errorf(line, "unexpected tokens after end")
			}
			functions = append(functions, current)
			current = nil
		case current == nil:
			p.errorf(line, "instruction %s outside of function", keyword)
		case strings.HasSuffix(keyword, ":") && len(tokens) == 1:
			label := strings.TrimSuffix(keyword, ":")
			p.checkIdentifiers(line, []string{label})
			current.body = append(current.body, item{label: label, line: line})
		default:
			if next, ok := p.instruction(current, line, tokens); ok {
				current.body = append(current.body, next)
			}
		}
	}
	if current != nil {
		p.errorf(len(lines), "function %s is not terminated by end", current.name)
	}
	return functions
}

func (p *parser) checkIdentifiers(line int, names []string) {
	for _, name := range names {
		if !isIdentifier(name) {
			p.errorf(line, "invalid identifier %q", name)
		}
	}
}

func isIdentifier(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for i, r := range name {
		letter := r == '_' || ('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z')
		digit := '0' <= r && r <= '9'
		if !letter && !(digit && i > 0) {
			return false
		}
	}
	return true
}

func (p *parser) instruction(fn *function, line int, tokens []string) (item, bool) {
	op, found := runtime.ParseOpCode(strings.ToLower(tokens[0]))
	if !found {
		p.errorf(line, "unknown instruction %q", tokens[0])
		return item{}, false
	}
	res := item{op: op, line: line}
	args := tokens[1:]
	expected := 0
	if op == runtime.PUSH || op == runtime.ARG || op == runtime.CALL || op == runtime.JUMP || op == runtime.JUMPI {
		expected = 1
	}
	if len(args) != expected {
		p.errorf(line, "%v expects %d operand(s), got %d", op, expected, len(args))
		return item{}, false
	}

	switch op {
	case runtime.PUSH:
		value, err := parseValue(args[0])
		if err != nil {
			p.errorf(line, "%v", err)
			return item{}, false
		}
		if len(value) > runtime.MaxValueSize {
			p.errorf(line, "constant of %d bytes exceeds limit of %d", len(value), runtime.MaxValueSize)
			return item{}, false
		}
		res.operand = value
	case runtime.ARG:
		index := -1
		for i, param := range fn.params {
			if param == args[0] {
				index = i
			}
		}
		if index < 0 {
			n, err := strconv.ParseUint(args[0], 10, 8)
			if err != nil || int(n) >= len(fn.params) {
				p.errorf(line, "unknown parameter %q of function %s", args[0], fn.name)
				return item{}, false
			}
			index = int(n)
		}
		res.operand = []byte{byte(index)}
	case runtime.CALL:
		n, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			p.errorf(line, "invalid argument count %q", args[0])
			return item{}, false
		}
		res.operand = []byte{byte(n)}
	case runtime.JUMP, runtime.JUMPI:
		res.target = args[0]
	}
	return res, true
}

// parseValue reads a constant: a quoted string, 0x-prefixed hex bytes or
// an unsigned decimal number.
func parseValue(token string) ([]byte, error) {
	switch {
	case strings.HasPrefix(token, `"`):
		text, err := strconv.Unquote(token)
		if err != nil {
			return nil, fmt.Errorf("invalid string constant %s", token)
		}
		return []byte(text), nil
	case strings.HasPrefix(token, "0x"):
		data, err := hexutil.Decode(token)
		if err != nil {
			return nil, fmt.Errorf("invalid hex constant %s: %v", token, err)
		}
		return data, nil
	default:
		value, err := uint256.FromDecimal(token)
		if err != nil {
			return nil, fmt.Errorf("invalid numeric constant %s", token)
		}
		return value.Bytes(), nil
	}
}

// tokenize splits a line into whitespace separated tokens. Double quoted
// strings form a single token, `;` starts a comment.
func tokenize(line string) ([]string, error) {
	var tokens []string
	for i := 0; i < len(line); {
		c := line[i]
		switch {
		case c == ';':
			return tokens, nil
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '"':
			end := i + 1
			for ; end < len(line); end++ {
				if line[end] == '\\' {
					end++
					continue
				}
				if line[end] == '"' {
					break
				}
			}
			if end >= len(line) {
				return nil, fmt.Errorf("unterminated string")
			}
			tokens = append(tokens, line[i:end+1])
			i = end + 1
		default:
			end := i
			for end < len(line) && !strings.ContainsRune(" \t\r;\"", rune(line[end])) {
				end++
			}
			tokens = append(tokens, line[i:end])
			i = end
		}
	}
	return tokens, nil
}
