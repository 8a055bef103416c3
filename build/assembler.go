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
	"context"
	"encoding/binary"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/runtime"
)

// SourceExtension is the file extension of assembly sources.
const SourceExtension = ".sfa"

const maxDiagnostics = 20

// Assembler is the deterministic Builder for assembly sources. Sources are
// read in sorted relative-path order and nothing but the toolchain version
// and optimization level is recorded besides the code, so the output only
// depends on the source text and the configuration.
type Assembler struct {
	logger log.Logger
}

func NewAssembler(logger log.Logger) *Assembler {
	if logger == nil {
		logger = log.Root()
	}
	return &Assembler{logger: logger}
}

func (a *Assembler) Build(ctx context.Context, path string, config Config) (*Artifact, error) {
	if err := config.Check(); err != nil {
		return nil, err
	}
	files, err := collectSources(path)
	if err != nil {
		return nil, err
	}

	p := &parser{}
	var functions []*function
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(file.path)
		if err != nil {
			return nil, &Error{Diagnostics: []string{fmt.Sprintf("%s: %v", file.name, err)}}
		}
		p.file = file.name
		functions = append(functions, p.parse(string(data))...)
	}

	program := &runtime.Program{
		Toolchain:    config.Toolchain,
		Optimization: uint8(config.Optimization),
	}
	assemble(p, program, functions, config.Optimization)
	if len(p.diagnostics) > 0 {
		diagnostics := p.diagnostics
		if len(diagnostics) > maxDiagnostics {
			diagnostics = append(diagnostics[:maxDiagnostics:maxDiagnostics], fmt.Sprintf("%d more errors", len(p.diagnostics)-maxDiagnostics))
		}
		return nil, &Error{Diagnostics: diagnostics}
	}

	binary := program.Encode()
	if _, err := runtime.Decode(binary); err != nil {
		return nil, &Error{Diagnostics: []string{fmt.Sprintf("internal error: produced invalid binary: %v", err)}}
	}
	names := make([]string, len(files))
	for i, file := range files {
		names[i] = file.name
	}
	artifact := &Artifact{
		Binary:    binary,
		Hash:      common.Keccak256(binary),
		Functions: program.Functions,
		Sources:   names,
		Config:    config,
	}
	a.logger.Debug("Built contract", "path", path, "config", config, "files", len(files), "size", len(binary), "hash", artifact.Hash)
	return artifact, nil
}

type sourceFile struct {
	name string // < slash separated path relative to the build root
	path string
}

// collectSources lists the assembly files below root in sorted order. A
// root naming a single file builds just that file. Hidden entries are
// skipped.
func collectSources(root string) ([]sourceFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &Error{Diagnostics: []string{fmt.Sprintf("cannot read sources: %v", err)}}
	}
	if !info.IsDir() {
		return []sourceFile{{name: filepath.Base(root), path: root}}, nil
	}
	var files []sourceFile
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(entry.Name(), ".") {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), SourceExtension) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, sourceFile{name: filepath.ToSlash(rel), path: path})
		return nil
	})
	if err != nil {
		return nil, &Error{Diagnostics: []string{fmt.Sprintf("cannot read sources: %v", err)}}
	}
	if len(files) == 0 {
		return nil, &Error{Diagnostics: []string{fmt.Sprintf("no %s sources found in %s", SourceExtension, filepath.Base(root))}}
	}
	slices.SortFunc(files, func(a, b sourceFile) int { return strings.Compare(a.name, b.name) })
	return files, nil
}

// assemble lays out all functions into one code section, resolving labels
// to absolute code offsets.
func assemble(p *parser, program *runtime.Program, functions []*function, level int) {
	seen := map[string]*function{}
	for _, fn := range functions {
		if first, found := seen[fn.name]; found {
			p.diagnostics = append(p.diagnostics, fmt.Sprintf("%s:%d: function %s redeclared, first declared at %s:%d", fn.file, fn.line, fn.name, first.file, first.line))
			continue
		}
		seen[fn.name] = fn
		if len(fn.params) > 16 {
			p.diagnostics = append(p.diagnostics, fmt.Sprintf("%s:%d: function %s has more than 16 parameters", fn.file, fn.line, fn.name))
		}

		body := optimize(fn.body, level)
		if len(body) == 0 || !terminates(body[len(body)-1]) {
			body = append(body, item{op: runtime.STOP, line: fn.line})
		}

		start := uint32(len(program.Code))
		labels := map[string]uint32{}
		offset := start
		for _, cur := range body {
			if cur.isLabel() {
				if _, found := labels[cur.label]; found {
					p.diagnostics = append(p.diagnostics, fmt.Sprintf("%s:%d: label %s redefined", fn.file, cur.line, cur.label))
				}
				labels[cur.label] = offset
				continue
			}
			offset += uint32(size(cur))
		}

		for _, cur := range body {
			if cur.isLabel() {
				continue
			}
			program.Code = append(program.Code, byte(cur.op))
			switch cur.op {
			case runtime.PUSH:
				program.Code = binary.AppendUvarint(program.Code, uint64(len(cur.operand)))
				program.Code = append(program.Code, cur.operand...)
			case runtime.JUMP, runtime.JUMPI:
				target, found := labels[cur.target]
				if !found {
					p.diagnostics = append(p.diagnostics, fmt.Sprintf("%s:%d: undefined label %s", fn.file, cur.line, cur.target))
				}
				program.Code = binary.BigEndian.AppendUint32(program.Code, target)
			default:
				program.Code = append(program.Code, cur.operand...)
			}
		}
		program.Functions = append(program.Functions, runtime.Function{
			Name:   fn.name,
			Params: fn.params,
			Offset: start,
		})
	}
	if len(functions) == 0 {
		p.diagnostics = append(p.diagnostics, "no functions defined")
	}
}

func size(i item) int {
	switch i.op {
	case runtime.PUSH:
		return 1 + len(binary.AppendUvarint(nil, uint64(len(i.operand)))) + len(i.operand)
	case runtime.JUMP, runtime.JUMPI:
		return 5
	case runtime.ARG, runtime.CALL:
		return 2
	}
	return 1
}

func terminates(i item) bool {
	if i.isLabel() {
		return false
	}
	switch i.op {
	case runtime.STOP, runtime.RETURN, runtime.REVERT, runtime.JUMP:
		return true
	}
	return false
}

// optimize applies peephole optimizations for the given level:
//   - level 1 drops NOPs and PUSH/POP pairs,
//   - level 2 additionally removes code that can not be reached because it
//     follows an unconditional control transfer and precedes the next label.
func optimize(body []item, level int) []item {
	if level < 1 {
		return slices.Clone(body)
	}
	res := make([]item, 0, len(body))
	for i := 0; i < len(body); i++ {
		cur := body[i]
		if !cur.isLabel() && cur.op == runtime.NOP {
			continue
		}
		if !cur.isLabel() && cur.op == runtime.PUSH && i+1 < len(body) && !body[i+1].isLabel() && body[i+1].op == runtime.POP {
			i++
			continue
		}
		res = append(res, cur)
	}
	if level < 2 {
		return res
	}
	reachable := res[:0:0]
	dead := false
	for _, cur := range res {
		if cur.isLabel() {
			dead = false
		}
		if !dead {
			reachable = append(reachable, cur)
		}
		if terminates(cur) {
			dead = true
		}
	}
	return reachable
}
