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
	"fmt"
	"slices"
	"strings"

	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/runtime"
)

//go:generate mockgen -source builder.go -destination builder_mocks.go -package build

// Toolchain versions understood by the Assembler. Binaries record the
// version they were produced with, so different versions yield different
// hashes for the same source.
const (
	ToolchainV1_0    = "sfa-1.0.0"
	ToolchainV1_1    = "sfa-1.1.0"
	DefaultToolchain = ToolchainV1_1
)

var toolchains = []string{ToolchainV1_0, ToolchainV1_1}

// MaxOptimization is the highest supported optimization level.
const MaxOptimization = 2

// Config pins everything that influences the output of a build.
type Config struct {
	Toolchain    string `json:"toolchain"`
	Optimization int    `json:"optimization"`
}

// DefaultConfig is the configuration used when nothing else is pinned.
func DefaultConfig() Config {
	return Config{Toolchain: DefaultToolchain, Optimization: 1}
}

func (c Config) String() string {
	return fmt.Sprintf("%s/O%d", c.Toolchain, c.Optimization)
}

// Check verifies that the configuration can be served.
func (c Config) Check() error {
	if !slices.Contains(toolchains, c.Toolchain) {
		return &Error{Diagnostics: []string{fmt.Sprintf("toolchain %q is not available, supported: %s", c.Toolchain, strings.Join(toolchains, ", "))}}
	}
	if c.Optimization < 0 || c.Optimization > MaxOptimization {
		return &Error{Diagnostics: []string{fmt.Sprintf("optimization level %d out of range [0,%d]", c.Optimization, MaxOptimization)}}
	}
	return nil
}

// Artifact is the result of a build.
type Artifact struct {
	Binary    []byte
	Hash      common.Hash
	Functions []runtime.Function
	Sources   []string // < relative paths of the compiled files, sorted
	Config    Config
}

// Builder produces contract binaries from source directories. Builds must
// be deterministic: identical sources and configuration produce
// byte-identical binaries.
type Builder interface {
	Build(ctx context.Context, path string, config Config) (*Artifact, error)
}

// Error carries the compiler output of a failed build.
type Error struct {
	Diagnostics []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v:\n%s", common.ErrBuildFailed, e.Output())
}

// Output is the compiler output, one diagnostic per line.
func (e *Error) Output() string {
	return strings.Join(e.Diagnostics, "\n")
}

func (e *Error) Unwrap() error {
	return common.ErrBuildFailed
}
