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

// Limits is the execution budget of a contract call.
type Limits struct {
	Steps  uint64 `json:"steps"`
	Memory uint64 `json:"memory"`
}

// Meter tracks the consumption of an execution budget. It is shared by all
// frames of a call tree.
type Meter struct {
	limits Limits
	steps  uint64
	memory uint64
}

func NewMeter(limits Limits) *Meter {
	return &Meter{limits: limits}
}

// Steps is the number of steps consumed so far.
func (m *Meter) Steps() uint64 {
	return m.steps
}

// Memory is the number of memory bytes charged so far.
func (m *Meter) Memory() uint64 {
	return m.memory
}

func (m *Meter) chargeSteps(n uint64) error {
	if n > m.limits.Steps-m.steps {
		m.steps = m.limits.Steps
		return fmt.Errorf("%w: step budget of %d exceeded", ErrExhausted, m.limits.Steps)
	}
	m.steps += n
	return nil
}

func (m *Meter) chargeMemory(n uint64) error {
	if n > m.limits.Memory-m.memory {
		m.memory = m.limits.Memory
		return fmt.Errorf("%w: memory budget of %d bytes exceeded", ErrExhausted, m.limits.Memory)
	}
	m.memory += n
	return nil
}
