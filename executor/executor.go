// Copyright (c) 2025 Sonic Operations Ltd
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at soniclabs.com/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/0xsoniclabs/tracy"
	"github.com/ethereum/go-ethereum/log"
	"github.com/thefifthdev/stellarforge/common"
	"github.com/thefifthdev/stellarforge/common/amount"
	"github.com/thefifthdev/stellarforge/ledger"
	"github.com/thefifthdev/stellarforge/ledger/registry"
	"github.com/thefifthdev/stellarforge/runtime"
)

// CostModel determines the charge for deploying a binary.
type CostModel struct {
	Base    amount.Amount `json:"base"`
	PerByte amount.Amount `json:"perByte"`
}

// Estimate computes the cost of deploying a binary of the given size.
func (m CostModel) Estimate(size int) (amount.Amount, error) {
	variable, overflow := m.PerByte.Mul(amount.New(uint64(size)))
	if overflow {
		return amount.Amount{}, fmt.Errorf("%w: deploy cost overflows", common.ErrInvalidAmount)
	}
	total, overflow := m.Base.Add(variable)
	if overflow {
		return amount.Amount{}, fmt.Errorf("%w: deploy cost overflows", common.ErrInvalidAmount)
	}
	return total, nil
}

// Config bounds the resources transactions may claim.
type Config struct {
	MaxLimits     Limits    `json:"maxLimits"`
	DefaultLimits Limits    `json:"defaultLimits"`
	Deploy        CostModel `json:"deploy"`
	MaxCodeSize   int       `json:"maxCodeSize"`
}

func DefaultConfig() Config {
	return Config{
		MaxLimits:     Limits{Steps: 10_000_000, Memory: 64 << 20},
		DefaultLimits: Limits{Steps: 1_000_000, Memory: 16 << 20},
		Deploy:        CostModel{Base: amount.New(100)},
		MaxCodeSize:   64 << 10,
	}
}

// Check reports inconsistent configurations.
func (c Config) Check() error {
	if c.DefaultLimits.Steps > c.MaxLimits.Steps || c.DefaultLimits.Memory > c.MaxLimits.Memory {
		return fmt.Errorf("default limits %+v exceed maximum limits %+v", c.DefaultLimits, c.MaxLimits)
	}
	if c.MaxCodeSize <= 0 {
		return fmt.Errorf("invalid maximum code size %d", c.MaxCodeSize)
	}
	return nil
}

// Executor validates transactions and applies their effects to a ledger.
// It is safe for concurrent use; commits are serialized by the ledger.
type Executor struct {
	ledger *ledger.Engine
	config Config
	logger log.Logger
}

// New creates an executor on top of the given ledger. A nil logger selects
// the root logger.
func New(engine *ledger.Engine, config Config, logger log.Logger) *Executor {
	if logger == nil {
		logger = log.Root()
	}
	return &Executor{
		ledger: engine,
		config: config,
		logger: logger,
	}
}

func (e *Executor) Config() Config {
	return e.config
}

func (e *Executor) Ledger() *ledger.Engine {
	return e.ledger
}

// Execute validates the transaction and, if it succeeds, applies its
// effects as a single ledger step. Rejected transactions produce a
// *Failure and leave the ledger unchanged; in particular they do not
// consume the source's sequence number.
func (e *Executor) Execute(ctx context.Context, tx *Transaction) (*Receipt, error) {
	// Early rejection against the current state, running concurrently with
	// other submissions. The checks are repeated on the exact prior state.
	if _, err := e.check(e.ledger.Current(), tx, true); err != nil {
		e.logRejected(tx, err)
		return nil, err
	}

	var receipt *Receipt
	snapshot, err := e.ledger.Update(ctx, func(prior *ledger.Snapshot) (*ledger.Delta, error) {
		limits, err := e.check(prior, tx, true)
		if err != nil {
			return nil, err
		}
		var delta *ledger.Delta
		receipt, delta, err = e.dispatch(prior, tx, limits)
		return delta, err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		err = asFailure(err)
		e.logRejected(tx, err)
		return nil, err
	}
	receipt.Ledger = snapshot.Sequence()
	e.logger.Debug("Transaction applied", "kind", tx.Kind, "source", tx.Source, "sequence", tx.Sequence, "ledger", receipt.Ledger)
	return receipt, nil
}

// Simulate runs the transaction against the current snapshot without
// committing anything. The claimed sequence number is not checked, so a
// transaction can be simulated before it is signed off.
func (e *Executor) Simulate(ctx context.Context, tx *Transaction) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snapshot := e.ledger.Current()
	limits, err := e.check(snapshot, tx, false)
	if err != nil {
		return nil, err
	}
	receipt, _, err := e.dispatch(snapshot, tx, limits)
	if err != nil {
		return nil, asFailure(err)
	}
	receipt.Ledger = snapshot.Sequence()
	return receipt, nil
}

func (e *Executor) logRejected(tx *Transaction, err error) {
	e.logger.Debug("Transaction rejected", "kind", tx.Kind, "source", tx.Source, "sequence", tx.Sequence, "err", err)
}

// check validates the source, the claimed sequence number and the limits
// of a transaction and returns the limits it will run with.
func (e *Executor) check(snapshot *ledger.Snapshot, tx *Transaction, sequence bool) (Limits, error) {
	if tx == nil {
		return Limits{}, fail(common.ErrInvalidTransaction, "missing transaction")
	}
	expected, err := snapshot.NextSequence(tx.Source)
	if err != nil {
		return Limits{}, fail(common.ErrUnknownAccount, "source account %q does not exist", tx.Source)
	}
	if sequence && tx.Sequence != expected {
		return Limits{}, fail(common.ErrSequenceMismatch, "account %q claimed sequence %d, expected %d", tx.Source, tx.Sequence, expected)
	}

	limits := tx.Limits
	if limits.Steps == 0 {
		limits.Steps = e.config.DefaultLimits.Steps
	}
	if limits.Memory == 0 {
		limits.Memory = e.config.DefaultLimits.Memory
	}
	if limits.Steps > e.config.MaxLimits.Steps {
		return Limits{}, fail(common.ErrResourceLimitExceeded, "step limit %d exceeds maximum of %d", limits.Steps, e.config.MaxLimits.Steps)
	}
	if limits.Memory > e.config.MaxLimits.Memory {
		return Limits{}, fail(common.ErrResourceLimitExceeded, "memory limit %d exceeds maximum of %d", limits.Memory, e.config.MaxLimits.Memory)
	}

	switch tx.Kind {
	case Fund, Deploy, Invoke, Archive:
	default:
		return Limits{}, fail(common.ErrInvalidTransaction, "unsupported transaction kind %v", tx.Kind)
	}
	return limits, nil
}

// dispatch computes the effects of a validated transaction. The snapshot
// is not modified.
func (e *Executor) dispatch(snapshot *ledger.Snapshot, tx *Transaction, limits Limits) (*Receipt, *ledger.Delta, error) {
	state := newHost(snapshot, e.ledger.Registry())
	receipt := &Receipt{
		TxHash:   tx.Hash(),
		Kind:     tx.Kind,
		Source:   tx.Source,
		Sequence: tx.Sequence,
	}

	var codes []registry.ContractCode
	var err error
	switch tx.Kind {
	case Fund:
		err = e.fund(state, tx)
	case Deploy:
		codes, err = e.deploy(state, tx, receipt)
	case Invoke:
		err = e.invoke(state, tx, limits, receipt)
	case Archive:
		err = e.archive(state, tx)
	}
	if err != nil {
		return nil, nil, err
	}

	source, err := state.account(tx.Source)
	if err != nil {
		return nil, nil, err
	}
	source.Sequence++
	state.putAccount(source)

	delta := state.delta()
	delta.Codes = codes
	receipt.Accounts, receipt.Instances = delta.Touched()
	return receipt, delta, nil
}

// fund mints the amount into the destination. The devnet faucet is not
// debited.
func (e *Executor) fund(state *host, tx *Transaction) error {
	destination, err := state.account(tx.To)
	if err != nil {
		return fail(common.ErrUnknownAccount, "fund destination %q does not exist", tx.To)
	}
	balance, overflow := destination.Balance.Add(tx.Amount)
	if overflow {
		return fail(common.ErrInvalidAmount, "balance of %q would overflow by funding %v", tx.To, tx.Amount)
	}
	destination.Balance = balance
	state.putAccount(destination)
	return nil
}

func (e *Executor) deploy(state *host, tx *Transaction, receipt *Receipt) ([]registry.ContractCode, error) {
	if len(tx.Binary) == 0 {
		return nil, fail(common.ErrInvalidCode, "empty contract binary")
	}
	if len(tx.Binary) > e.config.MaxCodeSize {
		return nil, fail(common.ErrResourceLimitExceeded, "binary of %d bytes exceeds maximum code size of %d", len(tx.Binary), e.config.MaxCodeSize)
	}
	program, err := runtime.Decode(tx.Binary)
	if err != nil {
		return nil, asFailure(err)
	}

	id := registry.Hash(tx.Binary)
	if _, err := state.peek(id); err == nil {
		return nil, fail(common.ErrContractExists, "instance %v already exists", id)
	}

	cost, err := e.config.Deploy.Estimate(len(tx.Binary))
	if err != nil {
		return nil, err
	}
	deployer, err := state.account(tx.Source)
	if err != nil {
		return nil, err
	}
	remaining, underflow := deployer.Balance.Sub(cost)
	if underflow {
		short, _ := cost.Sub(deployer.Balance)
		return nil, fail(common.ErrInsufficientBalance, "deploy costs %v, balance of %q is %v, short by %v", cost, tx.Source, deployer.Balance, short)
	}
	deployer.Balance = remaining
	state.putAccount(deployer)

	var codes []registry.ContractCode
	if !state.codes.Contains(id) {
		iface := make([]registry.Function, 0, len(program.Functions))
		for _, fn := range program.Functions {
			iface = append(iface, registry.Function{Name: fn.Name, Params: fn.Params})
		}
		codes = append(codes, registry.ContractCode{
			Hash:      id,
			Binary:    tx.Binary,
			Interface: iface,
			Deployer:  tx.Source,
		})
	}
	state.instances[id] = ledger.NewInstance(id, id, tx.Source)

	receipt.ContractID = id
	receipt.Cost = cost
	return codes, nil
}

func (e *Executor) invoke(state *host, tx *Transaction, limits Limits, receipt *Receipt) error {
	zone := tracy.ZoneBegin("executor::invoke")
	defer zone.End()

	if _, err := state.active(tx.Contract); err != nil {
		return asFailure(err)
	}
	meter := runtime.NewMeter(limits)
	result, err := runtime.Run(state, meter, runtime.Call{
		Caller:   tx.Source,
		Contract: tx.Contract,
		Function: tx.Function,
		Args:     tx.Args,
	})
	receipt.Steps = meter.Steps()
	receipt.Memory = meter.Memory()
	if err != nil {
		return asFailure(err)
	}
	receipt.Return = result
	return nil
}

// archive retires an instance. Only the owner may archive it.
func (e *Executor) archive(state *host, tx *Transaction) error {
	cur, err := state.active(tx.Contract)
	if err != nil {
		return asFailure(err)
	}
	if cur.Owner != tx.Source {
		return fail(common.ErrUnauthorized, "instance %v is owned by %q, not %q", tx.Contract, cur.Owner, tx.Source)
	}
	cur, err = state.instance(tx.Contract)
	if err != nil {
		return err
	}
	cur.Status = ledger.Archived
	return nil
}

// asFailure converts errors of the runtime and the ledger into failures
// carrying one of the public error kinds.
func asFailure(err error) error {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}
	switch {
	case errors.Is(err, runtime.ErrExhausted):
		return &Failure{Kind: common.ErrResourceExhausted, Cause: err.Error()}
	case errors.Is(err, runtime.ErrUnknownFunction):
		return &Failure{Kind: common.ErrUnknownFunction, Cause: err.Error()}
	case errors.Is(err, runtime.ErrTrap), errors.Is(err, runtime.ErrReverted):
		return &Failure{Kind: common.ErrExecutionFailed, Cause: err.Error()}
	case errors.Is(err, ledger.ErrClosed):
		return err
	}
	if kind, found := common.ParseKind(common.KindOf(err)); found {
		return &Failure{Kind: kind, Cause: strings.TrimPrefix(err.Error(), kind.Error()+": ")}
	}
	return &Failure{Kind: common.ErrExecutionFailed, Cause: err.Error()}
}
